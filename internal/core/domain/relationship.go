package domain

import (
	"time"

	"github.com/google/uuid"
)

// FriendStatus est le tag d'état d'une relation dirigée.
// Les amitiés suivent none -> pending -> accepted ; les follows n'ont pas
// d'état intermédiaire (existence = actif), c'est la variante "sans pending"
// de la même abstraction.
type FriendStatus string

const (
	StatusNone     FriendStatus = "none"
	StatusPending  FriendStatus = "pending"
	StatusAccepted FriendStatus = "accepted"
)

// FriendEdge représente l'unique arête d'amitié d'une paire de comptes.
// Invariant : au plus UNE arête (pending ou accepted) par paire non ordonnée ;
// les refus et annulations suppriment l'arête au lieu de la conserver.
type FriendEdge struct {
	ID        string // UUID de la demande, stable à travers le collapse
	Requester string // Celui qui a envoyé la demande
	Recipient string // Celui qui la reçoit (seul habilité à accepter/refuser)
	Status    FriendStatus
	CreatedAt time.Time
	Since     time.Time // Date d'acceptation (zéro tant que pending)
}

// NewFriendRequest crée une arête pending prête à être insérée.
func NewFriendRequest(requester, recipient string) *FriendEdge {
	return &FriendEdge{
		ID:        uuid.NewString(),
		Requester: requester,
		Recipient: recipient,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Accept fait transitionner l'arête vers accepted.
func (e *FriendEdge) Accept() {
	e.Status = StatusAccepted
	e.Since = time.Now().UTC()
}

// BlockEntry : blockedBy -> blocked. Sa présence supprime les arêtes d'amitié
// de la paire (cascade explicite, voir GraphRepository.Block) et doit être
// consultée avant toute conversation/message entre les deux comptes.
type BlockEntry struct {
	Blocker   string
	Blocked   string
	CreatedAt time.Time
}

func NewBlockEntry(blocker, blocked string) *BlockEntry {
	return &BlockEntry{
		Blocker:   blocker,
		Blocked:   blocked,
		CreatedAt: time.Now().UTC(),
	}
}

// RelationStatus est la vue agrégée d'une paire, utilisée par l'UI.
type RelationStatus struct {
	Friendship   FriendStatus // none / pending / accepted
	PendingFrom  string       // Qui a initié la demande en cours ("" si aucune)
	IsFollowing  bool         // Actor suit Target
	IsFollowedBy bool         // Target suit Actor
	IsBlocked    bool         // Un blocage existe (dans un sens ou l'autre)
}
