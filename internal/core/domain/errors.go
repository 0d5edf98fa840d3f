package domain

import "errors"

// --- ERREURS DU DOMAINE ---
// Taxonomie : NotFound / Conflict / Forbidden / Validation / Blocked.
// Les adapters traduisent les erreurs techniques (pgx, neo4j, redis) vers ces
// sentinelles ; la couche de présentation les mappe ensuite vers ses codes.

var (
	// NotFound.
	// Note: "introuvable" et "pas autorisé à voir" sont volontairement fusionnés
	// pour ne pas fuiter l'existence d'une ressource à un non-participant.
	ErrAccountNotFound      = errors.New("account not found")
	ErrRequestNotFound      = errors.New("friend request not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotFriends           = errors.New("accounts are not friends")
	ErrNotFollowing         = errors.New("not following this account")
	ErrNotBlocked           = errors.New("account is not blocked")

	// Conflict — l'état demandé existe déjà, ou relation avec soi-même.
	ErrSelfRelation     = errors.New("cannot create a relation with yourself")
	ErrRequestExists    = errors.New("friend request already pending")
	ErrAlreadyFriends   = errors.New("accounts are already friends")
	ErrAlreadyFollowing = errors.New("already following this account")
	ErrAlreadyBlocked   = errors.New("account is already blocked")
	ErrAccountExists    = errors.New("account already exists")

	// Forbidden — authentifié mais pas participant de la ressource visée.
	ErrNotParticipant = errors.New("not a participant of this conversation")

	// Validation.
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text exceeds the maximum length")
	ErrInvalidAlias   = errors.New("alias must be at least 3 characters")

	// Blocked — un blocage (dans un sens ou l'autre) empêche l'interaction.
	ErrBlocked = errors.New("interaction blocked between these accounts")
)
