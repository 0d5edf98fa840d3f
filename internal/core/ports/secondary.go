package ports

import (
	"context"
	"time"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// --- PERSISTANCE (DB) ---

// AccountRepository est le port Driven vers la table des comptes (Postgres).
type AccountRepository interface {
	Save(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByAlias(ctx context.Context, alias string) (*domain.Account, error)
}

// GraphRepository est le port Driven vers le graphe relationnel (Neo4j).
//
// IMPORTANT : chaque mutation est une transaction d'écriture UNIQUE côté
// storage. L'unicité des arêtes et le collapse mutuel ne reposent JAMAIS sur
// un read-then-write applicatif (sinon deux requêtes concurrentes créent des
// arêtes en double).
type GraphRepository interface {
	// EnsureSchema crée contraintes et index (idempotent).
	EnsureSchema(ctx context.Context) error

	// SendFriendRequest applique la machine à états de la paire en une tx :
	//   - arête acceptée existante        -> ErrAlreadyFriends
	//   - pending même direction          -> ErrRequestExists
	//   - blocage dans un sens ou l'autre -> ErrBlocked
	//   - pending direction INVERSE       -> collapse : l'arête existante passe
	//     à accepted et est retournée (aucune nouvelle arête)
	//   - sinon                           -> création de l'arête pending
	SendFriendRequest(ctx context.Context, edge *domain.FriendEdge) (*domain.FriendEdge, error)

	// AcceptFriendRequest ne réussit que si actorID est le destinataire d'une
	// arête pending. Sinon ErrRequestNotFound (fusion introuvable/non autorisé).
	AcceptFriendRequest(ctx context.Context, requestID, actorID string) (*domain.FriendEdge, error)

	// Reject (destinataire) et Cancel (demandeur) suppriment l'arête.
	// Rejouables sans danger : un second appel rapporte ErrRequestNotFound.
	RejectFriendRequest(ctx context.Context, requestID, actorID string) error
	CancelFriendRequest(ctx context.Context, requestID, actorID string) error

	// RemoveFriend supprime l'arête acceptée quelle que soit sa direction
	// d'origine (l'amitié est symétrique une fois acceptée).
	RemoveFriend(ctx context.Context, a, b string) error

	// Block ajoute l'entrée et CASCADE la suppression de toute arête d'amitié
	// (pending ou accepted) de la paire, dans la même tx.
	// Déjà bloqué -> ErrAlreadyBlocked (choix de policy documenté).
	Block(ctx context.Context, entry *domain.BlockEntry) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
	HasBlock(ctx context.Context, a, b string) (bool, error)

	// Follows : duplicat -> ErrAlreadyFollowing ; absent -> ErrNotFollowing.
	Follow(ctx context.Context, followerID, followeeID string, at time.Time) error
	Unfollow(ctx context.Context, followerID, followeeID string) error

	// Lectures
	FriendIDs(ctx context.Context, accountID string) ([]string, error)
	PendingRequests(ctx context.Context, recipientID string) ([]*domain.FriendEdge, error)
	RelationStatus(ctx context.Context, actorID, targetID string) (*domain.RelationStatus, error)
	StreamFollowerIDs(ctx context.Context, accountID string, batchSize int, yield func([]string) error) error
}

// BlockChecker est la vue en lecture seule du graphe consommée par le ledger
// de conversations (enforcement des blocages avant création/envoi).
type BlockChecker interface {
	HasBlock(ctx context.Context, a, b string) (bool, error)
}

// ConversationRepository est le port Driven vers le ledger (Postgres).
//
// Les compteurs non-lus sont incrémentés/remis à zéro par des statements SQL
// atomiques (unread_count = unread_count + 1) DANS la transaction du message,
// jamais par read-modify-write applicatif.
type ConversationRepository interface {
	EnsureSchema(ctx context.Context) error

	// CreateOrReactivate : insert-or-fail via l'index unique sur la paire
	// canonique (lo, hi). Si le fil existe (même soft-deleted), il est
	// retourné/réactivé — jamais de second fil pour la même paire.
	CreateOrReactivate(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)

	GetByID(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// AppendMessage : insert + maj lastMessage + incrément atomique des
	// compteurs des participants ≠ expéditeur, en une seule tx.
	// Renvoie le Seq attribué.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// MarkRead : accusés de lecture pour tous les messages étrangers non lus
	// + remise à zéro du compteur, en une seule tx. Renvoie le nb marqué.
	MarkRead(ctx context.Context, conversationID, accountID string, at time.Time) (int, error)

	// Deactivate : soft delete. L'historique est conservé.
	Deactivate(ctx context.Context, conversationID string) error

	// DeleteMessage supprime un message de son expéditeur et recalcule les
	// compteurs affectés depuis le ledger (le compteur est un cache).
	DeleteMessage(ctx context.Context, messageID, senderID string) (*domain.Message, error)

	// RecomputeUnread rebâtit le compteur d'un participant depuis les messages
	// (réconciliation en cas de dérive). Renvoie la valeur recalculée.
	RecomputeUnread(ctx context.Context, conversationID, accountID string) (int, error)

	// Lectures
	ListMessages(ctx context.Context, conversationID string, limit int, before time.Time, beforeSeq int64) ([]*domain.Message, error)
	ListByParticipant(ctx context.Context, accountID string) ([]*domain.Conversation, error)
	UnreadCounts(ctx context.Context, accountID string) (map[string]int, error)
}

// --- CACHE (REDIS) ---

// UnreadCache est le cache best-effort des compteurs non-lus (badge UI).
// Postgres reste la source de vérité : un miss ou une dérive se répare par
// UnreadCounts + Fill.
type UnreadCache interface {
	Increment(ctx context.Context, accountID, conversationID string, delta int) error
	Reset(ctx context.Context, accountID, conversationID string) error

	// Totals renvoie ok=false si le cache est froid pour ce compte.
	Totals(ctx context.Context, accountID string) (map[string]int, bool, error)
	Fill(ctx context.Context, accountID string, counts map[string]int) error
}

// --- MESSAGERIE (BROKER) ---

// RelationEventPublisher notifie les autres services (feed, notif) des
// mutations du graphe. Best effort : jamais bloquant pour l'appelant.
type RelationEventPublisher interface {
	PublishRequestSent(ctx context.Context, edge *domain.FriendEdge) error
	PublishRequestAccepted(ctx context.Context, edge *domain.FriendEdge) error
	PublishFriendRemoved(ctx context.Context, a, b string) error
	PublishUserBlocked(ctx context.Context, blockerID, blockedID string) error
	PublishFollowed(ctx context.Context, followerID, followeeID string) error
	PublishUnfollowed(ctx context.Context, followerID, followeeID string) error
}

// ChatEventPublisher notifie les mutations du ledger de conversations.
type ChatEventPublisher interface {
	PublishConversationStarted(ctx context.Context, conv *domain.Conversation) error
	PublishMessageSent(ctx context.Context, msg *domain.Message) error
	PublishConversationRead(ctx context.Context, conversationID, accountID string) error
	PublishMessageDeleted(ctx context.Context, conversationID, messageID string) error
}
