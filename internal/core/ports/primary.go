package ports

import (
	"context"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// --- INPUTS (Command Pattern) ---
// Des structs plutôt que des listes d'arguments : on pourra ajouter des champs
// optionnels plus tard sans casser la signature.

type ProvisionAccountCmd struct {
	ID          string // Handle canonique fourni par le service d'identité
	Alias       string
	DisplayName string
}

// --- PORTS PRIMAIRES (Driving) ---
// L'API que l'hexagone expose au monde extérieur (events NATS, gRPC, CLI).
// Toute référence de compte (ref) peut être le handle canonique OU l'alias :
// la résolution se fait UNE fois en bordure, le cœur ne voit que des handles.

// IdentityResolver mappe une référence externe vers le handle canonique.
type IdentityResolver interface {
	Resolve(ctx context.Context, ref string) (*domain.Account, error)

	// Provision crée la projection locale d'un compte (consommé par l'adapter
	// d'events identity.user.registered). Idempotent sur rejeu.
	Provision(ctx context.Context, cmd ProvisionAccountCmd) (*domain.Account, error)
}

// RelationshipService possède les arêtes du graphe social : demandes d'amitié,
// follows et blocages.
type RelationshipService interface {
	// Amitiés (none -> pending -> accepted, avec collapse mutuel)
	SendFriendRequest(ctx context.Context, requesterRef, recipientRef string) (*domain.FriendEdge, error)
	AcceptFriendRequest(ctx context.Context, requestID, actorRef string) (*domain.FriendEdge, error)
	RejectFriendRequest(ctx context.Context, requestID, actorRef string) error
	CancelFriendRequest(ctx context.Context, requestID, actorRef string) error
	RemoveFriend(ctx context.Context, actorRef, friendRef string) error

	// Blocages
	BlockUser(ctx context.Context, blockerRef, targetRef string) error
	UnblockUser(ctx context.Context, blockerRef, targetRef string) error

	// Follows (variante sans état pending)
	Follow(ctx context.Context, followerRef, followeeRef string) error
	Unfollow(ctx context.Context, followerRef, followeeRef string) error

	// Lectures
	GetFriends(ctx context.Context, ref string) ([]string, error)
	GetPendingRequests(ctx context.Context, ref string) ([]*domain.FriendEdge, error)
	CheckRelation(ctx context.Context, actorRef, targetRef string) (*domain.RelationStatus, error)

	// StreamFollowers est crucial pour le fan-out des collaborateurs (feed).
	// Il renvoie les followers par paquets via le callback 'yield'.
	StreamFollowers(ctx context.Context, ref string, batchSize int, yield func([]string) error) error
}

// ConversationService possède le ledger : conversations, messages et
// compteurs non-lus par participant.
type ConversationService interface {
	// StartConversation trouve ou crée LE fil de la paire (lookup symétrique).
	StartConversation(ctx context.Context, aRef, bRef string) (*domain.Conversation, error)

	SendMessage(ctx context.Context, conversationID, senderRef, text string) (*domain.Message, error)
	MarkAsRead(ctx context.Context, conversationID, actorRef string) error
	DeleteConversation(ctx context.Context, conversationID, actorRef string) error
	DeleteMessage(ctx context.Context, messageID, actorRef string) error

	// Lectures (pagination keyset, du plus récent au plus ancien)
	ListMessages(ctx context.Context, conversationID, actorRef string, limit int, cursor string) ([]*domain.Message, string, error)
	ListConversations(ctx context.Context, actorRef string) ([]*domain.Conversation, error)
	UnreadTotal(ctx context.Context, actorRef string) (int, error)
}
