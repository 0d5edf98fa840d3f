package memory

import (
	"context"
	"sync"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// EventRecorder enregistre les publications au lieu de les envoyer sur NATS.
// Les tests vérifient les sujets émis (et leur absence : pas de request.sent
// lors d'un collapse mutuel, par exemple).
type EventRecorder struct {
	mu       sync.Mutex
	Subjects []string
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) record(subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Subjects = append(r.Subjects, subject)
	return nil
}

// Recorded retourne une copie des sujets publiés, dans l'ordre.
func (r *EventRecorder) Recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Subjects...)
}

// --- RelationEventPublisher ---

func (r *EventRecorder) PublishRequestSent(ctx context.Context, edge *domain.FriendEdge) error {
	return r.record("relation.request.sent")
}

func (r *EventRecorder) PublishRequestAccepted(ctx context.Context, edge *domain.FriendEdge) error {
	return r.record("relation.request.accepted")
}

func (r *EventRecorder) PublishFriendRemoved(ctx context.Context, a, b string) error {
	return r.record("relation.friend.removed")
}

func (r *EventRecorder) PublishUserBlocked(ctx context.Context, blockerID, blockedID string) error {
	return r.record("relation.user.blocked")
}

func (r *EventRecorder) PublishFollowed(ctx context.Context, followerID, followeeID string) error {
	return r.record("relation.followed")
}

func (r *EventRecorder) PublishUnfollowed(ctx context.Context, followerID, followeeID string) error {
	return r.record("relation.unfollowed")
}

// --- ChatEventPublisher ---

func (r *EventRecorder) PublishConversationStarted(ctx context.Context, conv *domain.Conversation) error {
	return r.record("chat.conversation.started")
}

func (r *EventRecorder) PublishMessageSent(ctx context.Context, msg *domain.Message) error {
	return r.record("chat.message.sent")
}

func (r *EventRecorder) PublishConversationRead(ctx context.Context, conversationID, accountID string) error {
	return r.record("chat.conversation.read")
}

func (r *EventRecorder) PublishMessageDeleted(ctx context.Context, conversationID, messageID string) error {
	return r.record("chat.message.deleted")
}
