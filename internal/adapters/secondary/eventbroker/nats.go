package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

const (
	RelationStream  = "RELATION"
	RelationSubject = "relation.>"
	ChatStream      = "CHAT"
	ChatSubject     = "chat.>"
)

// NatsBroker publie les événements du graphe et du ledger sur JetStream.
// Contract implicite avec les consommateurs (feed, notification) : sujets
// relation.* et chat.*, payload JSON, trace-id dans les headers NATS.
type NatsBroker struct {
	js jetstream.JetStream
}

// NewNatsBroker initialise la connexion et s'assure que les Streams existent
// (idempotent).
func NewNatsBroker(url string) (*NatsBroker, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNatsBrokerWithConn(nc)
}

// NewNatsBrokerWithConn réutilise une connexion existante (partagée avec le
// consumer d'events dans le main).
func NewNatsBrokerWithConn(nc *nats.Conn) (*NatsBroker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streams := []jetstream.StreamConfig{
		{Name: RelationStream, Subjects: []string{RelationSubject}, Storage: jetstream.FileStorage, Replicas: 1},
		{Name: ChatStream, Subjects: []string{ChatSubject}, Storage: jetstream.FileStorage, Replicas: 1},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return nil, fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}

	return &NatsBroker{js: js}, nil
}

// --- PAYLOADS (pourraient être générés par Protobuf) ---

type FriendRequestEvent struct {
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	RecipientID string    `json:"recipient_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type PairEvent struct {
	AccountA string `json:"account_a"`
	AccountB string `json:"account_b"`
}

type ConversationStartedEvent struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantLo  string    `json:"participant_lo"`
	ParticipantHi  string    `json:"participant_hi"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConversationReadEvent struct {
	ConversationID string `json:"conversation_id"`
	AccountID      string `json:"account_id"`
}

type MessageDeletedEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// --- PUBLICATION RELATION ---

func (n *NatsBroker) PublishRequestSent(ctx context.Context, edge *domain.FriendEdge) error {
	return n.publish(ctx, "relation.request.sent", FriendRequestEvent{
		RequestID:   edge.ID,
		RequesterID: edge.Requester,
		RecipientID: edge.Recipient,
		CreatedAt:   edge.CreatedAt,
	})
}

func (n *NatsBroker) PublishRequestAccepted(ctx context.Context, edge *domain.FriendEdge) error {
	return n.publish(ctx, "relation.request.accepted", FriendRequestEvent{
		RequestID:   edge.ID,
		RequesterID: edge.Requester,
		RecipientID: edge.Recipient,
		CreatedAt:   edge.CreatedAt,
	})
}

func (n *NatsBroker) PublishFriendRemoved(ctx context.Context, a, b string) error {
	return n.publish(ctx, "relation.friend.removed", PairEvent{AccountA: a, AccountB: b})
}

func (n *NatsBroker) PublishUserBlocked(ctx context.Context, blockerID, blockedID string) error {
	return n.publish(ctx, "relation.user.blocked", PairEvent{AccountA: blockerID, AccountB: blockedID})
}

func (n *NatsBroker) PublishFollowed(ctx context.Context, followerID, followeeID string) error {
	return n.publish(ctx, "relation.followed", PairEvent{AccountA: followerID, AccountB: followeeID})
}

func (n *NatsBroker) PublishUnfollowed(ctx context.Context, followerID, followeeID string) error {
	return n.publish(ctx, "relation.unfollowed", PairEvent{AccountA: followerID, AccountB: followeeID})
}

// --- PUBLICATION CHAT ---

func (n *NatsBroker) PublishConversationStarted(ctx context.Context, conv *domain.Conversation) error {
	return n.publish(ctx, "chat.conversation.started", ConversationStartedEvent{
		ConversationID: conv.ID,
		ParticipantLo:  conv.ParticipantLo,
		ParticipantHi:  conv.ParticipantHi,
		CreatedAt:      conv.CreatedAt,
	})
}

func (n *NatsBroker) PublishMessageSent(ctx context.Context, msg *domain.Message) error {
	return n.publish(ctx, "chat.message.sent", MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		CreatedAt:      msg.CreatedAt,
	})
}

func (n *NatsBroker) PublishConversationRead(ctx context.Context, conversationID, accountID string) error {
	return n.publish(ctx, "chat.conversation.read", ConversationReadEvent{
		ConversationID: conversationID,
		AccountID:      accountID,
	})
}

func (n *NatsBroker) PublishMessageDeleted(ctx context.Context, conversationID, messageID string) error {
	return n.publish(ctx, "chat.message.deleted", MessageDeletedEvent{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// --- HELPERS ---

func (n *NatsBroker) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	// Injection du trace-id dans les headers NATS : le consumer (feed, notif)
	// hérite du TraceID de la requête d'origine.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	// JetStream garantit que le serveur a bien reçu et persisté le message
	ack, err := n.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	_ = ack

	return nil
}
