// Package rpc expose les services du cœur en request-reply NATS.
// Chaque opération a son sujet (rpc.relation.*, rpc.chat.*) ; requête et
// réponse sont des enveloppes JSON, le trace-id circule dans les headers.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cercle/internal/core/domain"
	"github.com/jupiterclapton/cercle/internal/core/ports"
)

const handleTimeout = 10 * time.Second

// Server dispatche les sujets rpc.> vers les services du cœur.
type Server struct {
	relations     ports.RelationshipService
	conversations ports.ConversationService
	subs          []*nats.Subscription
}

func NewServer(relations ports.RelationshipService, conversations ports.ConversationService) *Server {
	return &Server{relations: relations, conversations: conversations}
}

// --- ENVELOPPES ---

// Response est l'enveloppe commune. Code suit la taxonomie du domaine
// (NOT_FOUND, CONFLICT, FORBIDDEN, INVALID, BLOCKED, INTERNAL).
type Response struct {
	OK    bool            `json:"ok"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type pairRequest struct {
	Actor  string `json:"actor"`
	Target string `json:"target"`
}

type requestIDRequest struct {
	RequestID string `json:"request_id"`
	Actor     string `json:"actor"`
}

type refRequest struct {
	Ref string `json:"ref"`
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
	Actor          string `json:"actor"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
}

type deleteMessageRequest struct {
	MessageID string `json:"message_id"`
	Actor     string `json:"actor"`
}

type listMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Actor          string `json:"actor"`
	Limit          int    `json:"limit"`
	Cursor         string `json:"cursor"`
}

type listMessagesResponse struct {
	Messages   []*domain.Message `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type unreadTotalResponse struct {
	Total int `json:"total"`
}

type markedResponse struct {
	Marked bool `json:"marked"`
}

// Register abonne toutes les opérations sur la connexion partagée.
// Queue group = load balancing entre les replicas du service.
func (s *Server) Register(nc *nats.Conn, queue string) error {
	handlers := map[string]func(ctx context.Context, data []byte) (any, error){
		// Graphe relationnel
		"rpc.relation.request.send":     s.sendFriendRequest,
		"rpc.relation.request.accept":   s.acceptFriendRequest,
		"rpc.relation.request.reject":   s.rejectFriendRequest,
		"rpc.relation.request.cancel":   s.cancelFriendRequest,
		"rpc.relation.friend.remove":    s.removeFriend,
		"rpc.relation.block":            s.blockUser,
		"rpc.relation.unblock":          s.unblockUser,
		"rpc.relation.follow":           s.follow,
		"rpc.relation.unfollow":         s.unfollow,
		"rpc.relation.friends.list":     s.getFriends,
		"rpc.relation.requests.pending": s.getPendingRequests,
		"rpc.relation.status":           s.checkRelation,

		// Ledger de conversations
		"rpc.chat.conversation.start":  s.startConversation,
		"rpc.chat.message.send":        s.sendMessage,
		"rpc.chat.conversation.read":   s.markAsRead,
		"rpc.chat.conversation.delete": s.deleteConversation,
		"rpc.chat.message.delete":      s.deleteMessage,
		"rpc.chat.messages.list":       s.listMessages,
		"rpc.chat.conversations.list":  s.listConversations,
		"rpc.chat.unread.total":        s.unreadTotal,
	}

	for subject, handler := range handlers {
		sub, err := nc.QueueSubscribe(subject, queue, s.wrap(subject, handler))
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}

	// Followers en streaming : un paquet par message de réponse, paquet vide
	// en terminateur (le fan-out du feed peut compter des millions d'arêtes).
	sub, err := nc.QueueSubscribe("rpc.relation.followers.stream", queue, s.streamFollowers)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Drain laisse finir les requêtes en vol puis désabonne tout.
func (s *Server) Drain() {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			slog.Warn("rpc drain failed", "subject", sub.Subject, "error", err)
		}
	}
}

// wrap factorise trace, timeout, décodage et enveloppe de réponse.
func (s *Server) wrap(subject string, handler func(ctx context.Context, data []byte) (any, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		ctx, span := otel.Tracer("cercle-core").Start(ctx, subject, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		result, err := handler(ctx, msg.Data)
		if err != nil {
			span.RecordError(err)
			s.reply(msg, errorResponse(err))
			return
		}

		data, err := json.Marshal(result)
		if err != nil {
			span.RecordError(err)
			s.reply(msg, errorResponse(err))
			return
		}
		s.reply(msg, Response{OK: true, Data: data})
	}
}

func (s *Server) reply(msg *nats.Msg, resp Response) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("rpc reply marshal failed", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("rpc reply failed", "subject", msg.Subject, "error", err)
	}
}

// --- HANDLERS RELATION ---

func (s *Server) sendFriendRequest(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.relations.SendFriendRequest(ctx, req.Actor, req.Target)
}

func (s *Server) acceptFriendRequest(ctx context.Context, data []byte) (any, error) {
	var req requestIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.relations.AcceptFriendRequest(ctx, req.RequestID, req.Actor)
}

func (s *Server) rejectFriendRequest(ctx context.Context, data []byte) (any, error) {
	var req requestIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.relations.RejectFriendRequest(ctx, req.RequestID, req.Actor)
}

func (s *Server) cancelFriendRequest(ctx context.Context, data []byte) (any, error) {
	var req requestIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.relations.CancelFriendRequest(ctx, req.RequestID, req.Actor)
}

func (s *Server) removeFriend(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.relations.RemoveFriend(ctx, req.Actor, req.Target)
}

func (s *Server) blockUser(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.relations.BlockUser(ctx, req.Actor, req.Target)
}

func (s *Server) unblockUser(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.relations.UnblockUser(ctx, req.Actor, req.Target)
}

func (s *Server) follow(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.relations.Follow(ctx, req.Actor, req.Target)
}

func (s *Server) unfollow(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.relations.Unfollow(ctx, req.Actor, req.Target)
}

func (s *Server) getFriends(ctx context.Context, data []byte) (any, error) {
	var req refRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.relations.GetFriends(ctx, req.Ref)
}

func (s *Server) getPendingRequests(ctx context.Context, data []byte) (any, error) {
	var req refRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.relations.GetPendingRequests(ctx, req.Ref)
}

func (s *Server) checkRelation(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.relations.CheckRelation(ctx, req.Actor, req.Target)
}

func (s *Server) streamFollowers(msg *nats.Msg) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
	ctx, span := otel.Tracer("cercle-core").Start(ctx, "rpc.relation.followers.stream", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	var req refRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, errorResponse(errBadPayload))
		return
	}

	err := s.relations.StreamFollowers(ctx, req.Ref, 500, func(batch []string) error {
		data, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		return msg.Respond(data)
	})
	if err != nil {
		span.RecordError(err)
		s.reply(msg, errorResponse(err))
		return
	}

	// Terminateur : paquet vide = fin du stream
	_ = msg.Respond([]byte("[]"))
}

// --- HANDLERS CHAT ---

func (s *Server) startConversation(ctx context.Context, data []byte) (any, error) {
	var req pairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.conversations.StartConversation(ctx, req.Actor, req.Target)
}

func (s *Server) sendMessage(ctx context.Context, data []byte) (any, error) {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.conversations.SendMessage(ctx, req.ConversationID, req.Sender, req.Text)
}

func (s *Server) markAsRead(ctx context.Context, data []byte) (any, error) {
	var req conversationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	if err := s.conversations.MarkAsRead(ctx, req.ConversationID, req.Actor); err != nil {
		return nil, err
	}
	return markedResponse{Marked: true}, nil
}

func (s *Server) deleteConversation(ctx context.Context, data []byte) (any, error) {
	var req conversationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.conversations.DeleteConversation(ctx, req.ConversationID, req.Actor)
}

func (s *Server) deleteMessage(ctx context.Context, data []byte) (any, error) {
	var req deleteMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return nil, s.conversations.DeleteMessage(ctx, req.MessageID, req.Actor)
}

func (s *Server) listMessages(ctx context.Context, data []byte) (any, error) {
	var req listMessagesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	msgs, next, err := s.conversations.ListMessages(ctx, req.ConversationID, req.Actor, req.Limit, req.Cursor)
	if err != nil {
		return nil, err
	}
	return listMessagesResponse{Messages: msgs, NextCursor: next}, nil
}

func (s *Server) listConversations(ctx context.Context, data []byte) (any, error) {
	var req refRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	return s.conversations.ListConversations(ctx, req.Ref)
}

func (s *Server) unreadTotal(ctx context.Context, data []byte) (any, error) {
	var req refRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errBadPayload
	}
	total, err := s.conversations.UnreadTotal(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	return unreadTotalResponse{Total: total}, nil
}

// --- MAPPING D'ERREURS ---

var errBadPayload = errors.New("invalid request payload")

func errorResponse(err error) Response {
	return Response{OK: false, Code: codeFor(err), Error: err.Error()}
}

// codeFor traduit les sentinelles du domaine vers les codes du protocole.
func codeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrRequestNotFound),
		errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrNotFriends),
		errors.Is(err, domain.ErrNotFollowing),
		errors.Is(err, domain.ErrNotBlocked):
		return "NOT_FOUND"

	case errors.Is(err, domain.ErrSelfRelation),
		errors.Is(err, domain.ErrRequestExists),
		errors.Is(err, domain.ErrAlreadyFriends),
		errors.Is(err, domain.ErrAlreadyFollowing),
		errors.Is(err, domain.ErrAlreadyBlocked),
		errors.Is(err, domain.ErrAccountExists):
		return "CONFLICT"

	case errors.Is(err, domain.ErrNotParticipant):
		return "FORBIDDEN"

	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrInvalidAlias),
		errors.Is(err, errBadPayload):
		return "INVALID"

	case errors.Is(err, domain.ErrBlocked):
		return "BLOCKED"

	default:
		return "INTERNAL"
	}
}
