package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jupiterclapton/cercle/internal/core/domain"
	"github.com/jupiterclapton/cercle/internal/core/ports"
)

// DefaultPageSize borne la pagination des messages.
const DefaultPageSize = 50

// ConversationService implémente ports.ConversationService.
//
// Le repo Postgres est la source de vérité (messages, accusés de lecture,
// compteurs) ; le cache Redis ne sert que le badge non-lu et se répare tout
// seul. Avant toute création de fil ou envoi de message, le service interroge
// le graphe relationnel (BlockChecker) : un blocage dans un sens ou l'autre
// fait échouer avec ErrBlocked.
type ConversationService struct {
	resolver ports.IdentityResolver
	repo     ports.ConversationRepository
	blocks   ports.BlockChecker
	cache    ports.UnreadCache
	broker   ports.ChatEventPublisher

	maxMessageRunes int
}

func NewConversationService(
	resolver ports.IdentityResolver,
	repo ports.ConversationRepository,
	blocks ports.BlockChecker,
	cache ports.UnreadCache,
	broker ports.ChatEventPublisher,
	maxMessageRunes int,
) *ConversationService {
	return &ConversationService{
		resolver:        resolver,
		repo:            repo,
		blocks:          blocks,
		cache:           cache,
		broker:          broker,
		maxMessageRunes: maxMessageRunes,
	}
}

// --- CYCLE DE VIE DU FIL ---

func (s *ConversationService) StartConversation(ctx context.Context, aRef, bRef string) (*domain.Conversation, error) {
	a, err := s.resolver.Resolve(ctx, aRef)
	if err != nil {
		return nil, err
	}
	b, err := s.resolver.Resolve(ctx, bRef)
	if err != nil {
		return nil, err
	}
	if a.ID == b.ID {
		return nil, domain.ErrSelfRelation
	}

	// Cross-composant : le ledger consulte le graphe AVANT de créer le fil.
	blocked, err := s.blocks.HasBlock(ctx, a.ID, b.ID)
	if err != nil {
		return nil, fmt.Errorf("block lookup failed: %w", err)
	}
	if blocked {
		return nil, domain.ErrBlocked
	}

	// L'unicité de la paire est garantie par l'index unique (lo, hi) côté DB :
	// deux StartConversation concurrents retombent sur le même fil.
	// Un fil soft-deleted est réactivé, jamais dupliqué.
	conv, err := s.repo.CreateOrReactivate(ctx, domain.NewConversation(a.ID, b.ID))
	if err != nil {
		return nil, err
	}

	// Réactivation d'un fil qui portait encore des non-lus : ils redeviennent
	// visibles dans la source de vérité, le badge doit suivre.
	if conv.Unread[conv.ParticipantLo] > 0 || conv.Unread[conv.ParticipantHi] > 0 {
		s.syncUnreadCache(ctx, conv.ParticipantLo, conv.ParticipantHi)
	}

	if err := s.broker.PublishConversationStarted(ctx, conv); err != nil {
		slog.Warn("publish conversation.started failed", "conversation_id", conv.ID, "error", err)
	}
	return conv, nil
}

func (s *ConversationService) DeleteConversation(ctx context.Context, conversationID, actorRef string) error {
	conv, _, err := s.loadForParticipant(ctx, conversationID, actorRef)
	if err != nil {
		return err
	}

	// Soft delete uniquement : l'historique reste pour audit/restauration.
	// La "suppression" d'un fil ne supprime AUCUN message (cascade explicite
	// dans le contrat, pas de hook caché côté storage).
	if err := s.repo.Deactivate(ctx, conv.ID); err != nil {
		return err
	}

	// Le fil sort de la source de vérité (UnreadCounts filtre is_active) : un
	// badge chaud qui le compte encore ne se réparerait jamais tout seul.
	s.syncUnreadCache(ctx, conv.ParticipantLo, conv.ParticipantHi)
	return nil
}

// --- MESSAGES ---

func (s *ConversationService) SendMessage(ctx context.Context, conversationID, senderRef, text string) (*domain.Message, error) {
	conv, sender, err := s.loadForParticipant(ctx, conversationID, senderRef)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		// Un fil soft-deleted n'accepte plus de messages : il faut repasser
		// par StartConversation (réactivation).
		return nil, domain.ErrConversationNotFound
	}

	blocked, err := s.blocks.HasBlock(ctx, conv.ParticipantLo, conv.ParticipantHi)
	if err != nil {
		return nil, fmt.Errorf("block lookup failed: %w", err)
	}
	if blocked {
		return nil, domain.ErrBlocked
	}

	msg, err := domain.NewMessage(conv.ID, sender.ID, text, s.maxMessageRunes)
	if err != nil {
		return nil, err
	}

	// Insert + lastMessage + incrément des compteurs : une seule tx côté repo.
	// Deux envois simultanés ne perdent jamais d'incrément (SQL "+ 1").
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	// Cache best effort : une erreur Redis n'annule pas un message commité.
	if err := s.cache.Increment(ctx, conv.Other(sender.ID), conv.ID, 1); err != nil {
		slog.Warn("unread cache increment failed", "conversation_id", conv.ID, "error", err)
	}

	if err := s.broker.PublishMessageSent(ctx, msg); err != nil {
		slog.Warn("publish message.sent failed", "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

func (s *ConversationService) MarkAsRead(ctx context.Context, conversationID, actorRef string) error {
	conv, actor, err := s.loadForParticipant(ctx, conversationID, actorRef)
	if err != nil {
		return err
	}

	// Accusés + remise à zéro en une tx : pas d'état intermédiaire visible.
	// Les messages envoyés APRÈS ce point restent non lus (on marque l'état
	// du ledger au moment de l'exécution, pas le futur).
	marked, err := s.repo.MarkRead(ctx, conv.ID, actor.ID, time.Now().UTC())
	if err != nil {
		return err
	}

	if err := s.cache.Reset(ctx, actor.ID, conv.ID); err != nil {
		slog.Warn("unread cache reset failed", "conversation_id", conv.ID, "error", err)
	}

	if marked > 0 {
		if err := s.broker.PublishConversationRead(ctx, conv.ID, actor.ID); err != nil {
			slog.Warn("publish conversation.read failed", "conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}

func (s *ConversationService) DeleteMessage(ctx context.Context, messageID, actorRef string) error {
	actor, err := s.resolver.Resolve(ctx, actorRef)
	if err != nil {
		return err
	}

	// Seul l'expéditeur peut supprimer son message ; pour les autres, le
	// message "n'existe pas" (même fusion que pour les demandes d'amitié).
	// Le repo recalcule les compteurs affectés depuis le ledger.
	msg, err := s.repo.DeleteMessage(ctx, messageID, actor.ID)
	if err != nil {
		return err
	}

	// Le cache de l'autre participant est invalide : on le resynchronise
	// depuis la source de vérité.
	s.refreshCache(ctx, msg.ConversationID)

	if err := s.broker.PublishMessageDeleted(ctx, msg.ConversationID, msg.ID); err != nil {
		slog.Warn("publish message.deleted failed", "message_id", msg.ID, "error", err)
	}
	return nil
}

// --- LECTURES ---

func (s *ConversationService) ListMessages(ctx context.Context, conversationID, actorRef string, limit int, cursor string) ([]*domain.Message, string, error) {
	conv, _, err := s.loadForParticipant(ctx, conversationID, actorRef)
	if err != nil {
		return nil, "", err
	}

	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}

	// Pagination keyset (created_at, seq) — pas d'OFFSET qui s'écroule sur les
	// vieux fils. Le curseur encode la position du dernier message vu.
	before, beforeSeq, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	msgs, err := s.repo.ListMessages(ctx, conv.ID, limit, before, beforeSeq)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.Seq)
	}
	return msgs, nextCursor, nil
}

func (s *ConversationService) ListConversations(ctx context.Context, actorRef string) ([]*domain.Conversation, error) {
	actor, err := s.resolver.Resolve(ctx, actorRef)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByParticipant(ctx, actor.ID)
}

func (s *ConversationService) UnreadTotal(ctx context.Context, actorRef string) (int, error) {
	actor, err := s.resolver.Resolve(ctx, actorRef)
	if err != nil {
		return 0, err
	}

	// 1. Chemin rapide : le badge vient du cache.
	counts, ok, err := s.cache.Totals(ctx, actor.ID)
	if err != nil {
		slog.Warn("unread cache read failed, falling back to db", "error", err)
		ok = false
	}

	// 2. Cache froid : on repart de la source de vérité et on réchauffe.
	if !ok {
		counts, err = s.repo.UnreadCounts(ctx, actor.ID)
		if err != nil {
			return 0, err
		}
		if err := s.cache.Fill(ctx, actor.ID, counts); err != nil {
			slog.Warn("unread cache fill failed", "error", err)
		}
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// --- HELPERS ---

// loadForParticipant résout l'acteur, charge le fil et vérifie l'appartenance.
func (s *ConversationService) loadForParticipant(ctx context.Context, conversationID, actorRef string) (*domain.Conversation, *domain.Account, error) {
	actor, err := s.resolver.Resolve(ctx, actorRef)
	if err != nil {
		return nil, nil, err
	}

	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	if !conv.HasParticipant(actor.ID) {
		return nil, nil, domain.ErrNotParticipant
	}
	return conv, actor, nil
}

// refreshCache recalcule les compteurs du fil depuis le ledger puis réaligne
// le badge des deux participants.
func (s *ConversationService) refreshCache(ctx context.Context, conversationID string) {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return
	}
	for _, p := range []string{conv.ParticipantLo, conv.ParticipantHi} {
		if _, err := s.repo.RecomputeUnread(ctx, conversationID, p); err != nil {
			slog.Warn("unread recompute failed", "conversation_id", conversationID, "account_id", p, "error", err)
		}
	}
	s.syncUnreadCache(ctx, conv.ParticipantLo, conv.ParticipantHi)
}

// syncUnreadCache réécrit le badge de chaque compte depuis la source de
// vérité. Best effort, comme tout le cache.
func (s *ConversationService) syncUnreadCache(ctx context.Context, accountIDs ...string) {
	for _, id := range accountIDs {
		counts, err := s.repo.UnreadCounts(ctx, id)
		if err != nil {
			slog.Warn("unread counts reload failed", "account_id", id, "error", err)
			continue
		}
		if err := s.cache.Fill(ctx, id, counts); err != nil {
			slog.Warn("unread cache fill failed", "account_id", id, "error", err)
		}
	}
}

// --- CURSEUR ---
// Format : "<RFC3339Nano>|<seq>". Un curseur corrompu est une erreur franche,
// on ne repart pas silencieusement du début.

func encodeCursor(t time.Time, seq int64) string {
	return t.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(seq, 10)
}

func decodeCursor(cursor string) (time.Time, int64, error) {
	if cursor == "" {
		return time.Time{}, 0, nil
	}

	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, errors.New("invalid page token")
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, 0, errors.New("invalid page token")
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, errors.New("invalid page token")
	}
	return t, seq, nil
}
