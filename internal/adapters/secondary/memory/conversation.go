package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// ConversationRepo : ledger en mémoire. Le mutex joue le rôle des transactions
// Postgres : insert + lastMessage + incrément des compteurs forment un bloc
// indivisible, comme dans AppendMessage côté SQL.
type ConversationRepo struct {
	mu       sync.Mutex
	byID     map[string]*domain.Conversation
	byPair   map[[2]string]string // (lo, hi) -> conversationID
	messages map[string]*domain.Message
	nextSeq  int64
}

func NewConversationRepo() *ConversationRepo {
	return &ConversationRepo{
		byID:     make(map[string]*domain.Conversation),
		byPair:   make(map[[2]string]string),
		messages: make(map[string]*domain.Message),
	}
}

func (r *ConversationRepo) EnsureSchema(ctx context.Context) error { return nil }

func (r *ConversationRepo) CreateOrReactivate(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair := [2]string{conv.ParticipantLo, conv.ParticipantHi}
	if id, ok := r.byPair[pair]; ok {
		// Jamais de second fil pour la même paire : on réactive l'existant.
		existing := r.byID[id]
		existing.IsActive = true
		existing.UpdatedAt = time.Now().UTC()
		return copyConversation(existing), nil
	}

	cp := *conv
	cp.Unread = map[string]int{cp.ParticipantLo: 0, cp.ParticipantHi: 0}
	r.byID[cp.ID] = &cp
	r.byPair[pair] = cp.ID
	return copyConversation(&cp), nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (r *ConversationRepo) AppendMessage(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[msg.ConversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}

	r.nextSeq++
	msg.Seq = r.nextSeq

	cp := *msg
	cp.ReadBy = append([]string(nil), msg.ReadBy...)
	r.messages[cp.ID] = &cp

	conv.LastMessageID = cp.ID
	conv.LastMessageAt = cp.CreatedAt
	conv.UpdatedAt = cp.CreatedAt
	conv.Unread[conv.Other(cp.SenderID)]++
	return nil
}

func (r *ConversationRepo) MarkRead(ctx context.Context, conversationID, accountID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[conversationID]
	if !ok {
		return 0, domain.ErrConversationNotFound
	}

	marked := 0
	for _, m := range r.messages {
		if m.ConversationID != conversationID || m.SenderID == accountID || m.IsReadBy(accountID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, accountID)
		marked++
	}
	conv.Unread[accountID] = 0
	return marked, nil
}

func (r *ConversationRepo) Deactivate(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[conversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	conv.IsActive = false
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ConversationRepo) DeleteMessage(ctx context.Context, messageID, senderID string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageID]
	if !ok || m.SenderID != senderID {
		// Même fusion que le repo SQL : pas à toi = n'existe pas.
		return nil, domain.ErrMessageNotFound
	}
	delete(r.messages, messageID)

	conv := r.byID[m.ConversationID]
	if conv != nil {
		for _, p := range []string{conv.ParticipantLo, conv.ParticipantHi} {
			conv.Unread[p] = r.countUnreadLocked(conv.ID, p)
		}
		if conv.LastMessageID == messageID {
			r.repointLastLocked(conv)
		}
	}

	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	return &cp, nil
}

func (r *ConversationRepo) RecomputeUnread(ctx context.Context, conversationID, accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[conversationID]
	if !ok {
		return 0, domain.ErrConversationNotFound
	}
	n := r.countUnreadLocked(conversationID, accountID)
	conv.Unread[accountID] = n
	return n, nil
}

func (r *ConversationRepo) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time, beforeSeq int64) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msgs []*domain.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		// Curseur keyset : strictement avant (before, beforeSeq)
		if !before.IsZero() {
			if m.CreatedAt.After(before) {
				continue
			}
			if m.CreatedAt.Equal(before) && m.Seq >= beforeSeq {
				continue
			}
		}
		cp := *m
		cp.ReadBy = append([]string(nil), m.ReadBy...)
		msgs = append(msgs, &cp)
	}

	// Du plus récent au plus ancien, comme la requête SQL
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].Seq > msgs[j].Seq
	})

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r *ConversationRepo) ListByParticipant(ctx context.Context, accountID string) ([]*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var convs []*domain.Conversation
	for _, c := range r.byID {
		if c.IsActive && c.HasParticipant(accountID) {
			convs = append(convs, copyConversation(c))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return lastActivity(convs[i]).After(lastActivity(convs[j]))
	})
	return convs, nil
}

func (r *ConversationRepo) UnreadCounts(ctx context.Context, accountID string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Même forme que la requête SQL : une entrée par fil actif, zéros compris
	counts := make(map[string]int)
	for _, c := range r.byID {
		if !c.IsActive || !c.HasParticipant(accountID) {
			continue
		}
		counts[c.ID] = c.Unread[accountID]
	}
	return counts, nil
}

// --- HELPERS ---

func (r *ConversationRepo) countUnreadLocked(conversationID, accountID string) int {
	n := 0
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.SenderID != accountID && !m.IsReadBy(accountID) {
			n++
		}
	}
	return n
}

func (r *ConversationRepo) repointLastLocked(conv *domain.Conversation) {
	conv.LastMessageID = ""
	conv.LastMessageAt = time.Time{}
	var bestSeq int64 = -1
	for _, m := range r.messages {
		if m.ConversationID != conv.ID {
			continue
		}
		if m.CreatedAt.After(conv.LastMessageAt) || (m.CreatedAt.Equal(conv.LastMessageAt) && m.Seq > bestSeq) {
			conv.LastMessageID = m.ID
			conv.LastMessageAt = m.CreatedAt
			bestSeq = m.Seq
		}
	}
}

func lastActivity(c *domain.Conversation) time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

func copyConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		cp.Unread[k] = v
	}
	return &cp
}
