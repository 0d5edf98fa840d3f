package memory

import (
	"context"
	"sync"
)

// UnreadCache imite la sémantique de la hash Redis, y compris la distinction
// cache froid / cache rempli : Increment sur un compte jamais Fill-é est un
// no-op, exactement comme en production.
type UnreadCache struct {
	mu     sync.Mutex
	counts map[string]map[string]int // account -> conv -> count
}

func NewUnreadCache() *UnreadCache {
	return &UnreadCache{counts: make(map[string]map[string]int)}
}

func (c *UnreadCache) Increment(ctx context.Context, accountID, conversationID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.counts[accountID]
	if !ok {
		return nil // cache froid
	}
	m[conversationID] += delta
	return nil
}

func (c *UnreadCache) Reset(ctx context.Context, accountID, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.counts[accountID]; ok {
		m[conversationID] = 0
	}
	return nil
}

func (c *UnreadCache) Totals(ctx context.Context, accountID string) (map[string]int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.counts[accountID]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, true, nil
}

func (c *UnreadCache) Fill(ctx context.Context, accountID string, counts map[string]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := make(map[string]int, len(counts))
	for k, v := range counts {
		m[k] = v
	}
	c.counts[accountID] = m
	return nil
}
