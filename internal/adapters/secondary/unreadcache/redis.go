package unreadcache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisUnreadCache sert le badge non-lu sans toucher Postgres.
// Une hash par compte : unread:{account} -> { conversationID: count }.
// Best effort : Postgres reste la source de vérité, un compte froid ou en
// dérive se répare par Totals(miss) -> UnreadCounts -> Fill.
type RedisUnreadCache struct {
	client *redis.Client
	ttl    time.Duration // On ne garde pas l'infini en RAM
}

func NewRedisUnreadCache(client *redis.Client) *RedisUnreadCache {
	return &RedisUnreadCache{
		client: client,
		ttl:    7 * 24 * time.Hour,
	}
}

// filledMarker distingue "zéro non-lu" de "jamais rempli" (hash vide = clé
// absente pour Redis).
const filledMarker = "_filled"

func key(accountID string) string {
	return fmt.Sprintf("unread:%s", accountID)
}

// Increment : HIncrBy est atomique côté Redis — deux messages simultanés font
// bien +2, jamais +1.
func (c *RedisUnreadCache) Increment(ctx context.Context, accountID, conversationID string, delta int) error {
	k := key(accountID)

	// On n'incrémente pas un cache froid : il serait faux dès la création
	// (le compte a peut-être déjà des non-lus en DB). Fill s'en chargera.
	exists, err := c.client.Exists(ctx, k).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	pipe.HIncrBy(ctx, k, conversationID, int64(delta))
	pipe.Expire(ctx, k, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisUnreadCache) Reset(ctx context.Context, accountID, conversationID string) error {
	k := key(accountID)

	exists, err := c.client.Exists(ctx, k).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, k, conversationID, 0)
	pipe.Expire(ctx, k, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Totals renvoie ok=false quand le cache est froid pour ce compte.
func (c *RedisUnreadCache) Totals(ctx context.Context, accountID string) (map[string]int, bool, error) {
	raw, err := c.client.HGetAll(ctx, key(accountID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	counts := make(map[string]int, len(raw))
	for convID, v := range raw {
		if convID == filledMarker {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			// Donnée corrompue : on force le fallback DB plutôt que de mentir
			return nil, false, nil
		}
		counts[convID] = n
	}
	return counts, true, nil
}

// Fill réchauffe la hash complète depuis la source de vérité.
func (c *RedisUnreadCache) Fill(ctx context.Context, accountID string, counts map[string]int) error {
	k := key(accountID)

	pipe := c.client.Pipeline()
	pipe.Del(ctx, k)
	if len(counts) > 0 {
		fields := make(map[string]any, len(counts))
		for convID, n := range counts {
			fields[convID] = n
		}
		pipe.HSet(ctx, k, fields)
	} else {
		pipe.HSet(ctx, k, filledMarker, 0)
	}
	pipe.Expire(ctx, k, c.ttl)

	_, err := pipe.Exec(ctx)
	return err
}
