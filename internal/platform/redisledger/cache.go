// Package redisledger implements mcos.ReconciliationCache against Redis,
// repurposing the teacher's Redis client usage (there, a pub/sub bus for
// SSE forwarding) into a shared cache backing UploadLedger's cold-start
// reconciliation.
package redisledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fernbank/mcos/internal/platform/logger"
)

// Cache adapts a Redis client into mcos.ReconciliationCache, storing each
// chat's uploaded-turn-id set as a Redis SET under a namespaced key.
type Cache struct {
	rdb *redis.Client
	log *logger.Logger
	ttl time.Duration
}

func New(log *logger.Logger, addr, password string, db int, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Cache{rdb: rdb, log: log.With("service", "RedisLedgerCache"), ttl: ttl}, nil
}

func key(chatID string) string { return "mcos:ledger:" + chatID }

func (c *Cache) Load(ctx context.Context, chatID string) (map[string]struct{}, bool, error) {
	ids, err := c.rdb.SMembers(ctx, key(chatID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, true, nil
}

func (c *Cache) Save(ctx context.Context, chatID string, uploadedTurnIDs map[string]struct{}) error {
	if len(uploadedTurnIDs) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(uploadedTurnIDs))
	for id := range uploadedTurnIDs {
		members = append(members, id)
	}
	k := key(chatID)
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, k, members...)
	pipe.Expire(ctx, k, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) Close() error { return c.rdb.Close() }
