// Package cache is a Redis read-through cache for lead reads. Entries expire after a
// fixed TTL, which bounds how stale a cached lead can be. Guards never read from it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dossierline/internal/domain"
)

const (
	leadKeyPrefix = "dossier:lead:" // dossier:lead:{lead_id}
	defaultTTL    = 30 * time.Second
)

// ErrMiss is returned by Get when the lead is not cached.
var ErrMiss = errors.New("cache miss")

type LeadCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeadCache(client *redis.Client, ttl time.Duration) *LeadCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &LeadCache{client: client, ttl: ttl}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*LeadCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewLeadCache(client, ttl), nil
}

func (c *LeadCache) TTL() time.Duration { return c.ttl }

func (c *LeadCache) key(id string) string { return leadKeyPrefix + id }

func (c *LeadCache) Get(ctx context.Context, id string) (domain.Lead, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return domain.Lead{}, ErrMiss
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("failed to get lead: %w", err)
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		return domain.Lead{}, fmt.Errorf("failed to unmarshal lead: %w", err)
	}
	return lead, nil
}

func (c *LeadCache) Set(ctx context.Context, lead domain.Lead) error {
	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("failed to marshal lead: %w", err)
	}
	if err := c.client.Set(ctx, c.key(lead.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache lead: %w", err)
	}
	return nil
}

// Delete drops cached leads; called after every committed mutation.
func (c *LeadCache) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.key(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate leads: %w", err)
	}
	return nil
}

func (c *LeadCache) Close() error {
	return c.client.Close()
}
