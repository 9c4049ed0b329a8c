package offer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

const cacheKeyPrefix = "kasir:offers:"

// CachedSource fronts another Source with a Redis JSON cache. Redis failures
// degrade to the underlying source.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedSource wraps next. A nil client or non-positive ttl disables caching.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedSource {
	return &CachedSource{next: next, client: client, ttl: ttl, logger: logger}
}

// ForCustomer implements Source.
func (c *CachedSource) ForCustomer(ctx context.Context, customerID uuid.UUID) ([]pricing.CustomerOffer, error) {
	if c.client == nil || c.ttl <= 0 {
		return c.next.ForCustomer(ctx, customerID)
	}
	key := cacheKey(customerID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var offers []pricing.CustomerOffer
		if err := json.Unmarshal(data, &offers); err == nil {
			observeLookup("redis", "hit")
			return offers, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cached offers")
	case errors.Is(err, redis.Nil):
		observeLookup("redis", "miss")
	default:
		observeLookup("redis", "error")
		c.logger.Warn().Err(err).Str("key", key).Msg("offer cache read failed")
	}

	offers, err := c.next.ForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(offers); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("offer cache write failed")
		}
	}
	return offers, nil
}

// Grant stores o through the wrapped source and drops the customer's cached
// offers so the next lookup sees it. A failed invalidation is logged; the
// entry then expires with its TTL.
func (c *CachedSource) Grant(ctx context.Context, customerID uuid.UUID, o pricing.CustomerOffer) error {
	g, ok := c.next.(Granter)
	if !ok {
		return ErrReadOnly
	}
	if err := g.Grant(ctx, customerID, o); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, customerID); err != nil {
		c.logger.Warn().Err(err).Str("customer_id", customerID.String()).Msg("offer cache invalidation failed")
	}
	return nil
}

// Invalidate drops the cached offers of customerID.
func (c *CachedSource) Invalidate(ctx context.Context, customerID uuid.UUID) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(customerID)).Err()
}

func cacheKey(customerID uuid.UUID) string {
	return cacheKeyPrefix + customerID.String()
}
