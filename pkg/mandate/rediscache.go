package mandate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore fronts a Store with a Redis fast path. The backing store
// remains the source of truth for every consumption guarantee; Redis
// only serves two accelerations for high-volume deployments:
//
//   - a nonce index that rejects obvious replays before the relational
//     store is touched, and
//   - a receipt cache that serves idempotent re-consumption of an
//     already-seen (mandate_id, tool_call_id) pair without a SQL round
//     trip.
//
// A cold or unavailable Redis degrades to the backing store alone.
type CachedStore struct {
	inner Store
	rdb   *redis.Client

	// TTL bounds how long cached receipts and nonce markers live.
	TTL time.Duration
}

// NewCachedStore wraps inner with the Redis client rdb.
func NewCachedStore(inner Store, rdb *redis.Client) *CachedStore {
	return &CachedStore{inner: inner, rdb: rdb, TTL: 24 * time.Hour}
}

func (c *CachedStore) UpsertMandate(ctx context.Context, meta Meta) error {
	return c.inner.UpsertMandate(ctx, meta)
}

func (c *CachedStore) UpsertRevocation(ctx context.Context, rec RevocationRecord) error {
	return c.inner.UpsertRevocation(ctx, rec)
}

func (c *CachedStore) RevokedAt(ctx context.Context, mandateID string) (time.Time, bool, error) {
	return c.inner.RevokedAt(ctx, mandateID)
}

func receiptKey(mandateID, toolCallID string) string {
	return fmt.Sprintf("assay:receipt:%s:%s", mandateID, toolCallID)
}

func nonceKey(mandateID, nonce string) string {
	return fmt.Sprintf("assay:nonce:%s:%s", mandateID, nonce)
}

// Consume checks the receipt cache and nonce index, then delegates to
// the backing store, populating both on success. Redis errors are
// swallowed: the cache never turns a consumable mandate into a failure
// on its own.
func (c *CachedStore) Consume(ctx context.Context, params ConsumeParams) (Receipt, error) {
	if cached, err := c.rdb.Get(ctx, receiptKey(params.MandateID, params.ToolCallID)).Bytes(); err == nil {
		var r Receipt
		if json.Unmarshal(cached, &r) == nil {
			return r, nil
		}
	}

	if params.Nonce != "" {
		holder, err := c.rdb.Get(ctx, nonceKey(params.MandateID, params.Nonce)).Result()
		if err == nil && holder != params.ToolCallID {
			return Receipt{}, &Error{Kind: KindNonceReplay, Msg: params.Nonce}
		}
	}

	receipt, err := c.inner.Consume(ctx, params)
	if err != nil {
		return Receipt{}, err
	}

	if raw, merr := json.Marshal(receipt); merr == nil {
		c.rdb.Set(ctx, receiptKey(params.MandateID, params.ToolCallID), raw, c.TTL)
	}
	if params.Nonce != "" {
		c.rdb.SetNX(ctx, nonceKey(params.MandateID, params.Nonce), params.ToolCallID, c.TTL)
	}
	return receipt, nil
}
