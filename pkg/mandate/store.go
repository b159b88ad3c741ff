package mandate

import (
	"context"
	"time"
)

// Meta is the subset of a mandate's fields the store needs to enforce
// consumption limits without re-parsing the full mandate on every call.
type Meta struct {
	MandateID string
	SingleUse bool
	MaxUses   int // 0 means unbounded
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevocationRecord is the persisted fact that a mandate was revoked, as
// of a specific time. A future RevokedAt is permitted: authorization
// treats a revocation that has not yet taken effect as not-yet-
// revoked.
type RevocationRecord struct {
	MandateID string
	RevokedAt time.Time
	Reason    string
}

// ConsumeParams is the input to Store.Consume: the identifiers a
// consumption receipt is keyed on.
type ConsumeParams struct {
	MandateID  string
	ToolCallID string
	Nonce      string // empty when the mandate carries no replay-defense nonce
	Now        time.Time
}

// Store is the consumption persistence contract: idempotent
// mandate/revocation upserts and a replay-safe Consume that guarantees
// exactly one success per unique (mandate_id, tool_call_id) and per
// (mandate_id, nonce) pair, even when called concurrently from multiple
// connections against the same backing store.
type Store interface {
	UpsertMandate(ctx context.Context, meta Meta) error
	UpsertRevocation(ctx context.Context, rec RevocationRecord) error
	RevokedAt(ctx context.Context, mandateID string) (time.Time, bool, error)
	Consume(ctx context.Context, params ConsumeParams) (Receipt, error)
}
