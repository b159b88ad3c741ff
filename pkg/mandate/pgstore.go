package mandate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
)

// PostgresStore is the multi-node MandateStore backing: unlike
// SQLStore it relies on Postgres's own row-level locking for the
// consume-contention path rather than an in-process writer mutex, so
// multiple assay-core instances behind a load balancer can share one
// database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens (or creates) the mandate schema against db.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS mandate_meta (
	mandate_id TEXT PRIMARY KEY,
	single_use BOOLEAN NOT NULL DEFAULT false,
	max_uses INTEGER NOT NULL DEFAULT 0,
	issued_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	use_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS mandate_revocations (
	mandate_id TEXT PRIMARY KEY,
	revoked_at TIMESTAMPTZ NOT NULL,
	reason TEXT
);
CREATE TABLE IF NOT EXISTS mandate_consumptions (
	mandate_id TEXT NOT NULL,
	use_id TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	nonce TEXT NOT NULL DEFAULT '',
	consumed_at TIMESTAMPTZ NOT NULL,
	use_count INTEGER NOT NULL,
	UNIQUE(mandate_id, tool_call_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mandate_consumptions_nonce
	ON mandate_consumptions(mandate_id, nonce) WHERE nonce <> '';
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("mandate: migrate postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertMandate(ctx context.Context, meta Meta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mandate_meta (mandate_id, single_use, max_uses, issued_at, expires_at, use_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (mandate_id) DO UPDATE SET
			single_use = EXCLUDED.single_use,
			max_uses = EXCLUDED.max_uses,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at
	`, meta.MandateID, meta.SingleUse, meta.MaxUses, nullableTime(meta.IssuedAt), nullableTime(meta.ExpiresAt))
	return err
}

func (s *PostgresStore) UpsertRevocation(ctx context.Context, rec RevocationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mandate_revocations (mandate_id, revoked_at, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (mandate_id) DO UPDATE SET revoked_at = EXCLUDED.revoked_at, reason = EXCLUDED.reason
	`, rec.MandateID, rec.RevokedAt.UTC(), rec.Reason)
	return err
}

func (s *PostgresStore) RevokedAt(ctx context.Context, mandateID string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT revoked_at FROM mandate_revocations WHERE mandate_id = $1`, mandateID)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Consume relies on the database for the hard concurrency guarantee: the
// (mandate_id, tool_call_id) and (mandate_id, nonce) unique constraints
// make the insert itself the serialization point, with a
// SELECT ... FOR UPDATE on mandate_meta giving the single-row lock that
// makes use_count monotonic under concurrent callers.
func (s *PostgresStore) Consume(ctx context.Context, params ConsumeParams) (Receipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var useID string
	var consumedAt time.Time
	var useCount int
	row := tx.QueryRowContext(ctx, `
		SELECT use_id, consumed_at, use_count FROM mandate_consumptions
		WHERE mandate_id = $1 AND tool_call_id = $2
	`, params.MandateID, params.ToolCallID)
	switch err := row.Scan(&useID, &consumedAt, &useCount); {
	case err == nil:
		return Receipt{MandateID: params.MandateID, UseID: useID, ToolCallID: params.ToolCallID, ConsumedAt: consumedAt, UseCount: useCount}, nil
	case err != sql.ErrNoRows:
		return Receipt{}, err
	}

	var singleUse bool
	var maxUses, currentUses int
	metaRow := tx.QueryRowContext(ctx, `
		SELECT single_use, max_uses, use_count FROM mandate_meta WHERE mandate_id = $1 FOR UPDATE
	`, params.MandateID)
	if err := metaRow.Scan(&singleUse, &maxUses, &currentUses); err != nil && err != sql.ErrNoRows {
		return Receipt{}, err
	}

	if singleUse && currentUses >= 1 {
		return Receipt{}, &Error{Kind: KindAlreadyUsed, Msg: params.MandateID}
	}
	if maxUses > 0 && currentUses >= maxUses {
		return Receipt{}, &Error{Kind: KindMaxUsesExceeded, Msg: params.MandateID}
	}

	newCount := currentUses + 1
	useID = uuid.NewString()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mandate_consumptions (mandate_id, use_id, tool_call_id, nonce, consumed_at, use_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, params.MandateID, useID, params.ToolCallID, params.Nonce, params.Now.UTC(), newCount); err != nil {
		if isPGUniqueViolation(err) {
			return Receipt{}, &Error{Kind: KindNonceReplay, Msg: params.Nonce}
		}
		return Receipt{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mandate_meta (mandate_id, use_count) VALUES ($1, $2)
		ON CONFLICT (mandate_id) DO UPDATE SET use_count = $2
	`, params.MandateID, newCount); err != nil {
		return Receipt{}, err
	}

	if err := tx.Commit(); err != nil {
		return Receipt{}, err
	}

	return Receipt{MandateID: params.MandateID, UseID: useID, ToolCallID: params.ToolCallID, ConsumedAt: params.Now, UseCount: newCount}, nil
}

func isPGUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
