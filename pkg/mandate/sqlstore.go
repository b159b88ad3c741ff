package mandate

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLStore is the default embedded MandateStore backing,
// using modernc.org/sqlite, a CGo-free driver.
//
// SQLite's file-level locking does not give the per-row conflict
// detection Consume needs, so writes are serialized through
// a single writer mutex while reads run unguarded; the busy-retry loop
// below is for the rarer case of an external process holding the file
// lock (e.g. a concurrent `assay` CLI invocation against the same
// database file).
type SQLStore struct {
	db *sql.DB

	writeMu sync.Mutex

	busyRetries       atomic.Uint64
	busyRetryBase     time.Duration
	busyRetryDeadline time.Duration

	clock func() time.Time
}

// NewSQLStore opens (or creates) the mandate store schema against db and
// returns a ready-to-use SQLStore. The caller owns db's lifecycle.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{
		db:                db,
		busyRetryBase:     10 * time.Millisecond,
		busyRetryDeadline: 2 * time.Second,
		clock:             time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// BusyRetries reports how many times this store instance has retried a
// write after observing a busy/locked database, scoped to this handle
// rather than process-wide so parallel tests do not share telemetry.
func (s *SQLStore) BusyRetries() uint64 { return s.busyRetries.Load() }

func (s *SQLStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS mandate_meta (
	mandate_id TEXT PRIMARY KEY,
	single_use INTEGER NOT NULL DEFAULT 0,
	max_uses INTEGER NOT NULL DEFAULT 0,
	issued_at TEXT,
	expires_at TEXT,
	use_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS mandate_revocations (
	mandate_id TEXT PRIMARY KEY,
	revoked_at TEXT NOT NULL,
	reason TEXT
);
CREATE TABLE IF NOT EXISTS mandate_consumptions (
	mandate_id TEXT NOT NULL,
	use_id TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	nonce TEXT NOT NULL DEFAULT '',
	consumed_at TEXT NOT NULL,
	use_count INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mandate_consumptions_toolcall
	ON mandate_consumptions(mandate_id, tool_call_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mandate_consumptions_nonce
	ON mandate_consumptions(mandate_id, nonce) WHERE nonce <> '';
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("mandate: migrate sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertMandate(ctx context.Context, meta Meta) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mandate_meta (mandate_id, single_use, max_uses, issued_at, expires_at, use_count)
			VALUES (?, ?, ?, ?, ?, 0)
			ON CONFLICT(mandate_id) DO UPDATE SET
				single_use = excluded.single_use,
				max_uses = excluded.max_uses,
				issued_at = excluded.issued_at,
				expires_at = excluded.expires_at
		`, meta.MandateID, boolToInt(meta.SingleUse), meta.MaxUses, formatTime(meta.IssuedAt), formatTime(meta.ExpiresAt))
		return err
	})
}

func (s *SQLStore) UpsertRevocation(ctx context.Context, rec RevocationRecord) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mandate_revocations (mandate_id, revoked_at, reason)
			VALUES (?, ?, ?)
			ON CONFLICT(mandate_id) DO UPDATE SET revoked_at = excluded.revoked_at, reason = excluded.reason
		`, rec.MandateID, formatTime(rec.RevokedAt), rec.Reason)
		return err
	})
}

func (s *SQLStore) RevokedAt(ctx context.Context, mandateID string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT revoked_at FROM mandate_revocations WHERE mandate_id = ?`, mandateID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("mandate: parse revoked_at: %w", err)
	}
	return t, true, nil
}

func (s *SQLStore) Consume(ctx context.Context, params ConsumeParams) (Receipt, error) {
	var receipt Receipt
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT use_id, consumed_at, use_count FROM mandate_consumptions
			WHERE mandate_id = ? AND tool_call_id = ?
		`, params.MandateID, params.ToolCallID)
		var useID, consumedAt string
		var useCount int
		switch err := row.Scan(&useID, &consumedAt, &useCount); {
		case err == nil:
			t, perr := time.Parse(time.RFC3339Nano, consumedAt)
			if perr != nil {
				return fmt.Errorf("mandate: parse consumed_at: %w", perr)
			}
			receipt = Receipt{MandateID: params.MandateID, UseID: useID, ToolCallID: params.ToolCallID, ConsumedAt: t, UseCount: useCount}
			return nil // idempotent replay of an already-seen tool_call_id
		case err != sql.ErrNoRows:
			return err
		}

		var singleUse bool
		var maxUses, currentUses int
		var rawSingleUse int
		metaRow := tx.QueryRowContext(ctx, `SELECT single_use, max_uses, use_count FROM mandate_meta WHERE mandate_id = ?`, params.MandateID)
		if err := metaRow.Scan(&rawSingleUse, &maxUses, &currentUses); err != nil && err != sql.ErrNoRows {
			return err
		}
		singleUse = rawSingleUse != 0

		if singleUse && currentUses >= 1 {
			return &Error{Kind: KindAlreadyUsed, Msg: params.MandateID}
		}
		if maxUses > 0 && currentUses >= maxUses {
			return &Error{Kind: KindMaxUsesExceeded, Msg: params.MandateID}
		}

		newCount := currentUses + 1
		useID = uuid.NewString()
		consumedAt = params.Now.UTC().Format(time.RFC3339Nano)

		_, err := tx.ExecContext(ctx, `
			INSERT INTO mandate_consumptions (mandate_id, use_id, tool_call_id, nonce, consumed_at, use_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, params.MandateID, useID, params.ToolCallID, params.Nonce, consumedAt, newCount)
		if err != nil {
			if isUniqueConstraintErr(err) {
				return &Error{Kind: KindNonceReplay, Msg: params.Nonce}
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mandate_meta (mandate_id, use_count) VALUES (?, ?)
			ON CONFLICT(mandate_id) DO UPDATE SET use_count = ?
		`, params.MandateID, newCount, newCount); err != nil {
			return err
		}

		receipt = Receipt{MandateID: params.MandateID, UseID: useID, ToolCallID: params.ToolCallID, ConsumedAt: params.Now, UseCount: newCount}
		return nil
	})
	return receipt, err
}

// withWriteLock runs fn inside a transaction, holding the store's single
// writer mutex for the duration, retrying the whole attempt with capped
// exponential backoff plus jitter if sqlite reports the database as
// busy/locked, up to busyRetryDeadline.
func (s *SQLStore) withWriteLock(ctx context.Context, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := s.clock().Add(s.busyRetryDeadline)
	backoff := s.busyRetryBase
	for {
		err := s.attempt(ctx, fn)
		if err == nil || !isBusyErr(err) {
			return err
		}
		s.busyRetries.Add(1)
		if s.clock().After(deadline) {
			return fmt.Errorf("mandate: sqlite busy, retry deadline exceeded: %w", err)
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
		time.Sleep(backoff + jitter)
		backoff *= 2
	}
}

func (s *SQLStore) attempt(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
