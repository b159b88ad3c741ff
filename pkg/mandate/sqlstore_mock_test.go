package mandate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests pin the store's SQL shape — which statements run, in what
// order, inside which transaction — without a live database. The
// behavioral contract itself is covered by the sqlite- and
// memory-backed tests alongside.

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mandate_meta").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewSQLStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestSQLStore_RevokedAtQueryShape(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT revoked_at FROM mandate_revocations WHERE mandate_id").
		WithArgs("sha256:aaa").
		WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow("2026-01-28T10:00:00Z"))

	at, ok, err := store.RevokedAt(context.Background(), "sha256:aaa")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC), at.UTC())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ConsumeNonceReplayMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT use_id, consumed_at, use_count FROM mandate_consumptions").
		WithArgs("sha256:aaa", "call-1").
		WillReturnRows(sqlmock.NewRows([]string{"use_id", "consumed_at", "use_count"}))
	mock.ExpectQuery("SELECT single_use, max_uses, use_count FROM mandate_meta").
		WithArgs("sha256:aaa").
		WillReturnRows(sqlmock.NewRows([]string{"single_use", "max_uses", "use_count"}).AddRow(0, 0, 0))
	mock.ExpectExec("INSERT INTO mandate_consumptions").
		WillReturnError(errors.New("UNIQUE constraint failed: idx_mandate_consumptions_nonce"))
	mock.ExpectRollback()

	_, err := store.Consume(context.Background(), ConsumeParams{
		MandateID: "sha256:aaa", ToolCallID: "call-1", Nonce: "n-1", Now: now,
	})
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindNonceReplay, merr.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ConsumeIdempotentReplayShortCircuits(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT use_id, consumed_at, use_count FROM mandate_consumptions").
		WithArgs("sha256:aaa", "call-1").
		WillReturnRows(sqlmock.NewRows([]string{"use_id", "consumed_at", "use_count"}).
			AddRow("use-1", "2026-01-28T09:59:00Z", 3))
	mock.ExpectCommit()

	receipt, err := store.Consume(context.Background(), ConsumeParams{
		MandateID: "sha256:aaa", ToolCallID: "call-1", Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "use-1", receipt.UseID)
	assert.Equal(t, 3, receipt.UseCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
