// Package evals persists evaluation runs: which bundle was evaluated,
// under which packs, what findings came out, and how each attempt went.
// It also hosts the judge cache, so repeated evaluation of an unchanged
// (bundle, pack) pair can reuse a prior verdict.
package evals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Run is one recorded evaluation of a bundle against a pack set.
type Run struct {
	RunID       string    `json:"run_id"`
	BundleID    string    `json:"bundle_id"` // the bundle's run root
	StreamRunID string    `json:"stream_run_id"`
	PackDigests []string  `json:"pack_digests"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ExitCode    int       `json:"exit_code"`
	Attempt     int       `json:"attempt"`
}

// TestResult is one finding-level outcome attached to a run.
type TestResult struct {
	RunID    string `json:"run_id"`
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	EventID  string `json:"event_id,omitempty"`
}

// Store is the sqlite-backed evaluations store. Schema is initialized
// on open.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the evaluations schema against db. The
// caller owns db's lifecycle.
func Open(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS eval_runs (
	run_id TEXT PRIMARY KEY,
	bundle_id TEXT NOT NULL,
	stream_run_id TEXT NOT NULL,
	pack_digests JSON NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	attempt INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_eval_runs_bundle ON eval_runs(bundle_id);
CREATE TABLE IF NOT EXISTS eval_results (
	run_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	event_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_eval_results_run ON eval_results(run_id);
CREATE TABLE IF NOT EXISTS judge_cache (
	cache_key TEXT PRIMARY KEY,
	verdict JSON NOT NULL,
	created_at TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("evals: migrate schema: %w", err)
	}
	return nil
}

// RecordRun persists a completed run and its results in one
// transaction. The run's Attempt is assigned here: one greater than
// the number of runs already recorded for the same bundle.
func (s *Store) RecordRun(ctx context.Context, run *Run, results []TestResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}

	var attempts int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM eval_runs WHERE bundle_id = ?`, run.BundleID,
	).Scan(&attempts); err != nil {
		return err
	}
	run.Attempt = attempts + 1

	digests, err := json.Marshal(run.PackDigests)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO eval_runs (run_id, bundle_id, stream_run_id, pack_digests, started_at, finished_at, exit_code, attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.BundleID, run.StreamRunID, string(digests),
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.ExitCode, run.Attempt); err != nil {
		return fmt.Errorf("evals: insert run: %w", err)
	}

	for _, r := range results {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO eval_results (run_id, rule_id, severity, message, event_id)
			VALUES (?, ?, ?, ?, ?)
		`, run.RunID, r.RuleID, r.Severity, r.Message, r.EventID); err != nil {
			return fmt.Errorf("evals: insert result: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, bundle_id, stream_run_id, pack_digests, started_at, finished_at, exit_code, attempt
		FROM eval_runs WHERE run_id = ?
	`, runID)
	return scanRun(row)
}

// ListRuns returns the most recent runs for a bundle, newest first.
func (s *Store) ListRuns(ctx context.Context, bundleID string, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, bundle_id, stream_run_id, pack_digests, started_at, finished_at, exit_code, attempt
		FROM eval_runs WHERE bundle_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, bundleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Results returns a run's findings.
func (s *Store) Results(ctx context.Context, runID string) ([]TestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, rule_id, severity, message, event_id
		FROM eval_results WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TestResult
	for rows.Next() {
		var r TestResult
		if err := rows.Scan(&r.RunID, &r.RuleID, &r.Severity, &r.Message, &r.EventID); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var digests, startedAt, finishedAt string
	if err := row.Scan(&r.RunID, &r.BundleID, &r.StreamRunID, &digests, &startedAt, &finishedAt, &r.ExitCode, &r.Attempt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("evals: run not found")
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(digests), &r.PackDigests); err != nil {
		return nil, fmt.Errorf("evals: decode pack digests: %w", err)
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// JudgeVerdict is a cached judgement, keyed by the caller's digest of
// whatever inputs produced it.
type JudgeVerdict struct {
	Pass    bool   `json:"pass"`
	Detail  string `json:"detail,omitempty"`
	JudgeID string `json:"judge_id,omitempty"`
}

// CacheVerdict stores a verdict under key, overwriting any prior entry.
func (s *Store) CacheVerdict(ctx context.Context, key string, v JudgeVerdict, now time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO judge_cache (cache_key, verdict, created_at) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET verdict = excluded.verdict, created_at = excluded.created_at
	`, key, string(raw), now.UTC().Format(time.RFC3339Nano))
	return err
}

// CachedVerdict loads the verdict stored under key, if any.
func (s *Store) CachedVerdict(ctx context.Context, key string) (*JudgeVerdict, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT verdict FROM judge_cache WHERE cache_key = ?`, key)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	var v JudgeVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, err
	}
	return &v, true, nil
}
