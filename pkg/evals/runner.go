package evals

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/assay-sh/assay-core/pkg/archive"
	"github.com/assay-sh/assay-core/pkg/bundle"
	"github.com/assay-sh/assay-core/pkg/discover"
	"github.com/assay-sh/assay-core/pkg/pack"
	"github.com/assay-sh/assay-core/pkg/telemetry"
)

// RunnerConfig wires a Runner's collaborators. Store is required;
// everything else is optional.
type RunnerConfig struct {
	Store     *Store
	Archive   archive.Store // when set, the raw bundle is archived after a successful run
	Telemetry *telemetry.Provider
	Logger    *slog.Logger

	// PassOn is the severity threshold at or above which findings fail
	// the run (exit code 1).
	PassOn pack.Severity

	// Discovery, when non-nil, adds the tool-call coverage scan whose
	// exit codes (10, 11) take precedence over finding-derived ones.
	Discovery *discover.Options
}

// Runner evaluates evidence bundles against pack sets and records the
// outcome.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner validates cfg and builds a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("evals: RunnerConfig.Store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PassOn == "" {
		cfg.PassOn = pack.SeverityError
	}
	return &Runner{cfg: cfg}, nil
}

// Outcome is what Run returns: the recorded run, its findings, and the
// derived exit code.
type Outcome struct {
	Run      *Run
	Findings []pack.Finding
	ExitCode int
}

// Run verifies rawBundle, evaluates it against packs, persists the
// results, and (when configured) archives the bundle bytes under the
// run root.
func (r *Runner) Run(ctx context.Context, rawBundle []byte, packs []*pack.Pack, now time.Time) (outcome *Outcome, err error) {
	if r.cfg.Telemetry != nil {
		var done func(error)
		ctx, done = r.cfg.Telemetry.TrackOperation(ctx, telemetry.OpEvaluate,
			attribute.Int("assay.pack_count", len(packs)))
		defer func() { done(err) }()
	}

	b, err := bundle.Read(bytes.NewReader(rawBundle), bundle.ReadOptions{LoadEvents: true})
	if err != nil {
		return nil, err
	}
	verifyResult, err := bundle.Verify(b)
	if err != nil {
		return nil, err
	}
	for _, w := range verifyResult.Warnings {
		r.cfg.Logger.Warn("bundle verification warning", "kind", w.Kind, "path", w.Path)
	}

	findings, err := pack.EvaluateAll(ctx, packs, b.Events)
	if err != nil {
		return nil, err
	}
	exitCode := pack.ExitCode(findings, r.cfg.PassOn)

	if r.cfg.Discovery != nil {
		if dc := discover.ExitCode(discover.Discover(b.Events, *r.cfg.Discovery)); dc != 0 {
			exitCode = dc
		}
	}

	digests := make([]string, 0, len(packs))
	for _, p := range packs {
		d, derr := pack.Digest(p)
		if derr != nil {
			return nil, derr
		}
		digests = append(digests, d)
	}

	run := &Run{
		BundleID:    b.Manifest.BundleID,
		StreamRunID: b.Manifest.RunID,
		PackDigests: digests,
		StartedAt:   now,
		FinishedAt:  now,
		ExitCode:    exitCode,
	}
	results := make([]TestResult, 0, len(findings))
	for _, f := range findings {
		results = append(results, TestResult{
			RuleID: f.RuleID, Severity: string(f.Severity), Message: f.Message, EventID: f.EventID,
		})
	}
	if err := r.cfg.Store.RecordRun(ctx, run, results); err != nil {
		return nil, err
	}

	if r.cfg.Archive != nil {
		if err := r.cfg.Archive.Put(ctx, b.Manifest.BundleID, rawBundle); err != nil {
			r.cfg.Logger.Warn("bundle archival failed", "bundle_id", b.Manifest.BundleID, "error", err)
		}
	}

	r.cfg.Logger.Debug("evaluation recorded",
		"run_id", run.RunID, "bundle_id", run.BundleID, "findings", len(findings), "exit_code", exitCode)
	return &Outcome{Run: run, Findings: findings, ExitCode: exitCode}, nil
}
