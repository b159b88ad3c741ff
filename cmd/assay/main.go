package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/assay-sh/assay-core/pkg/bundle"
	"github.com/assay-sh/assay-core/pkg/evals"
	"github.com/assay-sh/assay-core/pkg/pack"
	"github.com/assay-sh/assay-core/pkg/replay"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing. Exit codes: 0
// clean, 1 findings at or above threshold, 2 usage/configuration/parse
// error. No subcommand runs a discovery scan, so the discovery exit
// codes (10 and above) are never returned here.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "usage: assay <verify|evaluate|pack|replay> ...")
		return 2
	}

	switch args[1] {
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "evaluate":
		return runEvaluate(args[2:], stdout, stderr)
	case "pack":
		return runPack(args[2:], stdout, stderr)
	case "replay":
		return runReplay(args[2:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "assay: unknown command %q\n", args[1])
		return 2
	}
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil || cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: assay verify <bundle.tar.gz>")
		return 2
	}

	raw, err := os.ReadFile(cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	b, err := bundle.Read(bytes.NewReader(raw), bundle.ReadOptions{LoadEvents: true})
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	res, err := bundle.Verify(b)
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 1
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "warning: %s: %s\n", w.Path, w.Kind)
	}
	fmt.Fprintf(stdout, "ok: %d events, run root %s\n", b.Manifest.EventCount, b.Manifest.RunRoot)
	return 0
}

func runEvaluate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	packPaths := multiFlag{}
	cmd.Var(&packPaths, "pack", "pack file to evaluate against (repeatable)")
	passOn := cmd.String("pass-on", "error", "fail when findings at or above this severity exist (error|warn|info)")
	dbPath := cmd.String("db", "", "evaluations database path (default: in-memory)")
	sarifPath := cmd.String("sarif", "", "write SARIF findings to this path")
	if err := cmd.Parse(args); err != nil || cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: assay evaluate -pack <pack.yaml> [...] <bundle.tar.gz>")
		return 2
	}

	raw, err := os.ReadFile(cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}

	var packs []*pack.Pack
	for _, path := range packPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "assay: %v\n", err)
			return 2
		}
		p, err := pack.LoadBytes(data)
		if err != nil {
			fmt.Fprintf(stderr, "assay: %s: %v\n", path, err)
			return 2
		}
		packs = append(packs, p)
	}

	dsn := *dbPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	defer db.Close()
	store, err := evals.Open(db)
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}

	runner, err := evals.NewRunner(evals.RunnerConfig{Store: store, PassOn: pack.Severity(*passOn)})
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}

	outcome, err := runner.Run(context.Background(), raw, packs, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 1
	}

	for _, f := range outcome.Findings {
		fmt.Fprintf(stdout, "%s %s: %s\n", f.Severity, f.RuleID, f.Message)
	}
	if *sarifPath != "" {
		sarif, err := pack.SARIF(outcome.Findings, pack.SARIFOptions{})
		if err != nil {
			fmt.Fprintf(stderr, "assay: %v\n", err)
			return 1
		}
		if err := os.WriteFile(*sarifPath, sarif, 0o644); err != nil {
			fmt.Fprintf(stderr, "assay: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(stdout, "%d findings, exit %d\n", len(outcome.Findings), outcome.ExitCode)
	return outcome.ExitCode
}

func runPack(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] != "digest" {
		fmt.Fprintln(stderr, "usage: assay pack digest <pack.yaml>")
		return 2
	}
	cmd := flag.NewFlagSet("pack digest", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args[1:]); err != nil || cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: assay pack digest <pack.yaml>")
		return 2
	}

	data, err := os.ReadFile(cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	p, err := pack.LoadBytes(data)
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	digest, err := pack.Digest(p)
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "%s %s@%s\n", digest, p.Name, p.Version)
	return 0
}

func runReplay(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] != "verify" {
		fmt.Fprintln(stderr, "usage: assay replay verify <replay.tar.gz>")
		return 2
	}
	cmd := flag.NewFlagSet("replay verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args[1:]); err != nil || cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: assay replay verify <replay.tar.gz>")
		return 2
	}

	raw, err := os.ReadFile(cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	rb, err := replay.Read(bytes.NewReader(raw), bundle.ReadOptions{LoadEvents: true})
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 2
	}
	res, err := replay.Verify(rb.Bundle)
	if err != nil {
		fmt.Fprintf(stderr, "assay: %v\n", err)
		return 1
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "warning: %s: %s\n", w.Path, w.Kind)
	}
	fmt.Fprintf(stdout, "ok: replay bundle, run root %s\n", rb.Bundle.Manifest.RunRoot)
	return 0
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint([]string(*m)) }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
