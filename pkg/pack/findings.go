package pack

import (
	"encoding/json"
	"sort"
)

// Finding is one rule evaluation result against a single evidence
// event (or the run as a whole, for event_count checks).
type Finding struct {
	RuleID      string   `json:"rule_id"`
	PackName    string   `json:"pack_name"`
	PackVersion string   `json:"pack_version"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	File        string   `json:"file,omitempty"`
	EventID     string   `json:"event_id,omitempty"`
	HelpURI     string   `json:"help_uri,omitempty"`
}

// SortFindings orders findings deterministically: severity rank
// (error, warn, info), then rule ID, then message, then file — so two
// evaluations of the same inputs always print in the same order.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Message != b.Message {
			return a.Message < b.Message
		}
		return a.File < b.File
	})
}

// ExitCode maps a finding set to a process exit code: 1 when any
// finding is at or above the pass-on threshold severity, 0 otherwise.
// Exit code 2 is reserved for configuration and parse errors and never
// derives from findings.
func ExitCode(findings []Finding, passOn Severity) int {
	threshold := passOn.rank()
	for _, f := range findings {
		if f.Severity.rank() <= threshold {
			return 1
		}
	}
	return 0
}

// JSON renders findings as deterministic, indentation-free JSON
// (already sorted by SortFindings).
func JSON(findings []Finding) ([]byte, error) {
	return json.Marshal(findings)
}

// SARIFOptions bounds how many results a SARIF report will embed.
type SARIFOptions struct {
	MaxResults int // 0 means unbounded
}

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool      `json:"tool"`
	Results    []sarifResult  `json:"results"`
	Properties map[string]any `json:"properties,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID      string `json:"id"`
	HelpURI string `json:"helpUri,omitempty"`
}

type sarifResult struct {
	RuleID     string            `json:"ruleId"`
	Level      string            `json:"level"`
	Message    sarifMessage      `json:"message"`
	Locations  []sarifLocation   `json:"locations,omitempty"`
	Properties map[string]any    `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

func sarifLevel(s Severity) string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarn:
		return "warning"
	default:
		return "note"
	}
}

// SARIF renders findings as a SARIF 2.1.0 log. When opts.MaxResults is
// nonzero and the input exceeds it, the excess is truncated and
// recorded via properties.assay.truncated / omitted_count on the run,
// so a capped report still discloses what it dropped.
func SARIF(findings []Finding, opts SARIFOptions) ([]byte, error) {
	ruleSeen := map[string]bool{}
	var rules []sarifRule
	results := make([]sarifResult, 0, len(findings))

	limit := len(findings)
	truncated := false
	if opts.MaxResults > 0 && len(findings) > opts.MaxResults {
		limit = opts.MaxResults
		truncated = true
	}

	for i := 0; i < limit; i++ {
		f := findings[i]
		if !ruleSeen[f.RuleID] {
			ruleSeen[f.RuleID] = true
			rules = append(rules, sarifRule{ID: f.RuleID, HelpURI: f.HelpURI})
		}
		r := sarifResult{
			RuleID:  f.RuleID,
			Level:   sarifLevel(f.Severity),
			Message: sarifMessage{Text: f.Message},
		}
		if f.File != "" {
			r.Locations = []sarifLocation{{PhysicalLocation: sarifPhysicalLocation{ArtifactLocation: sarifArtifactLocation{URI: f.File}}}}
		}
		results = append(results, r)
	}

	run := sarifRun{
		Tool: sarifTool{Driver: sarifDriver{Name: "assay", Rules: rules}},
		Results: results,
	}
	log := sarifLog{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs:    []sarifRun{run},
	}
	if truncated {
		log.Runs[0].Properties = map[string]any{
			"assay": map[string]any{
				"truncated":     true,
				"omitted_count": len(findings) - limit,
			},
		}
	}
	return json.Marshal(log)
}
