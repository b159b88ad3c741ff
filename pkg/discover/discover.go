// Package discover classifies evidence-bundle findings into CI
// discovery categories — "unmanaged tool call" and "missing
// authentication" — and maps them to the domain-specific exit codes
// reserved from 10 up for domain-specific check failures, consumed by
// CI entry points.
package discover

import (
	"fmt"

	"github.com/assay-sh/assay-core/pkg/evidence"
)

// Category names a discovery finding's failure mode.
type Category string

const (
	CategoryUnmanaged   Category = "unmanaged_tool_call"
	CategoryMissingAuth Category = "missing_authentication"
)

// Finding is one discovery-category hit against a single evidence
// event.
type Finding struct {
	Category Category
	EventID  string
	ToolName string
	Message  string
}

// Options configures Discover's classification.
type Options struct {
	// ManagedTools names the tool_name values considered covered by a
	// mandate; a tool call event whose tool_name is absent from this
	// set is reported as CategoryUnmanaged. A nil set treats every
	// tool as unmanaged (useful for "report everything" audits).
	ManagedTools map[string]bool

	// ToolCallEventType is the evidence event type identifying a tool
	// invocation, defaulting to "assay.tool.called".
	ToolCallEventType string
}

func (o Options) toolCallEventType() string {
	if o.ToolCallEventType != "" {
		return o.ToolCallEventType
	}
	return "assay.tool.called"
}

// Result is the full classification output for a run.
type Result struct {
	Findings []Finding
}

// Discover scans events for tool-call records lacking mandate
// coverage or authentication evidence.
func Discover(events []evidence.Event, opts Options) Result {
	var findings []Finding
	for _, e := range events {
		if e.Type != opts.toolCallEventType() {
			continue
		}
		data, _ := e.Data.(map[string]any)

		toolName, _ := data["tool_name"].(string)
		if opts.ManagedTools == nil || !opts.ManagedTools[toolName] {
			findings = append(findings, Finding{
				Category: CategoryUnmanaged, EventID: e.ID, ToolName: toolName,
				Message: fmt.Sprintf("tool call %q has no mandate coverage", toolName),
			})
		}

		authMethod, hasAuth := data["auth_method"].(string)
		if !hasAuth || authMethod == "" {
			findings = append(findings, Finding{
				Category: CategoryMissingAuth, EventID: e.ID, ToolName: toolName,
				Message: fmt.Sprintf("tool call %q has no recorded authentication", toolName),
			})
		}
	}
	return Result{Findings: findings}
}

// ExitCode maps a Result to its domain-specific exit code:
// 11 when any authentication is missing (the more severe condition),
// else 10 when any tool call is unmanaged, else 0.
func ExitCode(r Result) int {
	hasUnmanaged := false
	for _, f := range r.Findings {
		if f.Category == CategoryMissingAuth {
			return 11
		}
		if f.Category == CategoryUnmanaged {
			hasUnmanaged = true
		}
	}
	if hasUnmanaged {
		return 10
	}
	return 0
}
