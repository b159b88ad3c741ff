// Package evidence defines the CloudEvents-shaped evidence event envelope
// and the content-addressing functions built on it: content
// hashing, run-root chaining, and stream/key identifiers.
package evidence

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Event is a single immutable evidence record. Field names follow
// CloudEvents conventions: core attributes keep their
// CloudEvents names, and assay-specific extension attributes use the
// lowercase-alphanumeric-only form CloudEvents extensions require
// (e.g. "assayrunid", not "run_id").
type Event struct {
	SpecVersion     string `json:"specversion"`
	Type            string `json:"type"`
	Source          string `json:"source"`
	Subject         string `json:"subject,omitempty"`
	ID              string `json:"id"`
	Time            string `json:"time"`
	DataContentType string `json:"datacontenttype"`
	Data            any    `json:"data"`

	RunID           string `json:"assayrunid"`
	Seq             int    `json:"assayseq"`
	Producer        string `json:"assayproducer"`
	ProducerVersion string `json:"assayproducerversion"`
	GitSHA          string `json:"assaygit,omitempty"`
	PolicyID        string `json:"assaypolicyid,omitempty"`
	ContainsPII     bool   `json:"assaypii"`
	ContainsSecrets bool   `json:"assaysecrets"`
	ContentHash     string `json:"assaycontenthash,omitempty"`
	TraceParent     string `json:"assaytraceparent,omitempty"`
	TraceState      string `json:"assaytracestate,omitempty"`
}

// SpecVersion is the fixed CloudEvents spec version this model emits.
const SpecVersion = "1.0"

// Validate checks the structural invariants:
// id == "{run_id}:{seq}", run_id contains no colon, and source is a URI
// with a scheme. It does not check content_hash; call VerifyContentHash
// for that.
func (e *Event) Validate() error {
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("evidence: specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	}
	if strings.Contains(e.RunID, ":") {
		return fmt.Errorf("evidence: run_id must not contain ':': %q", e.RunID)
	}
	wantID := StreamID(e.RunID, e.Seq)
	if e.ID != wantID {
		return fmt.Errorf("evidence: id %q does not match run_id:seq %q", e.ID, wantID)
	}
	u, err := url.Parse(e.Source)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("evidence: source must be a URI with a scheme: %q", e.Source)
	}
	return nil
}

// StreamID builds the "{run_id}:{seq}" identifier for an event.
func StreamID(runID string, seq int) string {
	return runID + ":" + strconv.Itoa(seq)
}
