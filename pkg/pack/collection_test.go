package pack

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, doc string) *Pack {
	t.Helper()
	p, err := LoadBytes([]byte(doc))
	require.NoError(t, err)
	return p
}

func TestCheckCollisionsDetectsDuplicateComplianceRuleID(t *testing.T) {
	a := mustLoad(t, `
name: soc2
version: "1.0.0"
kind: compliance
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`)
	b := mustLoad(t, `
name: iso27001
version: "1.0.0"
kind: compliance
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`)
	err := CheckCollisions([]*Pack{a, b})
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindComplianceCollision, perr.Kind)
}

func TestCheckCollisionsIgnoresSameRuleIDAcrossVersions(t *testing.T) {
	a := mustLoad(t, `
name: soc2
version: "1.0.0"
kind: compliance
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`)
	b := mustLoad(t, `
name: soc2
version: "2.0.0"
kind: compliance
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`)
	require.NoError(t, CheckCollisions([]*Pack{a, b}))
}

func TestEvaluateAllMergesAndSortsAcrossPacks(t *testing.T) {
	a := mustLoad(t, `
name: pack-a
version: "1.0.0"
rules:
  - id: need-events
    severity: warn
    description: d
    check: {kind: event_count, min: 1}
`)
	b := mustLoad(t, `
name: pack-b
version: "1.0.0"
rules:
  - id: need-more-events
    severity: error
    description: d
    check: {kind: event_count, min: 2}
`)
	findings, err := EvaluateAll(context.Background(), []*Pack{a, b}, nil)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	// deterministic order regardless of which pack finished first:
	// error-severity finding sorts ahead of warn
	assert.Equal(t, "pack-b@1.0.0:need-more-events", findings[0].RuleID)
	assert.Equal(t, "pack-a@1.0.0:need-events", findings[1].RuleID)
}

func TestEvaluateAllFailsFastOnCollision(t *testing.T) {
	doc := `
name: soc2
version: "1.0.0"
kind: compliance
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`
	a := mustLoad(t, doc)
	b := mustLoad(t, strings.Replace(doc, "soc2", "iso27001", 1))
	_, err := EvaluateAll(context.Background(), []*Pack{a, b}, nil)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindComplianceCollision, perr.Kind)
}

func TestCheckCollisionsIgnoresCustomPacks(t *testing.T) {
	a := mustLoad(t, validPack) // kind: custom, id: at-least-one-event
	b := mustLoad(t, validPack)
	require.NoError(t, CheckCollisions([]*Pack{a, b}))
}
