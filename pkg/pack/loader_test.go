package pack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPack = `
name: test-pack
version: "1.0.0"
kind: custom
description: a minimal test pack
rules:
  - id: at-least-one-event
    severity: error
    description: at least one event must be present
    check:
      kind: event_count
      min: 1
`

func TestLoadBytesValid(t *testing.T) {
	p, err := LoadBytes([]byte(validPack))
	require.NoError(t, err)
	assert.Equal(t, "test-pack", p.Name)
	assert.Equal(t, "1.0.0", p.Version)
	assert.Len(t, p.Rules, 1)
}

func TestLoadBytesRejectsDuplicateKeys(t *testing.T) {
	doc := `
name: dup
version: "1.0.0"
name: dup-again
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindYAMLParseError, perr.Kind)
}

func TestLoadBytesRejectsAnchors(t *testing.T) {
	doc := `
name: &n anchored
version: "1.0.0"
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
}

func TestLoadBytesRejectsFloats(t *testing.T) {
	doc := `
name: floaty
version: "1.0.0"
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1.5}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindYAMLParseError, perr.Kind)
}

func TestLoadBytesRejectsUnknownField(t *testing.T) {
	doc := `
name: unknown-field
version: "1.0.0"
bogus_top_level_field: true
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnknownField, perr.Kind)
}

func TestLoadBytesRejectsMultiDocument(t *testing.T) {
	doc := validPack + "\n---\n" + validPack
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "multiple"))
}

func TestLoadBytesRejectsBadSemver(t *testing.T) {
	doc := `
name: bad-version
version: "not-a-version"
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
}

func TestLoadBytesRejectsDuplicateRuleID(t *testing.T) {
	doc := `
name: dup-rule
version: "1.0.0"
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
  - id: r1
    severity: warn
    description: d2
    check: {kind: event_count, min: 1}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
}

func TestLoadBytesRejectsAliases(t *testing.T) {
	doc := `
defaults: &defaults
  severity: error
name: alias-pack
version: "1.0.0"
rules:
  - id: r1
    <<: *defaults
    description: d
    check: {kind: event_count, min: 1}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
}
