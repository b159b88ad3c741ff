package pack

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortFindingsOrdersBySeverityThenRuleThenMessage(t *testing.T) {
	findings := []Finding{
		{RuleID: "b", Severity: SeverityWarn, Message: "m2"},
		{RuleID: "a", Severity: SeverityError, Message: "m1"},
		{RuleID: "a", Severity: SeverityError, Message: "m0"},
		{RuleID: "c", Severity: SeverityInfo, Message: "m3"},
	}
	SortFindings(findings)
	assert.Equal(t, []string{"a", "a", "b", "c"}, []string{findings[0].RuleID, findings[1].RuleID, findings[2].RuleID, findings[3].RuleID})
	assert.Equal(t, "m0", findings[0].Message)
	assert.Equal(t, "m1", findings[1].Message)
}

func TestExitCodeHonorsPassOnThreshold(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil, SeverityWarn))
	assert.Equal(t, 0, ExitCode([]Finding{{Severity: SeverityInfo}}, SeverityWarn))
	assert.Equal(t, 1, ExitCode([]Finding{{Severity: SeverityWarn}}, SeverityWarn))
	assert.Equal(t, 1, ExitCode([]Finding{{Severity: SeverityError}}, SeverityWarn))
	assert.Equal(t, 0, ExitCode([]Finding{{Severity: SeverityWarn}}, SeverityError))
	assert.Equal(t, 1, ExitCode([]Finding{{Severity: SeverityInfo}}, SeverityInfo))
}

func TestSARIFTruncatesAndRecordsMetadata(t *testing.T) {
	findings := make([]Finding, 5)
	for i := range findings {
		findings[i] = Finding{RuleID: "r", Severity: SeverityError, Message: "m"}
	}
	out, err := SARIF(findings, SARIFOptions{MaxResults: 3})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	runs := decoded["runs"].([]any)
	run := runs[0].(map[string]any)
	results := run["results"].([]any)
	assert.Len(t, results, 3)
	props := run["properties"].(map[string]any)["assay"].(map[string]any)
	assert.Equal(t, true, props["truncated"])
	assert.Equal(t, float64(2), props["omitted_count"])
}

func TestSARIFNoTruncationWithinCap(t *testing.T) {
	findings := []Finding{{RuleID: "r", Severity: SeverityError, Message: "m"}}
	out, err := SARIF(findings, SARIFOptions{MaxResults: 10})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	results := decoded["runs"].([]any)[0].(map[string]any)["results"].([]any)
	assert.Len(t, results, 1)
}
