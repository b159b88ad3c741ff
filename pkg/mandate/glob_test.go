package mandate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMatchToolScope_ConformanceTable pins the glob conformance
// table exactly.
func TestMatchToolScope_ConformanceTable(t *testing.T) {
	cases := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"search_*", "search_products", true},
		{"search_*", "search.products", false},
		{"fs.**", "fs.write.nested.path", true},
		{"*", "ns.tool", false},
		{"**", "anything.at.all", true},
		{`file\*name`, "file*name", true},
	}
	for _, c := range cases {
		got := MatchToolScope([]string{c.pattern}, c.input)
		assert.Equal(t, c.want, got, "pattern %q vs input %q", c.pattern, c.input)
	}
}

func TestMatchToolScope_CaseSensitive(t *testing.T) {
	assert.False(t, MatchToolScope([]string{"Search_*"}, "search_products"))
}

func TestMatchToolScope_MultiplePatternsAnyMatch(t *testing.T) {
	assert.True(t, MatchToolScope([]string{"purchase_*", "search_*"}, "search_users"))
	assert.False(t, MatchToolScope([]string{"purchase_*", "search_*"}, "delete_account"))
}

func TestMatchToolScope_EscapedBackslash(t *testing.T) {
	assert.True(t, MatchToolScope([]string{`a\\b`}, `a\b`))
}
