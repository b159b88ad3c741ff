package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCassetteRejectsOutOfOrderInteractions(t *testing.T) {
	data := []byte(`{"run_id":"r1","interactions":[{"seq":1,"method":"GET","url":"https://x"},{"seq":0,"method":"GET","url":"https://y"}]}`)
	_, err := ParseCassette(data)
	require.Error(t, err)
}

func TestParseCassetteAcceptsOrderedInteractions(t *testing.T) {
	data := []byte(`{"run_id":"r1","interactions":[{"seq":0,"method":"GET","url":"https://x"},{"seq":1,"method":"GET","url":"https://y"}]}`)
	c, err := ParseCassette(data)
	require.NoError(t, err)
	assert.Len(t, c.Interactions, 2)
}

func TestScrubRedactsBodiesWhenPolicySet(t *testing.T) {
	c := &Cassette{Interactions: []Interaction{{Seq: 0, RequestBody: "secret-input", ResponseBody: "secret-output"}}}
	Scrub(c, ScrubPolicy{ScrubCassettes: true})
	assert.Empty(t, c.Interactions[0].RequestBody)
	assert.Empty(t, c.Interactions[0].ResponseBody)
	assert.True(t, c.Interactions[0].Scrubbed)
}

func TestScrubNoOpWhenPolicyUnset(t *testing.T) {
	c := &Cassette{Interactions: []Interaction{{Seq: 0, RequestBody: "keep-me"}}}
	Scrub(c, ScrubPolicy{ScrubCassettes: false})
	assert.Equal(t, "keep-me", c.Interactions[0].RequestBody)
}
