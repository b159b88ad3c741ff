package replay

import (
	"encoding/json"
	"fmt"
)

// Interaction is one recorded outbound HTTP exchange. A cassette under
// cassettes/ holds an ordered sequence of these.
type Interaction struct {
	Seq            uint64            `json:"seq"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	RequestBody    string            `json:"request_body,omitempty"`
	StatusCode     int               `json:"status_code"`
	ResponseBody   string            `json:"response_body,omitempty"`
	Scrubbed       bool              `json:"scrubbed,omitempty"`
}

// Cassette is a recorded sequence of network interactions for a single
// run, read from one cassettes/<name>.json archive member.
type Cassette struct {
	RunID        string        `json:"run_id"`
	Interactions []Interaction `json:"interactions"`
}

// ParseCassette decodes a cassette archive member's bytes.
func ParseCassette(data []byte) (*Cassette, error) {
	var c Cassette
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("replay: parse cassette: %w", err)
	}
	for i := 1; i < len(c.Interactions); i++ {
		if c.Interactions[i].Seq <= c.Interactions[i-1].Seq {
			return nil, fmt.Errorf("replay: cassette interactions out of order at index %d", i)
		}
	}
	return &c, nil
}

// Scrub applies a ScrubPolicy to a cassette's interactions in place,
// blanking request/response bodies when policy.ScrubCassettes is set.
// Headers, including any Authorization header, are left untouched;
// a credential left in a cassette is caught only by bundle.Verify's
// secret scan over the written archive.
func Scrub(c *Cassette, policy ScrubPolicy) {
	if !policy.ScrubCassettes {
		return
	}
	for i := range c.Interactions {
		c.Interactions[i].RequestBody = ""
		c.Interactions[i].ResponseBody = ""
		c.Interactions[i].Scrubbed = true
	}
}
