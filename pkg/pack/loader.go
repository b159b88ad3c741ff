package pack

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const (
	maxDocBytes  = 1 << 20 // 1 MiB
	maxDepth     = 32
	maxMapKeys   = 512
	maxSeqItems  = 4096
	maxStringLen = 64 << 10 // 64 KiB
)

// LoadBytes strictly decodes a pack document: it rejects YAML anchors,
// aliases, custom tags, floats, duplicate mapping keys, and multiple
// documents, then rejects any JSON field unknown to Pack. This keeps a
// pack.yaml reproducible and free of the YAML features that make
// byte-for-byte canonicalization or sandboxed evaluation unsafe.
func LoadBytes(data []byte) (*Pack, error) {
	if len(data) > maxDocBytes {
		return nil, errKind(KindYAMLParseError, "document exceeds maximum size")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		return nil, &Error{Kind: KindYAMLParseError, Msg: err.Error()}
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, errKind(KindYAMLParseError, "multiple YAML documents are not permitted")
	}

	value, err := nodeToValue(&root, 0)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return nil, &Error{Kind: KindYAMLParseError, Msg: err.Error()}
	}

	var shape any
	if err := json.Unmarshal(jsonBytes, &shape); err != nil {
		return nil, &Error{Kind: KindYAMLParseError, Msg: err.Error()}
	}
	if err := validatePackShape(shape); err != nil {
		return nil, err
	}

	jdec := json.NewDecoder(bytes.NewReader(jsonBytes))
	jdec.DisallowUnknownFields()
	var p Pack
	if err := jdec.Decode(&p); err != nil {
		return nil, &Error{Kind: KindUnknownField, Msg: err.Error()}
	}

	if err := validatePack(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func validatePack(p *Pack) error {
	if p.Name == "" {
		return errKind(KindYAMLParseError, "pack.name is required")
	}
	if _, err := semver.NewVersion(p.Version); err != nil {
		return &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("pack.version %q is not valid semver: %v", p.Version, err)}
	}
	if len(p.Rules) == 0 {
		return errKind(KindYAMLParseError, "pack must declare at least one rule")
	}
	seen := map[string]bool{}
	for _, r := range p.Rules {
		if r.ID == "" {
			return errKind(KindYAMLParseError, "rule.id is required")
		}
		if seen[r.ID] {
			return &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("duplicate rule id %q", r.ID)}
		}
		seen[r.ID] = true
		switch r.Severity {
		case SeverityError, SeverityWarn, SeverityInfo:
		default:
			return &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("rule %q: invalid severity %q", r.ID, r.Severity)}
		}
		switch r.Check.Kind {
		case CheckEventCount, CheckFieldEquals, CheckPattern, CheckCEL, CheckWasm:
		default:
			return &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("rule %q: invalid check.kind %q", r.ID, r.Check.Kind)}
		}
	}
	return nil
}

// nodeToValue converts a strictly-constrained YAML node tree into a
// generic JSON-compatible value (map[string]any, []any, string,
// json.Number-compatible int64, bool, or nil).
func nodeToValue(n *yaml.Node, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errKind(KindYAMLParseError, "document exceeds maximum nesting depth")
	}
	if n.Anchor != "" {
		return nil, errKind(KindYAMLParseError, "YAML anchors are not permitted")
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) != 1 {
			return nil, errKind(KindYAMLParseError, "malformed document")
		}
		return nodeToValue(n.Content[0], depth)

	case yaml.AliasNode:
		return nil, errKind(KindYAMLParseError, "YAML aliases are not permitted")

	case yaml.MappingNode:
		if !allowedTag(n.Tag, "!!map") {
			return nil, &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("disallowed tag %q on mapping", n.Tag)}
		}
		if len(n.Content)/2 > maxMapKeys {
			return nil, errKind(KindYAMLParseError, "mapping exceeds maximum key count")
		}
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode, valNode := n.Content[i], n.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode || keyNode.Tag != "!!str" {
				return nil, errKind(KindYAMLParseError, "mapping keys must be strings")
			}
			key := keyNode.Value
			if _, dup := out[key]; dup {
				return nil, &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("duplicate key %q", key)}
			}
			val, err := nodeToValue(valNode, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil

	case yaml.SequenceNode:
		if !allowedTag(n.Tag, "!!seq") {
			return nil, &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("disallowed tag %q on sequence", n.Tag)}
		}
		if len(n.Content) > maxSeqItems {
			return nil, errKind(KindYAMLParseError, "sequence exceeds maximum item count")
		}
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeToValue(c, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.ScalarNode:
		if len(n.Value) > maxStringLen {
			return nil, errKind(KindYAMLParseError, "scalar exceeds maximum length")
		}
		switch n.Tag {
		case "!!str":
			return n.Value, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, &Error{Kind: KindYAMLParseError, Msg: err.Error()}
			}
			return b, nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return nil, &Error{Kind: KindYAMLParseError, Msg: err.Error()}
			}
			return i, nil
		case "!!null":
			return nil, nil
		case "!!float":
			return nil, errKind(KindYAMLParseError, "floating point values are not permitted in pack documents")
		default:
			return nil, &Error{Kind: KindYAMLParseError, Msg: fmt.Sprintf("disallowed scalar tag %q", n.Tag)}
		}

	default:
		return nil, errKind(KindYAMLParseError, "unsupported YAML node kind")
	}
}

func allowedTag(tag, want string) bool {
	return tag == want || tag == ""
}
