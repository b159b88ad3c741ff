package pack

// Severity is a rule's finding severity, ordered worst-to-best for
// sorting: Error, Warn, Info.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarn:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Requires captures the minimum assay-core version a pack declares
// compatibility with.
type Requires struct {
	AssayMinVersion string `json:"assay_min_version,omitempty"`
}

// CheckKind names which typed check body a Rule carries.
type CheckKind string

const (
	CheckEventCount  CheckKind = "event_count"
	CheckFieldEquals CheckKind = "field_equals"
	CheckPattern     CheckKind = "pattern"
	CheckCEL         CheckKind = "cel"
	CheckWasm        CheckKind = "wasm"
)

// Check is a rule's typed evaluation body. Exactly one of the
// kind-specific fields is populated, selected by Kind.
type Check struct {
	Kind CheckKind `json:"kind"`

	// event_count: assert the number of events matching EventType
	// (optional filter) satisfies Min/Max.
	EventType *string `json:"event_type,omitempty"`
	Min       *int    `json:"min,omitempty"`
	Max       *int    `json:"max,omitempty"`

	// field_equals: assert the Field (a dot-separated path into the
	// event's JSON, e.g. "data.tool_name") of every event matching
	// EventType equals Equals.
	Field  string `json:"field,omitempty"`
	Equals any    `json:"equals,omitempty"`

	// pattern: assert the dot-separated-path Field of every event
	// matching EventType matches the regular expression Pattern.
	Pattern string `json:"pattern,omitempty"`

	// cel: evaluate Expression (google/cel-go) once per event matching
	// EventType; the event is exposed as variable `event`, the finding
	// fails when the expression evaluates false.
	Expression string `json:"expression,omitempty"`

	// wasm: evaluate a compiled WASM module (tetratelabs/wazero),
	// invoking Function with the JSON encoding of each matching event
	// written into guest memory via the module's exported "alloc"; a
	// nonzero i32 result indicates a failing finding.
	ModuleBase64 string `json:"module_base64,omitempty"`
	Function     string `json:"function,omitempty"`
}

// Rule is one evaluable policy within a Pack.
type Rule struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	HelpURI     string   `json:"help_uri,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Check       Check    `json:"check"`
}

// PackKind classifies a pack's provenance/trust posture, used by the
// compliance-collision check: two packs of kind "compliance" may not
// declare the same rule ID.
type PackKind string

const (
	KindCustom     PackKind = "custom"
	KindCompliance PackKind = "compliance"
	KindCommunity  PackKind = "community"
)

// Pack is the decoded, strictly-validated contents of a pack.yaml
// (or .yml) document.
type Pack struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Kind        PackKind `json:"kind,omitempty"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	License     string   `json:"license,omitempty"`
	Disclaimer  string   `json:"disclaimer,omitempty"`
	Requires    Requires `json:"requires,omitempty"`
	Rules       []Rule   `json:"rules"`
}

// Ref identifies a pack by name and exact or range version constraint,
// as accepted by a pack reference string "name@version".
type Ref struct {
	Name    string
	Version string // exact version or semver constraint range
}
