// Package mandate implements the capability-token model: two-phase
// canonical identity, DSSE-style signing, and the runtime authorizer
// that gates tool invocations against a replay-safe consumption store.
package mandate

import "time"

// Kind is the mandate_kind discriminator.
type Kind string

const (
	KindIntent      Kind = "intent"
	KindTransaction Kind = "transaction"
)

// OperationClass is the tool-call operation class a scope permits.
type OperationClass string

const (
	OperationRead   OperationClass = "read"
	OperationWrite  OperationClass = "write"
	OperationCommit OperationClass = "commit"
)

// PayloadType is the DSSE payload_type constant mandates sign under.
// This constant is wire-pinned at exactly 38 bytes.
const PayloadType = "application/vnd.assay.mandate+json;v=1"

// Principal identifies who a mandate was issued to.
type Principal struct {
	Subject       string `json:"subject"`
	Method        string `json:"method"` // "oidc" | "mtls" | "api_key" | ...
	Display       string `json:"display,omitempty"`
	CredentialRef string `json:"credential_ref,omitempty"`
}

// Scope bounds what a mandate authorizes.
type Scope struct {
	Tools          []string       `json:"tools"`
	OperationClass OperationClass `json:"operation_class,omitempty"`
	TransactionRef string         `json:"transaction_ref,omitempty"`
	MaxValue       *float64       `json:"max_value,omitempty"`
}

// Validity bounds when a mandate may be used.
type Validity struct {
	IssuedAt  time.Time  `json:"issued_at"`
	NotBefore *time.Time `json:"not_before,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Constraints bounds how many times / under what conditions a mandate
// may be consumed.
type Constraints struct {
	SingleUse           bool `json:"single_use,omitempty"`
	MaxUses             int  `json:"max_uses,omitempty"`
	RequireConfirmation bool `json:"require_confirmation,omitempty"`
}

// Context carries the audience/issuer/replay-defense fields.
type Context struct {
	Audience    string `json:"audience"`
	Issuer      string `json:"issuer"`
	Nonce       string `json:"nonce,omitempty"`
	TraceParent string `json:"traceparent,omitempty"`
}

// Signature is the DSSE-shaped signature block attached to a mandate.
type Signature struct {
	Version             int    `json:"version"`
	Algorithm           string `json:"algorithm"`
	PayloadType         string `json:"payload_type"`
	ContentID           string `json:"content_id"`
	SignedPayloadDigest string `json:"signed_payload_digest"`
	KeyID               string `json:"key_id"`
	Signature           string `json:"signature"` // base64
}

// Mandate is a capability grant authorizing a principal to invoke a
// scoped set of tools within validity and constraint bounds.
type Mandate struct {
	MandateID   string      `json:"mandate_id,omitempty"`
	MandateKind Kind        `json:"mandate_kind"`
	Principal   Principal   `json:"principal"`
	Scope       Scope       `json:"scope"`
	Validity    Validity    `json:"validity"`
	Constraints Constraints `json:"constraints"`
	Context     Context     `json:"context"`
	Signature   *Signature  `json:"signature,omitempty"`
}

// ToolCall is what an authorizer evaluates a mandate against.
type ToolCall struct {
	ToolName          string
	OperationClass    OperationClass
	ToolCallID        string
	TransactionObject any // canonicalized and hashed against scope.TransactionRef when present

	// Credential is the caller's presented credential (e.g. an OIDC
	// bearer token), verified when the authorizer has a
	// CredentialVerifier registered for the principal's method.
	Credential string
}

// Receipt records that a specific mandate was used for a specific
// tool call.
type Receipt struct {
	MandateID  string    `json:"mandate_id"`
	UseID      string    `json:"use_id"`
	ToolCallID string    `json:"tool_call_id"`
	ConsumedAt time.Time `json:"consumed_at"`
	UseCount   int       `json:"use_count"`
}
