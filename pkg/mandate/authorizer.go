package mandate

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/assay-sh/assay-core/pkg/jcs"
	"github.com/assay-sh/assay-core/pkg/keyring"
	"github.com/assay-sh/assay-core/pkg/telemetry"
)

// AuthorizerConfig configures an Authorizer's runtime checks.
type AuthorizerConfig struct {
	ClockSkew        time.Duration
	ExpectedAudience string
	TrustedIssuers   []string

	// Strict requires a valid signature verifiable against Keys; when
	// false (test mode), signature verification is skipped entirely,
	// whether or not the mandate carries a signature.
	Strict bool
	Keys   *keyring.KeyRing

	// Credentials maps a principal method ("oidc", "mtls", ...) to the
	// verifier for credentials presented under that method. Methods
	// with no entry skip credential verification.
	Credentials map[string]CredentialVerifier

	// Telemetry, when set, records a span and counters per Authorize
	// call.
	Telemetry *telemetry.Provider
}

// Authorizer is the runtime gate for tool invocations: it validates a
// presented mandate against a tool call and, once every check passes,
// consumes it through the replay-safe Store.
type Authorizer struct {
	cfg   AuthorizerConfig
	store Store
}

// NewAuthorizer builds an Authorizer over store with cfg.
func NewAuthorizer(cfg AuthorizerConfig, store Store) *Authorizer {
	return &Authorizer{cfg: cfg, store: store}
}

// Authorize runs the authorization checks in a fixed order, returning the
// consumption Receipt on success or the first failing check's typed
// *Error.
func (a *Authorizer) Authorize(ctx context.Context, m *Mandate, tc ToolCall, now time.Time) (receipt Receipt, err error) {
	if a.cfg.Telemetry != nil {
		var done func(error)
		ctx, done = a.cfg.Telemetry.TrackOperation(ctx, telemetry.OpAuthorize,
			attribute.String("assay.tool", tc.ToolName),
			attribute.String("assay.operation_class", string(tc.OperationClass)),
		)
		defer func() { done(err) }()
	}

	if a.cfg.Strict {
		if err := a.verifySignature(m, now); err != nil {
			return Receipt{}, err
		}
	}

	if verifier, ok := a.cfg.Credentials[m.Principal.Method]; ok && tc.Credential != "" {
		if err := verifier.VerifyCredential(m.Principal, tc.Credential); err != nil {
			return Receipt{}, err
		}
	}

	if revokedAt, ok, err := a.store.RevokedAt(ctx, m.MandateID); err != nil {
		return Receipt{}, fmt.Errorf("mandate: check revocation: %w", err)
	} else if ok && !revokedAt.After(now) {
		return Receipt{}, &Error{Kind: KindRevoked, Reason: "mandate revoked"}
	}

	if m.Context.Audience != a.cfg.ExpectedAudience {
		return Receipt{}, &Error{Kind: KindAudienceMismatch, Msg: m.Context.Audience}
	}

	if !contains(a.cfg.TrustedIssuers, m.Context.Issuer) {
		return Receipt{}, &Error{Kind: KindIssuerNotTrusted, Msg: m.Context.Issuer}
	}

	if m.Validity.NotBefore != nil && now.Before(m.Validity.NotBefore.Add(-a.cfg.ClockSkew)) {
		return Receipt{}, &Error{Kind: KindNotYetValid, Msg: m.Validity.NotBefore.String()}
	}
	if m.Validity.ExpiresAt != nil && now.After(m.Validity.ExpiresAt.Add(a.cfg.ClockSkew)) {
		return Receipt{}, &Error{Kind: KindExpired, Msg: m.Validity.ExpiresAt.String()}
	}

	if !MatchToolScope(m.Scope.Tools, tc.ToolName) {
		return Receipt{}, &Error{Kind: KindToolNotInScope, Tool: tc.ToolName}
	}

	if !kindCompatible(m.MandateKind, tc.OperationClass) {
		return Receipt{}, &Error{Kind: KindKindMismatch, Msg: string(tc.OperationClass)}
	}

	if m.Scope.TransactionRef != "" {
		if tc.TransactionObject == nil {
			return Receipt{}, &Error{Kind: KindMissingTransactionObject}
		}
		gotRef, err := jcs.Hash(tc.TransactionObject)
		if err != nil {
			return Receipt{}, fmt.Errorf("mandate: hash transaction object: %w", err)
		}
		if gotRef != m.Scope.TransactionRef {
			return Receipt{}, &Error{Kind: KindTransactionRefMismatch, Msg: gotRef}
		}
	}

	meta := Meta{MandateID: m.MandateID, SingleUse: m.Constraints.SingleUse, MaxUses: m.Constraints.MaxUses, IssuedAt: m.Validity.IssuedAt}
	if m.Validity.ExpiresAt != nil {
		meta.ExpiresAt = *m.Validity.ExpiresAt
	}
	if err := a.store.UpsertMandate(ctx, meta); err != nil {
		return Receipt{}, fmt.Errorf("mandate: upsert meta: %w", err)
	}

	receipt, err = a.store.Consume(ctx, ConsumeParams{
		MandateID:  m.MandateID,
		ToolCallID: tc.ToolCallID,
		Nonce:      m.Context.Nonce,
		Now:        now,
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (a *Authorizer) verifySignature(m *Mandate, now time.Time) error {
	if m.Signature == nil {
		return &Error{Kind: KindSignatureInvalid, Msg: "strict mode requires a signed mandate"}
	}
	if a.cfg.Keys == nil {
		return &Error{Kind: KindSignatureInvalid, Msg: "no trusted keys configured"}
	}
	key, ok := a.cfg.Keys.Lookup(m.Signature.KeyID)
	if !ok {
		return &Error{Kind: KindKeyIDMismatch, Msg: m.Signature.KeyID}
	}
	if !key.Active(now) {
		return &Error{Kind: KindSignatureInvalid, Msg: "signing key not active"}
	}
	return VerifyMandate(m, ed25519.PublicKey(key.PublicKey))
}

func kindCompatible(kind Kind, op OperationClass) bool {
	switch kind {
	case KindIntent:
		return op == OperationRead || op == OperationWrite
	case KindTransaction:
		return op == OperationRead || op == OperationWrite || op == OperationCommit
	default:
		return false
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
