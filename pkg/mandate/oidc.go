package mandate

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialVerifier checks the credential a principal presented
// alongside a mandate. Implementations are looked up by
// Principal.Method; a method with no registered verifier is accepted
// as-is (the mandate signature already binds the principal).
type CredentialVerifier interface {
	VerifyCredential(principal Principal, credential string) error
}

// OIDCClaims are the JWT claims an OIDC credential must carry to back
// a mandate principal.
type OIDCClaims struct {
	jwt.RegisteredClaims
}

// OIDCVerifier validates a principal's bearer credential as a signed
// JWT whose subject matches the mandate principal. Keyfunc resolves
// the token's signing key (typically from a cached JWKS).
type OIDCVerifier struct {
	Keyfunc jwt.Keyfunc

	// Issuer and Audience, when non-empty, are enforced against the
	// token's iss/aud claims.
	Issuer   string
	Audience string
}

// VerifyCredential parses and validates credential as a JWT, then
// checks its subject against principal.Subject. The mandate's own
// audience/issuer checks run separately in the authorizer; these
// claims bind the *credential*, which may be issued by a different
// party than the mandate.
func (v *OIDCVerifier) VerifyCredential(principal Principal, credential string) error {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}

	token, err := jwt.ParseWithClaims(credential, &OIDCClaims{}, v.Keyfunc, opts...)
	if err != nil {
		return &Error{Kind: KindSignatureInvalid, Msg: fmt.Sprintf("oidc credential: %v", err)}
	}
	claims, ok := token.Claims.(*OIDCClaims)
	if !ok || !token.Valid {
		return &Error{Kind: KindSignatureInvalid, Msg: "oidc credential: invalid token"}
	}
	if claims.Subject != principal.Subject {
		return &Error{Kind: KindSignatureInvalid, Msg: fmt.Sprintf("oidc credential subject %q does not match principal %q", claims.Subject, principal.Subject)}
	}
	return nil
}
