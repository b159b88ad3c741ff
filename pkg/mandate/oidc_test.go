package mandate

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestOIDCVerifier(t *testing.T) {
	secret := []byte("test-secret")
	verifier := &OIDCVerifier{
		Keyfunc: func(*jwt.Token) (any, error) { return secret, nil },
		Issuer:  "auth.myorg.com",
	}
	principal := Principal{Subject: "user-123", Method: "oidc"}
	now := time.Now()

	t.Run("valid credential", func(t *testing.T) {
		cred := signTestToken(t, secret, jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "auth.myorg.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		})
		assert.NoError(t, verifier.VerifyCredential(principal, cred))
	})

	t.Run("subject mismatch", func(t *testing.T) {
		cred := signTestToken(t, secret, jwt.RegisteredClaims{
			Subject:   "someone-else",
			Issuer:    "auth.myorg.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		})
		var merr *Error
		require.ErrorAs(t, verifier.VerifyCredential(principal, cred), &merr)
		assert.Equal(t, KindSignatureInvalid, merr.Kind)
	})

	t.Run("expired credential", func(t *testing.T) {
		cred := signTestToken(t, secret, jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "auth.myorg.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		})
		assert.Error(t, verifier.VerifyCredential(principal, cred))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		cred := signTestToken(t, secret, jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "attacker.example",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		})
		assert.Error(t, verifier.VerifyCredential(principal, cred))
	})

	t.Run("tampered token", func(t *testing.T) {
		cred := signTestToken(t, secret, jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "auth.myorg.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		})
		assert.Error(t, verifier.VerifyCredential(principal, cred+"x"))
	})
}
