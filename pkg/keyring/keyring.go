// Package keyring holds Ed25519 verifying keys shared by the mandate
// engine and the pack verifier: both need "look up a key by id, honoring
// expiry and revocation" and neither needs anything fancier.
package keyring

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"
)

// Key is a single trusted verifying key.
type Key struct {
	KeyID      string
	PublicKey  ed25519.PublicKey
	NotBefore  time.Time // zero value means always valid from the start of time
	NotAfter   time.Time // zero value means no expiry
	Revoked    bool
	RevokedAt  time.Time
}

// Active reports whether the key is usable for verification at t: not
// revoked and within its validity window.
func (k Key) Active(t time.Time) bool {
	if k.Revoked {
		return false
	}
	if !k.NotBefore.IsZero() && t.Before(k.NotBefore) {
		return false
	}
	if !k.NotAfter.IsZero() && t.After(k.NotAfter) {
		return false
	}
	return true
}

// KeyRing is a concurrency-safe set of trusted keys, keyed by key id.
// It backs both pkg/mandate's signature verification and pkg/pack's
// TrustStore.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// New returns an empty KeyRing.
func New() *KeyRing {
	return &KeyRing{keys: make(map[string]Key)}
}

// Add inserts or replaces a key by id.
func (r *KeyRing) Add(k Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[k.KeyID] = k
}

// Revoke marks a key as revoked as of t. Revoking an unknown key id is a
// no-op; callers that need to distinguish "unknown" from "revoked"
// should call Lookup first.
func (r *KeyRing) Revoke(keyID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[keyID]
	if !ok {
		return
	}
	k.Revoked = true
	k.RevokedAt = t
	r.keys[keyID] = k
}

// Lookup returns the key registered under keyID.
func (r *KeyRing) Lookup(keyID string) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[keyID]
	return k, ok
}

// ErrUnknownKey and ErrKeyNotActive are returned by Verify.
var (
	ErrUnknownKey   = fmt.Errorf("keyring: unknown key id")
	ErrKeyNotActive = fmt.Errorf("keyring: key not active")
)

// Verify looks up keyID and checks it is active at t before reporting
// whether sig is a valid Ed25519 signature over message. Verification
// callers (mandate authorize, pack verifier) use this instead of raw
// ed25519.Verify so that expiry/revocation are never accidentally
// skipped.
func (r *KeyRing) Verify(keyID string, t time.Time, message, sig []byte) (bool, error) {
	k, ok := r.Lookup(keyID)
	if !ok {
		return false, ErrUnknownKey
	}
	if !k.Active(t) {
		return false, ErrKeyNotActive
	}
	return ed25519.Verify(k.PublicKey, message, sig), nil
}
