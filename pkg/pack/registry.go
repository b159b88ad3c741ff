package pack

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/assay-sh/assay-core/pkg/dsse"
)

// registryBackoffPolicy bounds retry delay: exponential growth from
// Base, capped at Max, with deterministic jitter derived from a
// SHA-256 PRF so retries are reproducible in tests without a real
// clock or RNG.
type registryBackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
}

var defaultBackoff = registryBackoffPolicy{
	Base:        200 * time.Millisecond,
	Max:         30 * time.Second,
	MaxJitter:   500 * time.Millisecond,
	MaxAttempts: 6,
}

func computeBackoff(policy registryBackoffPolicy, seed string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	base := int64(policy.Base) * factor
	if base > int64(policy.Max) {
		base = int64(policy.Max)
	}
	jitter := deterministicJitter(seed, attempt, policy.MaxJitter)
	d := time.Duration(base) + jitter
	if d > policy.Max {
		d = policy.Max
	}
	return d
}

func deterministicJitter(seed string, attempt int, max time.Duration) time.Duration {
	if max == 0 {
		return 0
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", seed, attempt)))
	basis := binary.BigEndian.Uint64(h[:8])
	return time.Duration(basis%uint64(max.Nanoseconds())) * time.Nanosecond
}

// RegistryClient fetches packs over the registry HTTP protocol.
type RegistryClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Backoff    registryBackoffPolicy

	// Limiter throttles outbound requests, including backoff retries, so
	// a retry loop can never hammer a recovering registry.
	Limiter *rate.Limiter
}

// NewRegistryClient builds a client against baseURL using http.Client
// hc (or http.DefaultClient if nil).
func NewRegistryClient(baseURL string, hc *http.Client) *RegistryClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &RegistryClient{
		BaseURL:    baseURL,
		HTTPClient: hc,
		Backoff:    defaultBackoff,
		Limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (c *RegistryClient) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// FetchResult is the outcome of a successful pack GET.
type FetchResult struct {
	Content     []byte
	Digest      string
	Signature   string
	KeyID       string
	ETag        string
	NotModified bool
}

// Fetch retrieves a pack by ref, optionally conditional on ifNoneMatch
// (an ETag previously observed). Retryable failures (429, 5xx,
// network errors) are retried with backoff up to Backoff.MaxAttempts;
// all other statuses map directly to a typed *Error.
func (c *RegistryClient) Fetch(ctx context.Context, ref Ref, ifNoneMatch string) (*FetchResult, error) {
	url := fmt.Sprintf("%s/packs/%s/%s", c.BaseURL, ref.Name, ref.Version)
	seed := "fetch:" + url

	var lastErr error
	for attempt := 0; attempt < c.Backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(computeBackoff(c.Backoff, seed, attempt)):
			}
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if ifNoneMatch != "" {
			req.Header.Set("If-None-Match", ifNoneMatch)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = &Error{Kind: KindNetwork, Msg: err.Error()}
			continue
		}

		result, retryAfter, retry, err := decodeFetchResponse(resp)
		if err != nil {
			return nil, err
		}
		if retry {
			lastErr = &Error{Kind: KindRateLimited, RetryAfter: retryAfter}
			if retryAfter > 0 {
				wait := time.Duration(retryAfter) * time.Second
				if wait > c.Backoff.Max {
					wait = c.Backoff.Max
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
			}
			continue
		}
		return result, nil
	}
	return nil, lastErr
}

func decodeFetchResponse(resp *http.Response) (*FetchResult, int, bool, error) {
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, false, &Error{Kind: KindNetwork, Msg: err.Error()}
		}
		return &FetchResult{
			Content:   body,
			Digest:    resp.Header.Get("X-Pack-Digest"),
			Signature: resp.Header.Get("X-Pack-Signature"),
			KeyID:     resp.Header.Get("X-Pack-Key-Id"),
			ETag:      resp.Header.Get("ETag"),
		}, 0, false, nil
	case http.StatusNotModified:
		return &FetchResult{NotModified: true, ETag: resp.Header.Get("ETag")}, 0, false, nil
	case http.StatusUnauthorized:
		return nil, 0, false, &Error{Kind: KindUnauthorized}
	case http.StatusNotFound:
		return nil, 0, false, &Error{Kind: KindNotFound}
	case http.StatusGone:
		var body struct {
			Reason      string `json:"reason"`
			SafeVersion string `json:"safe_version"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, 0, false, &Error{Kind: KindRevoked, Reason: body.Reason, SafeVersion: body.SafeVersion}
	case http.StatusTooManyRequests:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			retryAfter, _ = strconv.Atoi(v)
		}
		return nil, retryAfter, true, nil
	default:
		if resp.StatusCode >= 500 {
			return nil, 0, true, nil
		}
		return nil, 0, false, &Error{Kind: KindNetwork, Msg: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}

// FetchSignature retrieves the DSSE signature sidecar for ref, or nil
// when the registry reports 404 (no signature published).
func (c *RegistryClient) FetchSignature(ctx context.Context, ref Ref) (*dsse.Envelope, error) {
	url := fmt.Sprintf("%s/packs/%s/%s.sig", c.BaseURL, ref.Name, ref.Version)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Msg: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var env dsse.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, &Error{Kind: KindYAMLParseError, Msg: err.Error()}
		}
		return &env, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, &Error{Kind: KindNetwork, Msg: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}

// Versions lists name's published versions in the order the registry
// returns them; it does not sort them.
func (c *RegistryClient) Versions(ctx context.Context, name string) ([]string, error) {
	url := fmt.Sprintf("%s/packs/%s/versions", c.BaseURL, name)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindNetwork, Msg: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	var body struct {
		Name     string   `json:"name"`
		Versions []string `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: KindNetwork, Msg: err.Error()}
	}
	return body.Versions, nil
}

// TrustManifest is the registry's /keys response.
type TrustManifest struct {
	Version   int       `json:"version"`
	Keys      []KeyInfo `json:"keys"`
	ExpiresAt string    `json:"expires_at,omitempty"`
}

// KeyInfo is one entry of a TrustManifest.
type KeyInfo struct {
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"` // base64
	NotBefore string `json:"not_before,omitempty"`
	NotAfter  string `json:"not_after,omitempty"`
	Revoked   bool   `json:"revoked,omitempty"`
}

// Keys retrieves the registry's published trust manifest.
func (c *RegistryClient) Keys(ctx context.Context) (*TrustManifest, error) {
	url := c.BaseURL + "/keys"
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindNetwork, Msg: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	var manifest TrustManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, &Error{Kind: KindNetwork, Msg: err.Error()}
	}
	return &manifest, nil
}
