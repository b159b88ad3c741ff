package pack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() registryBackoffPolicy {
	return registryBackoffPolicy{Base: time.Millisecond, Max: 20 * time.Millisecond, MaxJitter: time.Millisecond, MaxAttempts: 6}
}

func TestRegistryFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pack-Digest", "sha256:abc")
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(validPack))
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, srv.Client())
	client.Backoff = fastBackoff()
	res, err := client.Fetch(context.Background(), Ref{Name: "test-pack", Version: "1.0.0"}, "")
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", res.Digest)
	assert.Equal(t, `"v1"`, res.ETag)
	assert.False(t, res.NotModified)
}

func TestRegistryFetchNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, srv.Client())
	client.Backoff = fastBackoff()
	res, err := client.Fetch(context.Background(), Ref{Name: "test-pack", Version: "1.0.0"}, `"v1"`)
	require.NoError(t, err)
	assert.True(t, res.NotModified)
}

func TestRegistryFetchRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-Pack-Digest", "sha256:abc")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(validPack))
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, srv.Client())
	client.Backoff = fastBackoff()
	res, err := client.Fetch(context.Background(), Ref{Name: "test-pack", Version: "1.0.0"}, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.NotNil(t, res)
}

func TestRegistryFetchHonorsRetryAfterWait(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-Pack-Digest", "sha256:abc")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(validPack))
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, srv.Client())
	client.Backoff = registryBackoffPolicy{Base: time.Millisecond, Max: 30 * time.Second, MaxJitter: time.Millisecond, MaxAttempts: 3}
	start := time.Now()
	_, err := client.Fetch(context.Background(), Ref{Name: "test-pack", Version: "1.0.0"}, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestRegistryFetchRevokedSurfacesReasonAndSafeVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"reason":"vulnerable to X","safe_version":"1.0.1"}`))
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, srv.Client())
	client.Backoff = fastBackoff()
	_, err := client.Fetch(context.Background(), Ref{Name: "test-pack", Version: "1.0.0"}, "")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRevoked, perr.Kind)
	assert.Equal(t, "vulnerable to X", perr.Reason)
	assert.Equal(t, "1.0.1", perr.SafeVersion)
}

func TestRegistryFetchUnauthorizedAndNotFound(t *testing.T) {
	for status, wantKind := range map[int]ErrorKind{
		http.StatusUnauthorized: KindUnauthorized,
		http.StatusNotFound:     KindNotFound,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := NewRegistryClient(srv.URL, srv.Client())
		client.Backoff = fastBackoff()
		_, err := client.Fetch(context.Background(), Ref{Name: "test-pack", Version: "1.0.0"}, "")
		require.Error(t, err)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, wantKind, perr.Kind)
		srv.Close()
	}
}

func TestRegistryFetchSignatureMissingReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL, srv.Client())
	env, err := client.FetchSignature(context.Background(), Ref{Name: "test-pack", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Nil(t, env)
}
