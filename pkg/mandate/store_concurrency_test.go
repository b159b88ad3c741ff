package mandate

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// runConcurrencyContract exercises the store's core guarantee: N
// goroutines, each simulating its own connection, race to consume the
// same mandate with distinct tool_call_ids. Every consumer must
// succeed, and the resulting use_count values must be exactly the set
// {1, ..., n} with no gaps and no duplicates.
func runConcurrencyContract(t *testing.T, store Store, mandateID string, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertMandate(ctx, Meta{MandateID: mandateID, MaxUses: n}))

	var wg sync.WaitGroup
	counts := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := store.Consume(ctx, ConsumeParams{
				MandateID:  mandateID,
				ToolCallID: toolCallID(i),
				Now:        time.Now(),
			})
			counts[i] = r.UseCount
			errs[i] = err
		}(i)
	}
	wg.Wait()

	got := make([]int, 0, n)
	for i, err := range errs {
		require.NoError(t, err, "consumer %d", i)
		got = append(got, counts[i])
	}
	sort.Ints(got)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, got)
}

func toolCallID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "tc-" + string(letters[i%len(letters)]) + string(rune('0'+i/len(letters)))
}

func TestMemStoreConcurrency(t *testing.T) {
	runConcurrencyContract(t, NewMemStore(), "sha256:concurrency-mem", 10)
}

func TestSQLStoreConcurrency(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // in-memory sqlite is a single logical connection even with cache=shared
	defer db.Close()

	store, err := NewSQLStore(db)
	require.NoError(t, err)
	runConcurrencyContract(t, store, "sha256:concurrency-sql", 10)
}

func TestStoreNonceReplayRaceYieldsExactlyOneSuccess(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertMandate(ctx, Meta{MandateID: "sha256:nonce-race", MaxUses: 10}))

	var wg sync.WaitGroup
	successes := make(chan struct{}, 2)
	replays := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Consume(ctx, ConsumeParams{
				MandateID:  "sha256:nonce-race",
				ToolCallID: toolCallID(i),
				Nonce:      "shared-nonce",
				Now:        time.Now(),
			})
			if err == nil {
				successes <- struct{}{}
				return
			}
			var mErr *Error
			if ok := asErr(err, &mErr); ok && mErr.Kind == KindNonceReplay {
				replays <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(successes)
	close(replays)

	assert.Len(t, successes, 1)
	assert.Len(t, replays, 1)
}

func asErr(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
