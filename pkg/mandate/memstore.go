package mandate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store, used for tests and single-process
// deployments. It honors the same consume contract as the SQL-backed
// stores: a single writer mutex around the whole read-check-write
// sequence gives the exactly-one-consumer-succeeds guarantee
// without needing real row-level locking.
type MemStore struct {
	mu          sync.Mutex
	meta        map[string]Meta
	revocations map[string]RevocationRecord
	byToolCall  map[string]Receipt // key: mandate_id + "\x00" + tool_call_id
	byNonce     map[string]bool    // key: mandate_id + "\x00" + nonce
	useCount    map[string]int     // key: mandate_id
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		meta:        make(map[string]Meta),
		revocations: make(map[string]RevocationRecord),
		byToolCall:  make(map[string]Receipt),
		byNonce:     make(map[string]bool),
		useCount:    make(map[string]int),
	}
}

func (s *MemStore) UpsertMandate(_ context.Context, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.MandateID] = meta
	return nil
}

func (s *MemStore) UpsertRevocation(_ context.Context, rec RevocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revocations[rec.MandateID] = rec
	return nil
}

func (s *MemStore) RevokedAt(_ context.Context, mandateID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.revocations[mandateID]
	if !ok {
		return time.Time{}, false, nil
	}
	return rec.RevokedAt, true, nil
}

func (s *MemStore) Consume(_ context.Context, params ConsumeParams) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	toolCallKey := params.MandateID + "\x00" + params.ToolCallID
	if existing, ok := s.byToolCall[toolCallKey]; ok {
		return existing, nil // idempotent: same tool_call_id seen before
	}

	meta := s.meta[params.MandateID]
	count := s.useCount[params.MandateID]

	if meta.SingleUse && count >= 1 {
		return Receipt{}, &Error{Kind: KindAlreadyUsed, Msg: params.MandateID}
	}
	if meta.MaxUses > 0 && count >= meta.MaxUses {
		return Receipt{}, &Error{Kind: KindMaxUsesExceeded, Msg: params.MandateID}
	}

	if params.Nonce != "" {
		nonceKey := params.MandateID + "\x00" + params.Nonce
		if s.byNonce[nonceKey] {
			return Receipt{}, &Error{Kind: KindNonceReplay, Msg: params.Nonce}
		}
		s.byNonce[nonceKey] = true
	}

	count++
	s.useCount[params.MandateID] = count

	receipt := Receipt{
		MandateID:  params.MandateID,
		UseID:      uuid.NewString(),
		ToolCallID: params.ToolCallID,
		ConsumedAt: params.Now,
		UseCount:   count,
	}
	s.byToolCall[toolCallKey] = receipt
	return receipt, nil
}
