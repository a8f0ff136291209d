package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// RefundStore is an in-memory implementation of storage.RefundStore.
type RefundStore struct {
	mu   sync.RWMutex
	data map[string]*types.Refund // keyed by refund id
}

// NewRefundStore creates a new in-memory refund store.
func NewRefundStore() *RefundStore {
	return &RefundStore{
		data: make(map[string]*types.Refund),
	}
}

var _ storage.RefundStore = (*RefundStore)(nil)

// ListAwaiting implements storage.RefundStore
func (s *RefundStore) ListAwaiting(_ context.Context, tenant string) ([]*types.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Refund
	for _, r := range s.data {
		if r.Tenant == tenant && r.State == types.RefundStateCreated {
			result = append(result, r.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Done implements storage.RefundStore
func (s *RefundStore) Done(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[id]
	switch {
	case !exists:
		return false, storage.ErrNotFound
	case r.State == types.RefundStateDone:
		return false, nil
	case r.State != types.RefundStateCreated:
		return false, storage.ErrStateConflict
	}
	r.State = types.RefundStateDone
	return true, nil
}

// Upsert implements storage.RefundStore
func (s *RefundStore) Upsert(_ context.Context, r *types.Refund) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[r.ID] = r.Clone()
	return nil
}
