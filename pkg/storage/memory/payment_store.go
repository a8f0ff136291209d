package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// PaymentStore is an in-memory implementation of storage.PaymentStore.
type PaymentStore struct {
	mu   sync.RWMutex
	data map[string]*types.Payment // keyed by payment id
}

// NewPaymentStore creates a new in-memory payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		data: make(map[string]*types.Payment),
	}
}

var _ storage.PaymentStore = (*PaymentStore)(nil)

// ListAwaiting implements storage.PaymentStore
func (s *PaymentStore) ListAwaiting(_ context.Context, tenant string) ([]*types.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Payment
	for _, p := range s.data {
		if p.Tenant == tenant && p.State.IsAwaiting() {
			result = append(result, p.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Get implements storage.PaymentStore
func (s *PaymentStore) Get(_ context.Context, id string) (*types.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Confirm implements storage.PaymentStore
func (s *PaymentStore) Confirm(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[id]
	switch {
	case !exists:
		return false, storage.ErrNotFound
	case p.State == types.PaymentStateConfirmed:
		return false, nil
	case !p.State.IsAwaiting():
		return false, storage.ErrStateConflict
	}
	p.State = types.PaymentStateConfirmed
	return true, nil
}

// Upsert implements storage.PaymentStore
func (s *PaymentStore) Upsert(_ context.Context, p *types.Payment) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[p.ID] = p.Clone()
	return nil
}
