package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// IntentStore is an in-memory implementation of storage.IntentStore.
type IntentStore struct {
	mu   sync.RWMutex
	data map[string]*types.PaymentIntent // keyed by intent id
	now  func() time.Time
}

// NewIntentStore creates a new in-memory intent store.
func NewIntentStore() *IntentStore {
	return &IntentStore{
		data: make(map[string]*types.PaymentIntent),
		now:  time.Now,
	}
}

var _ storage.IntentStore = (*IntentStore)(nil)

// Create stores a copy of the intent
func (s *IntentStore) Create(_ context.Context, intent *types.PaymentIntent) error {
	if err := storage.ValidateIntent(intent); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[intent.ID]; exists {
		return storage.ErrInvalidInput
	}

	ref := intent.Evidence.Ref()
	for _, existing := range s.data {
		if !existing.IsLive() {
			continue
		}
		if existing.Tenant == intent.Tenant && existing.OrderCode == intent.OrderCode {
			return storage.ErrLiveIntentExists
		}
		if existing.Evidence.Ref() == ref {
			return storage.ErrDuplicateTransaction
		}
	}

	c := intent.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.data[c.ID] = c
	intent.CreatedAt = c.CreatedAt
	return nil
}

// Get returns a copy of the intent
func (s *IntentStore) Get(_ context.Context, id string) (*types.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return intent.Clone(), nil
}

// Invalidate implements storage.IntentStore
func (s *IntentStore) Invalidate(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, exists := s.data[id]
	switch {
	case !exists:
		return false, storage.ErrNotFound
	case intent.Invalid:
		return false, nil
	case intent.IsConfirmed:
		return false, storage.ErrStateConflict
	}
	intent.Invalid = true
	return true, nil
}

// MarkConfirmed implements storage.IntentStore
func (s *IntentStore) MarkConfirmed(_ context.Context, id, txHash string) (bool, error) {
	txHash = strings.ToLower(txHash)
	if txHash == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	intent, exists := s.data[id]
	switch {
	case !exists:
		return false, storage.ErrNotFound
	case intent.Invalid:
		return false, storage.ErrStateConflict
	case intent.IsConfirmed:
		return false, nil
	}
	for _, other := range s.data {
		if other.ID != id && other.ConfirmedTxHash == txHash {
			return false, storage.ErrDuplicateTransaction
		}
	}
	intent.IsConfirmed = true
	intent.ConfirmedTxHash = txHash
	return true, nil
}

// ListPendingForPayment implements storage.IntentStore
func (s *IntentStore) ListPendingForPayment(_ context.Context, paymentID string) ([]*types.PaymentIntent, error) {
	return s.list(func(i *types.PaymentIntent) bool {
		return i.PaymentID == paymentID && i.IsLive()
	}), nil
}

// ListByOrder implements storage.IntentStore
func (s *IntentStore) ListByOrder(_ context.Context, tenant, orderCode string) ([]*types.PaymentIntent, error) {
	return s.list(func(i *types.PaymentIntent) bool {
		return i.Tenant == tenant && i.OrderCode == orderCode
	}), nil
}

func (s *IntentStore) list(match func(*types.PaymentIntent) bool) []*types.PaymentIntent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.PaymentIntent
	for _, intent := range s.data {
		if match(intent) {
			result = append(result, intent.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
