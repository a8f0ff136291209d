package chains

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockObserver is a simple test observer
type mockObserver struct {
	network string
}

func (m *mockObserver) Network() string { return m.network }
func (m *mockObserver) ChainID() int64  { return 1 }

func (m *mockObserver) GetReceipt(ctx context.Context, txHash string) (TransactionReceipt, error) {
	return nil, ErrNotFound
}

func (m *mockObserver) GetTransaction(ctx context.Context, txHash string) (*Transaction, error) {
	return nil, ErrNotFound
}

func (m *mockObserver) BlockHeight(ctx context.Context) (uint64, error) { return 0, nil }

func (m *mockObserver) HasCode(ctx context.Context, address string) (bool, error) {
	return false, nil
}

func (m *mockObserver) IsValidSignature(ctx context.Context, wallet string, hash [32]byte, signature []byte) ([4]byte, error) {
	return [4]byte{}, nil
}

func (m *mockObserver) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (m *mockObserver) TokenBalance(ctx context.Context, token, address string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func TestRegistryIdempotent(t *testing.T) {
	registry := NewRegistry()

	observer1 := &mockObserver{network: "test-network"}
	observer2 := &mockObserver{network: "test-network"}

	err := registry.Register(observer1)
	assert.NoError(t, err, "First registration should succeed")

	// Second registration with same network replaces the first
	err = registry.Register(observer2)
	assert.NoError(t, err, "Second registration should succeed (idempotent)")

	retrieved, err := registry.Get("test-network")
	assert.NoError(t, err)
	assert.Same(t, observer2, retrieved, "Second observer should have replaced the first")
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := registry.Register(&mockObserver{network: "test-network"})
			assert.NoError(t, err, "Concurrent registration should not fail")
		}()
	}
	wg.Wait()

	assert.True(t, registry.IsSupported("test-network"))
	assert.Equal(t, []string{"test-network"}, registry.GetSupportedNetworks())
}

func TestRegistryGetUnknownNetwork(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("nope")
	assert.Error(t, err)
	assert.Error(t, registry.Register(nil))
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	assert.NoError(t, registry.Register(&mockObserver{network: "L1"}))
	assert.NoError(t, registry.Register(&mockObserver{network: "Optimism"}))

	registry.Unregister("L1")

	assert.False(t, registry.IsSupported("L1"))
	assert.Equal(t, []string{"Optimism"}, registry.GetSupportedNetworks())
}
