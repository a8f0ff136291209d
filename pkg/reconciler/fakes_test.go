package reconciler

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/chains/evm"
	"github.com/sigweihq/ethreconcile/pkg/safe"
	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/storage/memory"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

const (
	testTenant       = "shop"
	receivingAddress = "0x2222222222222222222222222222222222222222"
	daiL1            = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	otherToken       = "0x9999999999999999999999999999999999999999"
)

var oneEther = big.NewInt(1_000_000_000_000_000_000)

func txHash(n int) string {
	return "0x" + strings.Repeat(string("0123456789abcdef"[n%16]), 64)
}

// fakeReceipt is a chains.TransactionReceipt with canned fields
type fakeReceipt struct {
	hash      string
	ok        bool
	block     uint64
	transfers []chains.TransferEvent
}

func (r *fakeReceipt) TxHash() string { return r.hash }
func (r *fakeReceipt) IsSuccessful() bool { return r.ok }
func (r *fakeReceipt) BlockNumber() uint64 { return r.block }

func (r *fakeReceipt) TransferEvent(token, recipient string) (*chains.TransferEvent, error) {
	var first *chains.TransferEvent
	for _, t := range r.transfers {
		if !evm.AddressesEqual(t.Asset, token) {
			continue
		}
		t := t
		if evm.AddressesEqual(t.To, recipient) {
			return &t, nil
		}
		if first == nil {
			first = &t
		}
	}
	if first == nil {
		return nil, chains.ErrNoMatchingTransfer
	}
	return first, nil
}

// fakeObserver is a chains.Observer backed by maps
type fakeObserver struct {
	mu sync.Mutex

	network    string
	chainID    int64
	height     uint64
	receipts   map[string]*fakeReceipt
	txs        map[string]*chains.Transaction
	receiptErr error
	balanceErr error
	panicOn    string

	contracts map[string][4]byte // wallet -> isValidSignature answer
	balances  map[string]*big.Int

	receiptCalls int
}

func newFakeObserver(network string, chainID int64, height uint64) *fakeObserver {
	return &fakeObserver{
		network:   network,
		chainID:   chainID,
		height:    height,
		receipts:  make(map[string]*fakeReceipt),
		txs:       make(map[string]*chains.Transaction),
		contracts: make(map[string][4]byte),
		balances:  make(map[string]*big.Int),
	}
}

var _ chains.Observer = (*fakeObserver)(nil)

func (f *fakeObserver) Network() string { return f.network }
func (f *fakeObserver) ChainID() int64 { return f.chainID }

func (f *fakeObserver) GetReceipt(_ context.Context, hash string) (chains.TransactionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++

	if f.panicOn != "" && hash == f.panicOn {
		panic("observer exploded")
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	r, ok := f.receipts[strings.ToLower(hash)]
	if !ok {
		return nil, chains.ErrNotFound
	}
	return r, nil
}

func (f *fakeObserver) GetTransaction(_ context.Context, hash string) (*chains.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, ok := f.txs[strings.ToLower(hash)]
	if !ok {
		return nil, chains.ErrNotFound
	}
	return tx, nil
}

func (f *fakeObserver) BlockHeight(context.Context) (uint64, error) {
	return f.height, nil
}

func (f *fakeObserver) HasCode(_ context.Context, address string) (bool, error) {
	_, ok := f.contracts[strings.ToLower(address)]
	return ok, nil
}

func (f *fakeObserver) IsValidSignature(_ context.Context, wallet string, _ [32]byte, _ []byte) ([4]byte, error) {
	return f.contracts[strings.ToLower(wallet)], nil
}

func (f *fakeObserver) NativeBalance(_ context.Context, address string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance("", address), nil
}

func (f *fakeObserver) TokenBalance(_ context.Context, token, address string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance(token, address), nil
}

func (f *fakeObserver) balance(token, address string) *big.Int {
	if b, ok := f.balances[strings.ToLower(token+address)]; ok {
		return b
	}
	return new(big.Int)
}

// nativePayment records a mined native transfer
func (f *fakeObserver) nativePayment(hash, from, to string, value *big.Int, block uint64, ok bool) {
	f.receipts[hash] = &fakeReceipt{hash: hash, ok: ok, block: block}
	f.txs[hash] = &chains.Transaction{Hash: hash, From: from, To: to, Value: value}
}

// tokenPayment records a mined transaction emitting the given Transfer logs
func (f *fakeObserver) tokenPayment(hash string, block uint64, transfers ...chains.TransferEvent) {
	f.receipts[hash] = &fakeReceipt{hash: hash, ok: true, block: block, transfers: transfers}
}

// fakeSafe resolves Safe URLs with the real parser and canned transactions
type fakeSafe struct {
	*safe.Client
	txs map[string]*safe.MultisigTransaction // safeTxHash -> tx
}

func newFakeSafe() *fakeSafe {
	return &fakeSafe{Client: safe.NewClient(nil, nil, nil), txs: make(map[string]*safe.MultisigTransaction)}
}

func (f *fakeSafe) GetTransaction(_ context.Context, rawURL string) (*safe.MultisigTransaction, error) {
	ref, err := f.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	tx, ok := f.txs[ref.SafeTxHash]
	if !ok {
		return nil, safe.ErrUnknownTransaction
	}
	return tx, nil
}

// countingIntents records the writes that reach the intent store
type countingIntents struct {
	storage.IntentStore
	mu     sync.Mutex
	writes int
}

func (c *countingIntents) Invalidate(ctx context.Context, id string) (bool, error) {
	changed, err := c.IntentStore.Invalidate(ctx, id)
	c.count(changed)
	return changed, err
}

func (c *countingIntents) MarkConfirmed(ctx context.Context, id, txHash string) (bool, error) {
	changed, err := c.IntentStore.MarkConfirmed(ctx, id, txHash)
	c.count(changed)
	return changed, err
}

func (c *countingIntents) count(changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if changed {
		c.writes++
	}
}

// fixture wires a reconciler over memory stores and one fake L1 observer
type fixture struct {
	t        *testing.T
	ctx      context.Context
	now      time.Time
	key      *ecdsa.PrivateKey
	sender   string
	tokens   *chains.TokenRegistry
	l1       *fakeObserver
	registry *chains.Registry
	safe     *fakeSafe
	intents  *countingIntents
	payments *memory.PaymentStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	l1 := newFakeObserver("L1", 1, 1000)
	registry := chains.NewRegistry()
	require.NoError(t, registry.Register(l1))

	return &fixture{
		t:        t,
		ctx:      context.Background(),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		key:      key,
		sender:   strings.ToLower(evm.DeriveAddress(key)),
		tokens:   chains.MustNewTokenRegistry(chains.DefaultDescriptors),
		l1:       l1,
		registry: registry,
		safe:     newFakeSafe(),
		intents:  &countingIntents{IntentStore: memory.NewIntentStore()},
		payments: memory.NewPaymentStore(),
	}
}

func (f *fixture) addPayment(id, currencyType string, amount *big.Int) *types.Payment {
	f.t.Helper()
	p := &types.Payment{
		ID:        id,
		FullID:    "ORD" + id + "-P-1",
		Tenant:    testTenant,
		OrderCode: "ORD" + id,
		State:     types.PaymentStatePending,
		Info:      types.PaymentInfo{CurrencyType: currencyType, Amount: amount, Time: f.now.Unix()},
		CreatedAt: f.now.Add(-time.Hour),
	}
	require.NoError(f.t, f.payments.Upsert(f.ctx, p))
	return p
}

// addIntent stores an intent for p signed by the fixture key, submitted age ago
func (f *fixture) addIntent(id string, p *types.Payment, evidence types.Evidence, chainID int64, age time.Duration) *types.PaymentIntent {
	f.t.Helper()
	return f.addIntentFor(id, p, p.OrderCode, f.sender, evidence, chainID, age)
}

func (f *fixture) addIntentFor(id string, p *types.Payment, orderCode, sender string, evidence types.Evidence, chainID int64, age time.Duration) *types.PaymentIntent {
	f.t.Helper()

	td := evm.BuildIntentMessage(sender, receivingAddress, chainID, p.OrderCode)
	signature, err := evm.SignIntent(f.key, td)
	require.NoError(f.t, err)
	message, err := evm.CanonicalMessage(td)
	require.NoError(f.t, err)

	intent := &types.PaymentIntent{
		ID:               id,
		PaymentID:        p.ID,
		Tenant:           p.Tenant,
		OrderCode:        orderCode,
		Signature:        signature,
		Message:          message,
		SenderAddress:    sender,
		RecipientAddress: receivingAddress,
		ChainID:          chainID,
		Evidence:         evidence,
		CreatedAt:        f.now.Add(-age),
	}
	require.NoError(f.t, f.intents.Create(f.ctx, intent))
	return intent
}

func (f *fixture) reconciler(dryRun bool) *Reconciler {
	f.t.Helper()
	r, err := New(Config{
		Tenant:           testTenant,
		ReceivingAddress: receivingAddress,
		DryRun:           dryRun,
		SafetyBlockCount: 10,
		RetryTimeout:     1800 * time.Second,
	}, Deps{
		Tokens:    f.tokens,
		Observers: f.registry,
		Safe:      f.safe,
		Intents:   f.intents,
		Payments:  f.payments,
		Now:       func() time.Time { return f.now },
	})
	require.NoError(f.t, err)
	return r
}

func (f *fixture) intent(id string) *types.PaymentIntent {
	f.t.Helper()
	i, err := f.intents.Get(f.ctx, id)
	require.NoError(f.t, err)
	return i
}

func (f *fixture) paymentState(id string) types.PaymentState {
	f.t.Helper()
	p, err := f.payments.Get(f.ctx, id)
	require.NoError(f.t, err)
	return p.State
}
