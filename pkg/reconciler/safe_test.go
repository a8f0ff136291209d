package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/safe"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

const (
	safeWallet = "0x7777777777777777777777777777777777777777"
	safeTxHash = "0x5b1d4f2b2c4a0d6b33e0f8f7e3f1e9d6c2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7"
)

func safeURL(host string) string {
	return host + "/api/v1/multisig-transactions/" + safeTxHash + "/"
}

// addSafeIntent stores an intent from a Safe wallet that accepts the fixture key's signatures
func (f *fixture) addSafeIntent(id string, p *types.Payment, url string, age time.Duration) {
	f.t.Helper()
	f.l1.contracts[safeWallet] = [4]byte{0x16, 0x26, 0xba, 0x7e}
	f.addIntentFor(id, p, p.OrderCode, safeWallet, types.SafeAppEvidence(url), 1, age)
}

func TestSafeEvidence(t *testing.T) {
	mainnet := "https://safe-transaction-mainnet.safe.global"

	tests := []struct {
		name        string
		currency    string
		url         string
		safeTx      *safe.MultisigTransaction
		setup       func(f *fixture)
		age         time.Duration
		wantKind    OutcomeKind
		wantInvalid bool
	}{
		{
			name:     "native payment executed by the safe",
			currency: "ETH-L1",
			url:      safeURL(mainnet),
			safeTx: &safe.MultisigTransaction{
				Safe: safeWallet, To: receivingAddress, Value: oneEther,
				SafeTxHash: safeTxHash, IsExecuted: true, IsSuccessful: true, TransactionHash: txHash(3),
			},
			setup: func(f *fixture) {
				f.l1.tokenPayment(txHash(3), f.l1.height-20)
			},
			wantKind: OutcomeConfirmed,
		},
		{
			name:     "token payment executed by the safe",
			currency: "DAI-L1",
			url:      safeURL(mainnet),
			safeTx: &safe.MultisigTransaction{
				Safe: safeWallet, To: daiL1, SafeTxHash: safeTxHash,
				IsExecuted: true, IsSuccessful: true, TransactionHash: txHash(3),
			},
			setup: func(f *fixture) {
				f.l1.tokenPayment(txHash(3), f.l1.height-20,
					chains.TransferEvent{From: safeWallet, To: receivingAddress, Value: oneEther, Asset: daiL1})
			},
			wantKind: OutcomeConfirmed,
		},
		{
			name:     "awaiting signatures",
			currency: "ETH-L1",
			url:      safeURL(mainnet),
			safeTx: &safe.MultisigTransaction{
				Safe: safeWallet, To: receivingAddress, Value: oneEther, SafeTxHash: safeTxHash,
			},
			age:      48 * time.Hour,
			wantKind: OutcomePending,
		},
		{
			name:     "executed but failed",
			currency: "ETH-L1",
			url:      safeURL(mainnet),
			safeTx: &safe.MultisigTransaction{
				Safe: safeWallet, To: receivingAddress, Value: oneEther,
				SafeTxHash: safeTxHash, IsExecuted: true, TransactionHash: txHash(3),
			},
			wantKind:    OutcomeInvalidated,
			wantInvalid: true,
		},
		{
			name:     "executed, receipt not indexed yet",
			currency: "ETH-L1",
			url:      safeURL(mainnet),
			safeTx: &safe.MultisigTransaction{
				Safe: safeWallet, To: receivingAddress, Value: oneEther,
				SafeTxHash: safeTxHash, IsExecuted: true, IsSuccessful: true, TransactionHash: txHash(3),
			},
			wantKind: OutcomePending,
		},
		{
			name:     "another safe's transaction",
			currency: "ETH-L1",
			url:      safeURL(mainnet),
			safeTx: &safe.MultisigTransaction{
				Safe: "0x8888888888888888888888888888888888888888", To: receivingAddress, Value: oneEther,
				SafeTxHash: safeTxHash, IsExecuted: true, IsSuccessful: true, TransactionHash: txHash(3),
			},
			wantKind:    OutcomeInvalidated,
			wantInvalid: true,
		},
		{
			name:        "service of another network",
			currency:    "ETH-L1",
			url:         safeURL("https://safe-transaction-optimism.safe.global"),
			wantKind:    OutcomeInvalidated,
			wantInvalid: true,
		},
		{
			name:        "url of an unknown host",
			currency:    "ETH-L1",
			url:         safeURL("https://safe.example.com"),
			wantKind:    OutcomeInvalidated,
			wantInvalid: true,
		},
		{
			name:     "unknown to the service, recently submitted",
			currency: "ETH-L1",
			url:      safeURL(mainnet),
			age:      time.Minute,
			wantKind: OutcomePending,
		},
		{
			name:        "unknown to the service past the retry timeout",
			currency:    "ETH-L1",
			url:         safeURL(mainnet),
			age:         time.Hour,
			wantKind:    OutcomeInvalidated,
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.addPayment("1", tt.currency, oneEther)
			f.addSafeIntent("i-1", p, tt.url, tt.age)
			if tt.safeTx != nil {
				f.safe.txs[safeTxHash] = tt.safeTx
			}
			if tt.setup != nil {
				tt.setup(f)
			}

			report, err := f.reconciler(false).Run(f.ctx)
			require.NoError(t, err)

			assert.Equal(t, 1, report.Counts[tt.wantKind])
			intent := f.intent("i-1")
			assert.Equal(t, tt.wantInvalid, intent.Invalid)
			assert.Equal(t, tt.wantKind == OutcomeConfirmed, intent.IsConfirmed)
		})
	}
}

func TestSafeEvidenceWithoutResolverIsConfigError(t *testing.T) {
	f := newFixture(t)
	p := f.addPayment("1", "ETH-L1", oneEther)
	f.addSafeIntent("i-1", p, safeURL("https://safe-transaction-mainnet.safe.global"), time.Hour)

	r := f.reconciler(false)
	r.safe = nil

	report, err := r.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[OutcomeConfigError])
	assert.False(t, f.intent("i-1").Invalid)
}

func TestTransactionConfirmsOnlyOnePayment(t *testing.T) {
	f := newFixture(t)

	// The Safe transaction of order 1 was executed in txHash(3), and order 2 names txHash(3) directly
	p1 := f.addPayment("1", "DAI-L1", oneEther)
	f.addSafeIntent("i-1", p1, safeURL("https://safe-transaction-mainnet.safe.global"), time.Minute)
	f.safe.txs[safeTxHash] = &safe.MultisigTransaction{
		Safe: safeWallet, To: daiL1, SafeTxHash: safeTxHash,
		IsExecuted: true, IsSuccessful: true, TransactionHash: txHash(3),
	}

	p2 := f.addPayment("2", "DAI-L1", oneEther)
	f.addIntentFor("i-2", p2, p2.OrderCode, safeWallet, types.DirectTxEvidence(txHash(3)), 1, time.Minute)

	f.l1.tokenPayment(txHash(3), f.l1.height-20,
		chains.TransferEvent{From: safeWallet, To: receivingAddress, Value: oneEther, Asset: daiL1})

	report, err := f.reconciler(false).Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[OutcomeConfirmed])
	assert.Equal(t, 1, report.Counts[OutcomeInvalidated])

	first, second := f.intent("i-1"), f.intent("i-2")
	assert.NotEqual(t, first.IsConfirmed, second.IsConfirmed, "exactly one intent is confirmed")
	assert.NotEqual(t, first.Invalid, second.Invalid, "the other one is invalidated")

	confirmed := 0
	for _, id := range []string{"1", "2"} {
		if f.paymentState(id) == types.PaymentStateConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)

	// Nothing left to decide on the next run
	report, err = f.reconciler(false).Run(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Counts[OutcomeConfirmed])
}
