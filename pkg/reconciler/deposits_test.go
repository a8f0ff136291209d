package reconciler

import (
	"bytes"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/ethreconcile/pkg/types"
)

// addDepositPayment stores a legacy payment paid into its own deposit wallet
func (f *fixture) addDepositPayment(id, currencyType, wallet string) {
	f.t.Helper()
	require.NoError(f.t, f.payments.Upsert(f.ctx, &types.Payment{
		ID:        id,
		FullID:    "ORD" + id + "-P-1",
		Tenant:    testTenant,
		OrderCode: "ORD" + id,
		State:     types.PaymentStatePending,
		Info:      types.PaymentInfo{CurrencyType: currencyType, Amount: oneEther, WalletAddress: wallet},
		CreatedAt: f.now.Add(-time.Duration(len(id)) * time.Minute),
	}))
}

func TestPaymentSweeper(t *testing.T) {
	paid := "0x3333333333333333333333333333333333333331"
	wrongCurrency := "0x3333333333333333333333333333333333333332"
	short := "0x3333333333333333333333333333333333333333"
	empty := "0x3333333333333333333333333333333333333334"
	paidInDAI := "0x3333333333333333333333333333333333333335"

	setup := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.addDepositPayment("1", "ETH-L1", paid)
		f.addDepositPayment("2", "ETH-L1", wrongCurrency)
		f.addDepositPayment("3", "ETH-L1", short)
		f.addDepositPayment("4", "ETH-L1", empty)
		f.addDepositPayment("5", "DAI-L1", paidInDAI)
		f.addPayment("6", "ETH-L1", oneEther) // pays through a signed intent

		more := new(big.Int).Add(oneEther, big.NewInt(5))
		f.l1.balances[strings.ToLower(paid)] = more
		f.l1.balances[strings.ToLower(wrongCurrency)] = oneEther
		f.l1.balances[strings.ToLower(daiL1+wrongCurrency)] = big.NewInt(3)
		f.l1.balances[strings.ToLower(short)] = new(big.Int).Sub(oneEther, big.NewInt(1))
		f.l1.balances[strings.ToLower(daiL1+paidInDAI)] = oneEther
		return f
	}

	t.Run("dry run", func(t *testing.T) {
		f := setup(t)
		sweeper := NewPaymentSweeper(testTenant, true, f.tokens, f.registry, f.payments, nil, nil)

		confirmed, err := sweeper.Run(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, confirmed)
		assert.Equal(t, types.PaymentStatePending, f.paymentState("1"))
	})

	t.Run("confirms wallets holding the expected payment", func(t *testing.T) {
		f := setup(t)
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		sweeper := NewPaymentSweeper(testTenant, false, f.tokens, f.registry, f.payments, nil, logger)

		confirmed, err := sweeper.Run(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, confirmed)

		assert.Equal(t, types.PaymentStateConfirmed, f.paymentState("1"))
		assert.Equal(t, types.PaymentStatePending, f.paymentState("2"), "unexpected currency in the wallet")
		assert.Equal(t, types.PaymentStatePending, f.paymentState("3"), "below the expected amount")
		assert.Equal(t, types.PaymentStatePending, f.paymentState("4"), "nothing paid")
		assert.Equal(t, types.PaymentStateConfirmed, f.paymentState("5"))
		assert.Equal(t, types.PaymentStatePending, f.paymentState("6"), "no deposit wallet")

		logs := buf.String()
		assert.Contains(t, logs, "Found unexpected payment, skipping")
		assert.Contains(t, logs, "Payment below expected amount, skipping")
		assert.Contains(t, logs, "No payments found")
	})

	t.Run("second run has nothing to do", func(t *testing.T) {
		f := setup(t)
		sweeper := NewPaymentSweeper(testTenant, false, f.tokens, f.registry, f.payments, nil, nil)
		_, err := sweeper.Run(f.ctx)
		require.NoError(t, err)

		confirmed, err := sweeper.Run(f.ctx)
		require.NoError(t, err)
		assert.Zero(t, confirmed)
	})
}

func TestPaymentSweeperMissingObserver(t *testing.T) {
	f := newFixture(t)
	f.addDepositPayment("1", "ETH-Optimism", "0x3333333333333333333333333333333333333331")

	sweeper := NewPaymentSweeper(testTenant, false, f.tokens, f.registry, f.payments, nil, nil)
	_, err := sweeper.Run(f.ctx)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Optimism", cfgErr.Network)
}
