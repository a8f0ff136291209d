package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/metrics"
	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// PaymentSweeper confirms legacy payments made to per-order deposit wallets. Such a
// payment carries no signed intent: it is confirmed once its wallet holds at least the
// expected amount of the expected currency and nothing of any other currency on that network.
type PaymentSweeper struct {
	tenant    string
	dryRun    bool
	tokens    *chains.TokenRegistry
	observers *chains.Registry
	payments  storage.PaymentStore
	recorder  metrics.Recorder
	logger    *slog.Logger
}

// NewPaymentSweeper creates a deposit wallet sweeper for one tenant
func NewPaymentSweeper(tenant string, dryRun bool, tokens *chains.TokenRegistry, observers *chains.Registry, payments storage.PaymentStore, recorder metrics.Recorder, logger *slog.Logger) *PaymentSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &PaymentSweeper{
		tenant:    tenant,
		dryRun:    dryRun,
		tokens:    tokens,
		observers: observers,
		payments:  payments,
		recorder:  recorder,
		logger:    logger.With("tenant", tenant),
	}
}

// Run checks every awaiting payment with a deposit wallet once and returns how many
// were (or would be) confirmed
func (s *PaymentSweeper) Run(ctx context.Context) (int, error) {
	payments, err := s.payments.ListAwaiting(ctx, s.tenant)
	if err != nil {
		return 0, fmt.Errorf("list awaiting payments: %w", err)
	}

	var errs []error
	confirmed := 0
	for _, payment := range payments {
		if err := ctx.Err(); err != nil {
			return confirmed, err
		}
		if payment.Info.WalletAddress == "" {
			continue
		}

		ok, err := s.sweep(ctx, payment)
		if err != nil {
			if isTransient(err) {
				s.logger.Warn("Transient failure checking deposit wallet", "paymentID", payment.FullID, "error", err)
				continue
			}
			s.logger.Error("Failed to check deposit wallet", "paymentID", payment.FullID, "error", err)
			errs = append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		if ok {
			confirmed++
		}
	}
	return confirmed, errors.Join(errs...)
}

func (s *PaymentSweeper) sweep(ctx context.Context, payment *types.Payment) (bool, error) {
	wallet := payment.Info.WalletAddress
	logger := s.logger.With("paymentID", payment.FullID, "wallet", wallet)

	desc, err := s.tokens.LookupCurrencyType(payment.Info.CurrencyType)
	if err != nil {
		logger.Warn("Payment currency not in registry, skipping", "currencyType", payment.Info.CurrencyType)
		return false, nil
	}
	if payment.Info.Amount == nil {
		logger.Warn("Payment has no expected amount, skipping")
		return false, nil
	}

	observer, err := s.observers.Get(desc.NetworkID)
	if err != nil {
		return false, &ConfigError{Network: desc.NetworkID, Err: err}
	}

	expected := new(big.Int)
	found := false
	for _, d := range s.networkCurrencies(desc) {
		balance, err := walletBalance(ctx, observer, d, wallet)
		if err != nil {
			return false, fmt.Errorf("read %s balance: %w", d.TokenSymbol, err)
		}
		if balance.Sign() == 0 {
			continue
		}
		found = true
		if d.CurrencyType() == desc.CurrencyType() {
			expected = balance
			continue
		}
		logger.Warn("Found unexpected payment, skipping",
			"currency", d.CurrencyType(),
			"balance", balance.String(),
			"expectedCurrency", desc.CurrencyType())
		return false, nil
	}

	if !found {
		logger.Info("No payments found")
		return false, nil
	}
	if expected.Cmp(payment.Info.Amount) < 0 {
		logger.Warn("Payment below expected amount, skipping",
			"currency", desc.CurrencyType(),
			"expected", payment.Info.Amount.String(),
			"balance", expected.String())
		return false, nil
	}

	s.recorder.IncCounter(metrics.EventOutcome, map[string]string{"network": desc.NetworkID, "result": "wallet_confirmed"})
	if s.dryRun {
		logger.Info("DRY RUN: would confirm order payment", "balance", expected.String())
		return true, nil
	}

	logger.Info("Confirming order payment", "balance", expected.String())
	if _, err := s.payments.Confirm(ctx, payment.ID); err != nil {
		return false, fmt.Errorf("confirm payment: %w", err)
	}
	return true, nil
}

// networkCurrencies lists the enabled currencies of desc's network, desc included
func (s *PaymentSweeper) networkCurrencies(desc chains.Descriptor) []chains.Descriptor {
	var out []chains.Descriptor
	for _, d := range s.tokens.Descriptors() {
		if d.NetworkID != desc.NetworkID {
			continue
		}
		if d.Disabled && d.CurrencyType() != desc.CurrencyType() {
			continue
		}
		out = append(out, d)
	}
	return out
}

func walletBalance(ctx context.Context, observer chains.Observer, desc chains.Descriptor, wallet string) (*big.Int, error) {
	if desc.Native {
		return observer.NativeBalance(ctx, wallet)
	}
	return observer.TokenBalance(ctx, desc.ContractAddress, wallet)
}
