package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/metrics"
	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// RefundSweeper completes refunds paid out of per-order deposit wallets: a refund
// is done once its wallet holds none of the refunded currency.
type RefundSweeper struct {
	tenant    string
	dryRun    bool
	tokens    *chains.TokenRegistry
	observers *chains.Registry
	refunds   storage.RefundStore
	recorder  metrics.Recorder
	logger    *slog.Logger
}

// NewRefundSweeper creates a refund sweeper for one tenant
func NewRefundSweeper(tenant string, dryRun bool, tokens *chains.TokenRegistry, observers *chains.Registry, refunds storage.RefundStore, recorder metrics.Recorder, logger *slog.Logger) *RefundSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &RefundSweeper{
		tenant:    tenant,
		dryRun:    dryRun,
		tokens:    tokens,
		observers: observers,
		refunds:   refunds,
		recorder:  recorder,
		logger:    logger.With("tenant", tenant),
	}
}

// Run checks every created refund once and returns how many were (or would be) marked done
func (s *RefundSweeper) Run(ctx context.Context) (int, error) {
	refunds, err := s.refunds.ListAwaiting(ctx, s.tenant)
	if err != nil {
		return 0, fmt.Errorf("list awaiting refunds: %w", err)
	}

	var errs []error
	done := 0
	for _, refund := range refunds {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		ok, err := s.sweep(ctx, refund)
		if err != nil {
			if isTransient(err) {
				s.logger.Warn("Transient failure checking refund", "refundID", refund.FullID, "error", err)
				continue
			}
			s.logger.Error("Failed to check refund", "refundID", refund.FullID, "error", err)
			errs = append(errs, fmt.Errorf("refund %s: %w", refund.ID, err))
			continue
		}
		if ok {
			done++
		}
	}
	return done, errors.Join(errs...)
}

func (s *RefundSweeper) sweep(ctx context.Context, refund *types.Refund) (bool, error) {
	logger := s.logger.With("refundID", refund.FullID)

	if refund.Info.WalletAddress == "" {
		logger.Debug("Refund has no deposit wallet, skipping")
		return false, nil
	}

	desc, err := s.tokens.LookupCurrencyType(refund.Info.CurrencyType)
	if err != nil {
		logger.Warn("Refund currency not in registry, skipping", "currencyType", refund.Info.CurrencyType)
		return false, nil
	}

	observer, err := s.observers.Get(desc.NetworkID)
	if err != nil {
		return false, &ConfigError{Network: desc.NetworkID, Err: err}
	}

	balance, err := walletBalance(ctx, observer, desc, refund.Info.WalletAddress)
	if err != nil {
		return false, fmt.Errorf("read %s balance: %w", desc.TokenSymbol, err)
	}

	if balance.Sign() != 0 {
		logger.Info("No refund process started", "wallet", refund.Info.WalletAddress, "balance", balance.String())
		return false, nil
	}

	s.recorder.IncCounter(metrics.EventOutcome, map[string]string{"network": desc.NetworkID, "result": "refund_done"})
	if s.dryRun {
		logger.Info("DRY RUN: would mark refund done", "wallet", refund.Info.WalletAddress)
		return true, nil
	}

	logger.Info("Marking refund done", "wallet", refund.Info.WalletAddress)
	if _, err := s.refunds.Done(ctx, refund.ID); err != nil {
		return false, fmt.Errorf("mark refund done: %w", err)
	}
	return true, nil
}
