package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/chains/evm"
	"github.com/sigweihq/ethreconcile/pkg/config"
	"github.com/sigweihq/ethreconcile/pkg/metrics"
	"github.com/sigweihq/ethreconcile/pkg/reconciler"
	"github.com/sigweihq/ethreconcile/pkg/safe"
	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/storage/memory"
	"github.com/sigweihq/ethreconcile/pkg/storage/migrations"
	"github.com/sigweihq/ethreconcile/pkg/storage/postgres"
	"github.com/sigweihq/ethreconcile/pkg/submission"
	"github.com/sigweihq/ethreconcile/pkg/utils"
)

// runtime holds what every command shares: configuration, logger and stores
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	recorder metrics.Recorder
	tokens   *chains.TokenRegistry
	intents  storage.IntentStore
	payments storage.PaymentStore
	refunds  storage.RefundStore
	pool     *postgres.Pool
}

func newRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := newLogger(opts.stderr, level)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
		tokens:   chains.MustNewTokenRegistry(chains.DefaultDescriptors),
	}

	if cfg.DatabaseDSN == "" {
		logger.Warn("No database configured, using in-memory stores")
		rt.intents = memory.NewIntentStore()
		rt.payments = memory.NewPaymentStore()
		rt.refunds = memory.NewRefundStore()
		return rt, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	rt.pool = pool
	rt.intents = postgres.NewIntentStore(pool)
	rt.payments = postgres.NewPaymentStore(pool)
	rt.refunds = postgres.NewRefundStore(pool)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
}

// tenants returns the selected tenant, or all of them when slug is empty
func (rt *runtime) tenants(slug string) ([]config.TenantConfig, error) {
	if slug == "" {
		if len(rt.cfg.Tenants) == 0 {
			return nil, fmt.Errorf("no tenants configured")
		}
		return rt.cfg.Tenants, nil
	}
	tenant, err := rt.cfg.Tenant(slug)
	if err != nil {
		return nil, err
	}
	return []config.TenantConfig{tenant}, nil
}

// tenantChains is the chain access of one tenant
type tenantChains struct {
	observers    *chains.Registry
	unconfigured []string
	safe         *safe.Client
}

// chains builds the tenant's observers from its RPC configuration. With
// checkEndpoints, healthy endpoints are moved ahead of failing ones first.
func (rt *runtime) chains(ctx context.Context, tc config.TenantConfig, checkEndpoints bool) *tenantChains {
	logger := rt.logger.With("tenant", tc.Slug)

	provider := evm.NewConfigEndpointProvider(tc.RPCURLs, logger)
	if checkEndpoints {
		provider.RefreshEndpoints(ctx)
	}

	observers, unconfigured := evm.NewObserverRegistry(rt.tokens, provider, logger, rt.recorder)
	if len(unconfigured) > 0 {
		logger.Warn("Networks without RPC configuration", "networks", unconfigured)
	}

	return &tenantChains{
		observers:    observers,
		unconfigured: unconfigured,
		safe:         safe.NewClient(utils.CreateHTTPClientWithTimeouts(), tc.SafeServiceOverrides(), logger),
	}
}

func (rt *runtime) reconciler(tc config.TenantConfig, tch *tenantChains, dryRun bool) (*reconciler.Reconciler, error) {
	return reconciler.New(reconciler.Config{
		Tenant:           tc.Slug,
		ReceivingAddress: tc.ReceivingAddress,
		DryRun:           dryRun,
		SafetyBlockCount: tc.SafetyBlockCount,
		RetryTimeout:     tc.RetryTimeout(),
		Workers:          rt.cfg.Workers,
	}, reconciler.Deps{
		Tokens:    rt.tokens,
		Observers: tch.observers,
		Safe:      tch.safe,
		Intents:   rt.intents,
		Payments:  rt.payments,
		Recorder:  rt.recorder,
		Logger:    rt.logger,
	})
}

func (rt *runtime) refundSweeper(tc config.TenantConfig, tch *tenantChains, dryRun bool) *reconciler.RefundSweeper {
	return reconciler.NewRefundSweeper(tc.Slug, dryRun, rt.tokens, tch.observers, rt.refunds, rt.recorder, rt.logger)
}

func (rt *runtime) paymentSweeper(tc config.TenantConfig, tch *tenantChains, dryRun bool) *reconciler.PaymentSweeper {
	return reconciler.NewPaymentSweeper(tc.Slug, dryRun, rt.tokens, tch.observers, rt.payments, rt.recorder, rt.logger)
}

func (rt *runtime) submission(tc config.TenantConfig, tch *tenantChains) (*submission.Service, error) {
	return submission.NewService(submission.Config{
		Tenant:           tc.Slug,
		ReceivingAddress: tc.ReceivingAddress,
	}, submission.Deps{
		Tokens:    rt.tokens,
		Observers: tch.observers,
		Safe:      tch.safe,
		Intents:   rt.intents,
		Payments:  rt.payments,
		Logger:    rt.logger,
	})
}
