package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/chains/evm"
	"github.com/sigweihq/ethreconcile/pkg/constants"
	"github.com/sigweihq/ethreconcile/pkg/metrics"
	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
	"github.com/sigweihq/ethreconcile/pkg/utils"
)

// Config holds the per-tenant settings of a reconciler
type Config struct {
	Tenant string

	// ReceivingAddress, when set, is the only recipient an intent may name
	ReceivingAddress string

	// DryRun logs every decision without mutating state
	DryRun bool

	// SafetyBlockCount is the tenant's minimum number of blocks on top of a receipt.
	// Networks with a larger default use theirs.
	SafetyBlockCount uint64

	// RetryTimeout is how long evidence may stay unmined before its intent is invalidated
	RetryTimeout time.Duration

	// Workers bounds how many networks are processed concurrently
	Workers int
}

// Deps are the collaborators of a reconciler
type Deps struct {
	Tokens    *chains.TokenRegistry
	Observers *chains.Registry
	Safe      SafeResolver // optional, needed for Safe evidence
	Intents   storage.IntentStore
	Payments  storage.PaymentStore
	Verifier  *evm.SignatureVerifier // defaults to a new verifier
	Recorder  metrics.Recorder       // defaults to metrics.NoopRecorder
	Logger    *slog.Logger
	Now       func() time.Time
}

// Reconciler confirms payments of one tenant from their signed intents
type Reconciler struct {
	config    Config
	tokens    *chains.TokenRegistry
	observers *chains.Registry
	safe      SafeResolver
	intents   storage.IntentStore
	payments  storage.PaymentStore
	verifier  *evm.SignatureVerifier
	recorder  metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a reconciler. Zero config values fall back to the defaults.
func New(config Config, deps Deps) (*Reconciler, error) {
	if deps.Tokens == nil || deps.Observers == nil || deps.Intents == nil || deps.Payments == nil {
		return nil, fmt.Errorf("reconciler requires tokens, observers, intents and payments")
	}
	if config.SafetyBlockCount == 0 {
		config.SafetyBlockCount = constants.DefaultSafetyBlockCount
	}
	if config.RetryTimeout <= 0 {
		config.RetryTimeout = constants.DefaultPaymentNotReceivedRetryTimeout
	}
	if config.Workers <= 0 {
		config.Workers = constants.DefaultWorkers
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = evm.NewSignatureVerifier(logger)
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		config:    config,
		tokens:    deps.Tokens,
		observers: deps.Observers,
		safe:      deps.Safe,
		intents:   deps.Intents,
		payments:  deps.Payments,
		verifier:  verifier,
		recorder:  recorder,
		logger:    logger.With("tenant", config.Tenant),
		now:       now,
	}, nil
}

// Run processes every awaiting payment of the tenant once. Each payment commits
// on its own; the returned error joins configuration and unexpected errors only.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	start := r.now()
	report := newReport(r.config.Tenant, r.config.DryRun)

	payments, err := r.payments.ListAwaiting(ctx, r.config.Tenant)
	if err != nil {
		return report, fmt.Errorf("list awaiting payments: %w", err)
	}
	report.Payments = len(payments)

	if r.config.DryRun {
		r.logger.Info("DRY RUN: no changes will be made", "payments", len(payments))
	}

	var mu sync.Mutex
	record := func(network string, o Outcome) {
		mu.Lock()
		report.Counts[o.Kind]++
		mu.Unlock()
		r.recorder.IncCounter(metrics.EventOutcome, map[string]string{"network": network, "result": o.Kind.String()})
	}
	fail := func(err error) {
		mu.Lock()
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			report.ConfigErrors = append(report.ConfigErrors, err)
		} else {
			report.Errors = append(report.Errors, err)
		}
		mu.Unlock()
	}

	groups := r.groupByNetwork(payments)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for _, network := range sortedKeys(groups) {
		group := groups[network]
		g.Go(func() error {
			return r.runNetwork(gctx, network, group, record, fail)
		})
	}
	runErr := g.Wait()

	result := "ok"
	if runErr != nil || report.Err() != nil {
		result = "failed"
	}
	r.recorder.IncCounter(metrics.EventRun, map[string]string{"result": result})
	r.recorder.ObserveLatency(metrics.EventRun, r.now().Sub(start), nil)

	r.logger.Info("Reconciliation run finished",
		"payments", report.Payments,
		"confirmed", report.Counts[OutcomeConfirmed],
		"invalidated", report.Counts[OutcomeInvalidated],
		"pending", report.Counts[OutcomePending],
		"transient", report.Counts[OutcomeTransientError],
		"dryRun", r.config.DryRun)

	return report, errors.Join(runErr, report.Err())
}

// groupByNetwork buckets payments by the network of their currency. Payments whose
// currency is unknown land under "" and only get their intents invalidated.
func (r *Reconciler) groupByNetwork(payments []*types.Payment) map[string][]*types.Payment {
	groups := make(map[string][]*types.Payment)
	for _, p := range payments {
		network := ""
		if desc, err := r.tokens.LookupCurrencyType(p.Info.CurrencyType); err == nil {
			network = desc.NetworkID
		}
		groups[network] = append(groups[network], p)
	}
	return groups
}

// runNetwork is one worker: it owns every payment of its network for this run
func (r *Reconciler) runNetwork(ctx context.Context, network string, payments []*types.Payment, record func(string, Outcome), fail func(error)) error {
	var view *networkView
	if network != "" {
		observer, err := r.observers.Get(network)
		if err != nil {
			r.logger.Error("No RPC configured for network, skipping its payments",
				"network", network,
				"payments", len(payments),
				"error", err)
			fail(&ConfigError{Network: network, Err: err})
			for range payments {
				record(network, Outcome{Kind: OutcomeConfigError, Err: err})
			}
			return nil
		}
		view = &networkView{observer: observer}
	}

	for _, payment := range payments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processPayment(ctx, payment, view, record); err != nil {
			if isTransient(err) {
				r.logger.Warn("Transient failure processing payment",
					"paymentID", payment.FullID,
					"error", err)
				continue
			}
			r.logger.Error("Failed to process payment",
				"paymentID", payment.FullID,
				"error", err)
			fail(&PaymentError{PaymentID: payment.ID, Err: err})
		}
	}
	return nil
}

// processPayment evaluates the payment's live intents oldest first. The earliest
// valid evidence wins and every other live intent is invalidated. A panic is
// confined to this payment.
func (r *Reconciler) processPayment(ctx context.Context, payment *types.Payment, view *networkView, record func(string, Outcome)) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()

	logger := r.logger.With("paymentID", payment.FullID)

	intents, err := r.intents.ListPendingForPayment(ctx, payment.ID)
	if err != nil {
		return fmt.Errorf("list intents: %w", err)
	}
	if len(intents) == 0 {
		logger.Debug("No payment intents found")
		return nil
	}

	desc, err := r.tokens.LookupCurrencyType(payment.Info.CurrencyType)
	if err != nil {
		// Data integrity problem: the intents can never be checked
		for _, intent := range intents {
			if intent.IsConfirmed {
				continue
			}
			o := invalidated("currency type %q not in registry", payment.Info.CurrencyType)
			o, err := r.apply(ctx, logger, payment, intent, o)
			if err != nil {
				return err
			}
			record("", o)
		}
		return nil
	}
	network := desc.NetworkID

	var winner *types.PaymentIntent
	for _, intent := range intents {
		intentLogger := logger.With("intentID", intent.ID, "evidence", intent.Evidence.Kind.String())

		var o Outcome
		switch {
		case intent.IsConfirmed:
			// A previous run confirmed the intent but not the payment
			o = confirmed("completing earlier confirmation")
			o.TxHash = intent.ConfirmedTxHash
		case winner != nil:
			o = invalidated("superseded by earlier valid evidence %s", winner.ID)
		default:
			o = r.evaluate(ctx, evaluation{payment: payment, desc: desc, intent: intent, network: view})
		}

		if o.TxHash != "" {
			intentLogger = intentLogger.With("txHash", o.TxHash, "explorer", utils.ExplorerTxURL(desc.ExplorerURL, o.TxHash))
		}

		o, err := r.apply(ctx, intentLogger, payment, intent, o)
		if err != nil {
			return err
		}
		record(network, o)

		if o.Kind == OutcomeConfirmed {
			winner = intent
		}
	}
	return nil
}

// apply logs the outcome and, outside dry-run, performs its state transition.
// Every write is a compare-and-set, so re-applying an outcome is harmless.
// It returns the outcome that took effect: a confirmation whose transaction already
// confirmed another intent turns into an invalidation.
func (r *Reconciler) apply(ctx context.Context, logger *slog.Logger, payment *types.Payment, intent *types.PaymentIntent, o Outcome) (Outcome, error) {
	switch o.Kind {
	case OutcomePending:
		logger.Info("Payment not confirmed yet", "reason", o.Reason)
		return o, nil
	case OutcomeTransientError:
		logger.Warn("Transient error, will retry", "reason", o.Reason, "error", o.Err)
		return o, nil
	case OutcomeConfigError:
		logger.Error("Configuration error", "reason", o.Reason, "error", o.Err)
		return o, nil
	case OutcomeInvalidated:
		if r.config.DryRun {
			logger.Info("DRY RUN: would invalidate payment intent", "reason", o.Reason)
			return o, nil
		}
		logger.Info("Invalidating payment intent", "reason", o.Reason)
		if _, err := r.intents.Invalidate(ctx, intent.ID); err != nil {
			return o, fmt.Errorf("invalidate intent %s: %w", intent.ID, err)
		}
		return o, nil
	case OutcomeConfirmed:
		if r.config.DryRun {
			logger.Info("DRY RUN: would confirm order payment", "reason", o.Reason)
			return o, nil
		}
		if !intent.IsConfirmed {
			_, err := r.intents.MarkConfirmed(ctx, intent.ID, o.TxHash)
			if errors.Is(err, storage.ErrDuplicateTransaction) {
				return r.apply(ctx, logger, payment, intent,
					invalidated("transaction %s already confirmed another payment", o.TxHash))
			}
			if err != nil {
				return o, fmt.Errorf("mark intent %s confirmed: %w", intent.ID, err)
			}
		}
		logger.Info("Confirming order payment", "reason", o.Reason)
		if _, err := r.payments.Confirm(ctx, payment.ID); err != nil {
			return o, fmt.Errorf("confirm payment: %w", err)
		}
		return o, nil
	default:
		return o, fmt.Errorf("unknown outcome %v", o.Kind)
	}
}

func sortedKeys(m map[string][]*types.Payment) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
