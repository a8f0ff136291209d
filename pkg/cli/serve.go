package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sigweihq/ethreconcile/pkg/constants"
	"github.com/sigweihq/ethreconcile/pkg/metrics"
	"github.com/sigweihq/ethreconcile/pkg/reconciler"
	"github.com/sigweihq/ethreconcile/pkg/submission"
)

func serveCmd(root *rootOptions) *cobra.Command {
	var noDryRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the submission API and reconcile every tenant periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, root)
			if err != nil {
				return err
			}
			defer rt.Close()

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			recorder, err := metrics.NewPrometheusRecorder(registry)
			if err != nil {
				return err
			}
			rt.recorder = recorder

			srv, err := newServer(ctx, rt, registry, !noDryRun)
			if err != nil {
				return err
			}
			return srv.run(ctx)
		},
	}
	cmd.Flags().BoolVar(&noDryRun, "no-dry-run", false, "let scheduled runs write confirmations and invalidations")
	return cmd
}

// tenantJobs are the periodic jobs of one tenant
type tenantJobs struct {
	slug       string
	reconciler *reconciler.Reconciler
	deposits   *reconciler.PaymentSweeper
	refunds    *reconciler.RefundSweeper
}

type server struct {
	logger   *slog.Logger
	router   *gin.Engine
	metrics  http.Handler
	listen   string
	listenM  string
	interval time.Duration
	guard    *reconciler.Guard
	jobs     []tenantJobs
}

func newServer(ctx context.Context, rt *runtime, gatherer prometheus.Gatherer, dryRun bool) (*server, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s := &server{
		logger:   rt.logger,
		router:   router,
		metrics:  promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		listen:   rt.cfg.ListenAddr,
		listenM:  rt.cfg.MetricsAddr,
		interval: rt.cfg.RunInterval,
		guard:    reconciler.NewGuard(rt.cfg.RunInterval / 2),
	}
	if s.listenM == "" {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	for _, tc := range rt.cfg.Tenants {
		tch := rt.chains(ctx, tc, true)

		svc, err := rt.submission(tc, tch)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", tc.Slug, err)
		}
		submission.NewHandler(svc, rt.logger.With("tenant", tc.Slug)).Register(router.Group("/" + tc.Slug))

		r, err := rt.reconciler(tc, tch, dryRun)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", tc.Slug, err)
		}
		s.jobs = append(s.jobs, tenantJobs{
			slug:       tc.Slug,
			reconciler: r,
			deposits:   rt.paymentSweeper(tc, tch, dryRun),
			refunds:    rt.refundSweeper(tc, tch, dryRun),
		})
	}

	return s, nil
}

func (s *server) run(ctx context.Context) error {
	api := &http.Server{Addr: s.listen, Handler: s.router, ReadHeaderTimeout: constants.ReadHeaderTimeout}
	servers := []*http.Server{api}
	if s.listenM != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics)
		servers = append(servers, &http.Server{Addr: s.listenM, Handler: mux, ReadHeaderTimeout: constants.ReadHeaderTimeout})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		g.Go(func() error {
			s.logger.Info("Listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", hs.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.schedule(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, hs := range servers {
			errs = append(errs, hs.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// schedule runs every tenant at once and then on each tick until ctx is done.
// A zero interval disables scheduled runs.
func (s *server) schedule(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Scheduled reconciliation disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *server) runAll(ctx context.Context) {
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		s.runTenant(ctx, job)
	}
}

func (s *server) runTenant(ctx context.Context, job tenantJobs) {
	logger := s.logger.With("tenant", job.slug)

	release, ok := s.guard.TryAcquire(job.slug)
	if !ok {
		logger.Debug("Skipping run, previous run still active or too recent")
		return
	}

	_, err := job.reconciler.Run(ctx)
	if err != nil {
		logger.Error("Reconciliation run failed", "error", err)
	}
	if _, depositErr := job.deposits.Run(ctx); depositErr != nil {
		logger.Error("Deposit wallet sweep failed", "error", depositErr)
		err = errors.Join(err, depositErr)
	}
	if _, refundErr := job.refunds.Run(ctx); refundErr != nil {
		logger.Error("Refund sweep failed", "error", refundErr)
		err = errors.Join(err, refundErr)
	}
	release(err == nil)
}
