package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sigweihq/ethreconcile/pkg/reconciler"
)

type confirmOptions struct {
	tenant   string
	noDryRun bool
}

func (o *confirmOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.tenant, "tenant", "", "only process this tenant (default: all tenants)")
	cmd.Flags().BoolVar(&o.noDryRun, "no-dry-run", false, "write confirmations and invalidations instead of only logging them")
}

func confirmPaymentsCmd(root *rootOptions) *cobra.Command {
	opts := &confirmOptions{}
	cmd := &cobra.Command{
		Use:   "confirm-payments",
		Short: "Confirm awaiting payments from their signed intents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()
			return confirmPayments(cmd.Context(), rt, opts, root.stdout)
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func confirmPayments(ctx context.Context, rt *runtime, opts *confirmOptions, out io.Writer) error {
	tenants, err := rt.tenants(opts.tenant)
	if err != nil {
		return err
	}

	var errs []error
	for _, tc := range tenants {
		tch := rt.chains(ctx, tc, false)
		r, err := rt.reconciler(tc, tch, !opts.noDryRun)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tc.Slug, err))
			continue
		}
		report, err := r.Run(ctx)
		if report != nil {
			printReport(out, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tc.Slug, err))
		}
	}
	return errors.Join(errs...)
}

func printReport(out io.Writer, report *reconciler.Report) {
	mode := "applied"
	if report.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "%s (%s): %d payments, %d confirmed, %d invalidated, %d pending, %d transient errors, %d config errors\n",
		report.Tenant, mode, report.Payments,
		report.Counts[reconciler.OutcomeConfirmed],
		report.Counts[reconciler.OutcomeInvalidated],
		report.Counts[reconciler.OutcomePending],
		report.Counts[reconciler.OutcomeTransientError],
		len(report.ConfigErrors))
}

func confirmWalletPaymentsCmd(root *rootOptions) *cobra.Command {
	opts := &confirmOptions{}
	cmd := &cobra.Command{
		Use:   "confirm-wallet-payments",
		Short: "Confirm legacy payments from the balances of their per-order deposit wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()
			return confirmWalletPayments(cmd.Context(), rt, opts, root.stdout)
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func confirmWalletPayments(ctx context.Context, rt *runtime, opts *confirmOptions, out io.Writer) error {
	tenants, err := rt.tenants(opts.tenant)
	if err != nil {
		return err
	}

	var errs []error
	for _, tc := range tenants {
		tch := rt.chains(ctx, tc, false)
		confirmed, err := rt.paymentSweeper(tc, tch, !opts.noDryRun).Run(ctx)
		fmt.Fprintf(out, "%s: %d deposit wallet payments confirmed\n", tc.Slug, confirmed)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tc.Slug, err))
		}
	}
	return errors.Join(errs...)
}

func confirmRefundsCmd(root *rootOptions) *cobra.Command {
	opts := &confirmOptions{}
	cmd := &cobra.Command{
		Use:   "confirm-refunds",
		Short: "Mark refunds done once their per-order wallets are empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()
			return confirmRefunds(cmd.Context(), rt, opts, root.stdout)
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func confirmRefunds(ctx context.Context, rt *runtime, opts *confirmOptions, out io.Writer) error {
	tenants, err := rt.tenants(opts.tenant)
	if err != nil {
		return err
	}

	var errs []error
	for _, tc := range tenants {
		tch := rt.chains(ctx, tc, false)
		done, err := rt.refundSweeper(tc, tch, !opts.noDryRun).Run(ctx)
		fmt.Fprintf(out, "%s: %d refunds done\n", tc.Slug, done)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tc.Slug, err))
		}
	}
	return errors.Join(errs...)
}
