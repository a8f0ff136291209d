package reconciler

import (
	"errors"
	"fmt"
)

// OutcomeKind is the verdict of one evaluation of one intent
type OutcomeKind int

const (
	// OutcomePending leaves the intent untouched until the next run
	OutcomePending OutcomeKind = iota
	// OutcomeConfirmed confirms the intent and its payment
	OutcomeConfirmed
	// OutcomeInvalidated marks the intent invalid; the buyer has to sign again
	OutcomeInvalidated
	// OutcomeTransientError is an RPC or service failure; retried on the next run
	OutcomeTransientError
	// OutcomeConfigError means the tenant is missing configuration for the payment's network
	OutcomeConfigError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeInvalidated:
		return "invalidated"
	case OutcomeTransientError:
		return "transient_error"
	case OutcomeConfigError:
		return "config_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of evaluating one intent
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error

	// TxHash is the transaction the evidence resolved to, if it got that far
	TxHash string
}

func pending(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomePending, Reason: fmt.Sprintf(format, args...)}
}

func confirmed(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeConfirmed, Reason: fmt.Sprintf(format, args...)}
}

func invalidated(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeInvalidated, Reason: fmt.Sprintf(format, args...)}
}

func transient(reason string, err error) Outcome {
	return Outcome{Kind: OutcomeTransientError, Reason: reason, Err: err}
}

// ConfigError is reported when a payment's network cannot be reached with the tenant's configuration
type ConfigError struct {
	Network string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("network %s is not configured: %v", e.Network, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// PaymentError is an unexpected failure while processing one payment
type PaymentError struct {
	PaymentID string
	Err       error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment %s: %v", e.PaymentID, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Report summarizes one run
type Report struct {
	Tenant   string
	DryRun   bool
	Payments int
	Counts   map[OutcomeKind]int

	// ConfigErrors has one entry per unconfigured network
	ConfigErrors []error
	// Errors are unexpected per-payment failures
	Errors []error
}

func newReport(tenant string, dryRun bool) *Report {
	return &Report{
		Tenant: tenant,
		DryRun: dryRun,
		Counts: make(map[OutcomeKind]int),
	}
}

// Err joins the errors the scheduler should see as a failed run
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.ConfigErrors)+len(r.Errors))
	errs = append(errs, r.ConfigErrors...)
	errs = append(errs, r.Errors...)
	return errors.Join(errs...)
}
