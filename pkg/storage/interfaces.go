package storage

import (
	"context"
	"fmt"

	"github.com/sigweihq/ethreconcile/pkg/types"
)

// IntentStore provides access to signed payment intents.
// Intents are never deleted; invalid is monotonic.
type IntentStore interface {
	// Create stores a new intent. Returns ErrLiveIntentExists if the tenant's order already has a
	// live intent and ErrDuplicateTransaction if the evidence backs another live intent.
	Create(ctx context.Context, intent *types.PaymentIntent) error

	// Get retrieves an intent by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*types.PaymentIntent, error)

	// Invalidate marks a live, unconfirmed intent invalid. Returns false if it already was.
	// Returns ErrStateConflict for confirmed intents.
	Invalidate(ctx context.Context, id string) (bool, error)

	// MarkConfirmed sets isConfirmed on a live intent and records the transaction that paid it.
	// Returns false if it already was, ErrStateConflict for invalid intents and
	// ErrDuplicateTransaction if txHash already confirmed another intent.
	MarkConfirmed(ctx context.Context, id, txHash string) (bool, error)

	// ListPendingForPayment returns the live intents of a payment, oldest first.
	// Confirmed intents are included so an interrupted confirmation can be completed.
	ListPendingForPayment(ctx context.Context, paymentID string) ([]*types.PaymentIntent, error)

	// ListByOrder returns every intent of a tenant's order, oldest first.
	ListByOrder(ctx context.Context, tenant, orderCode string) ([]*types.PaymentIntent, error)
}

// PaymentStore provides access to order payments.
type PaymentStore interface {
	// ListAwaiting returns the tenant's payments in created, pending or canceled state, oldest first.
	ListAwaiting(ctx context.Context, tenant string) ([]*types.Payment, error)

	// Get retrieves a payment by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*types.Payment, error)

	// Confirm moves an awaiting payment to confirmed. Returns false if it was already confirmed
	// and ErrStateConflict if it is in any other state.
	Confirm(ctx context.Context, id string) (bool, error)

	// Upsert inserts or replaces a payment.
	Upsert(ctx context.Context, p *types.Payment) error
}

// RefundStore provides access to refunds.
type RefundStore interface {
	// ListAwaiting returns the tenant's refunds in created state, oldest first.
	ListAwaiting(ctx context.Context, tenant string) ([]*types.Refund, error)

	// Done moves a created refund to done. Returns false if it was already done
	// and ErrStateConflict if it is in any other state.
	Done(ctx context.Context, id string) (bool, error)

	// Upsert inserts or replaces a refund.
	Upsert(ctx context.Context, r *types.Refund) error
}

// ValidateIntent checks the fields every stored intent must carry.
func ValidateIntent(intent *types.PaymentIntent) error {
	if intent == nil || intent.ID == "" || intent.PaymentID == "" || intent.Tenant == "" || intent.OrderCode == "" {
		return ErrInvalidInput
	}
	if intent.Invalid || intent.IsConfirmed || intent.ConfirmedTxHash != "" {
		return ErrInvalidInput
	}
	if err := intent.Evidence.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
