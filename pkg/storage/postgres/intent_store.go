package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// IntentStore implements storage.IntentStore using PostgreSQL.
type IntentStore struct {
	pool *Pool
}

// NewIntentStore creates a new IntentStore.
func NewIntentStore(pool *Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

var _ storage.IntentStore = (*IntentStore)(nil)

const intentColumns = `
	id, payment_id, tenant, order_code, signature, message, sender_address, recipient_address,
	chain_id, evidence_kind, transaction_hash, safe_app_url, is_confirmed,
	COALESCE(confirmed_tx_hash, ''), invalid, created_at`

// Create inserts the intent under a per-tenant-order advisory lock so the live-intent check
// and the insert are atomic. The partial unique indexes back this up.
func (s *IntentStore) Create(ctx context.Context, intent *types.PaymentIntent) error {
	if err := storage.ValidateIntent(intent); err != nil {
		return err
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`,
			intent.Tenant, intent.OrderCode); err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payment_intents WHERE tenant = $1 AND order_code = $2 AND NOT invalid)`,
			intent.Tenant, intent.OrderCode,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check live intent: %w", err)
		}
		if exists {
			return storage.ErrLiveIntentExists
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO payment_intents (
				id, payment_id, tenant, order_code, signature, message, sender_address, recipient_address,
				chain_id, evidence_kind, transaction_hash, safe_app_url, evidence_ref, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			intent.ID,
			intent.PaymentID,
			intent.Tenant,
			intent.OrderCode,
			intent.Signature,
			intent.Message,
			intent.SenderAddress,
			intent.RecipientAddress,
			intent.ChainID,
			intent.Evidence.Kind.String(),
			intent.Evidence.TransactionHash,
			intent.Evidence.SafeAppURL,
			intent.Evidence.Ref(),
			intent.CreatedAt,
		)
		if err != nil {
			if constraint, ok := uniqueViolation(err); ok {
				switch constraint {
				case liveOrderIndex:
					return storage.ErrLiveIntentExists
				case liveEvidenceIndex:
					return storage.ErrDuplicateTransaction
				default:
					return fmt.Errorf("%w: duplicate intent id %s", storage.ErrInvalidInput, intent.ID)
				}
			}
			return fmt.Errorf("insert intent: %w", err)
		}
		return nil
	})
}

// Get implements storage.IntentStore
func (s *IntentStore) Get(ctx context.Context, id string) (*types.PaymentIntent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	intent, err := scanIntent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return intent, nil
}

// Invalidate implements storage.IntentStore
func (s *IntentStore) Invalidate(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_intents SET invalid = TRUE WHERE id = $1 AND NOT invalid AND NOT is_confirmed`, id)
	if err != nil {
		return false, fmt.Errorf("invalidate intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.explainNoop(ctx, id, func(i *types.PaymentIntent) error {
		if i.IsConfirmed {
			return storage.ErrStateConflict
		}
		return nil
	})
}

// MarkConfirmed implements storage.IntentStore
func (s *IntentStore) MarkConfirmed(ctx context.Context, id, txHash string) (bool, error) {
	txHash = strings.ToLower(txHash)
	if txHash == "" {
		return false, storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_intents SET is_confirmed = TRUE, confirmed_tx_hash = $2
		WHERE id = $1 AND NOT invalid AND NOT is_confirmed
	`, id, txHash)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == confirmedTxIndex {
			return false, storage.ErrDuplicateTransaction
		}
		return false, fmt.Errorf("confirm intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.explainNoop(ctx, id, func(i *types.PaymentIntent) error {
		if i.Invalid {
			return storage.ErrStateConflict
		}
		return nil
	})
}

// explainNoop turns a compare-and-set that matched no row into ErrNotFound,
// ErrStateConflict or nil (already in the target state).
func (s *IntentStore) explainNoop(ctx context.Context, id string, conflict func(*types.PaymentIntent) error) error {
	intent, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return conflict(intent)
}

// ListPendingForPayment implements storage.IntentStore
func (s *IntentStore) ListPendingForPayment(ctx context.Context, paymentID string) ([]*types.PaymentIntent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE payment_id = $1 AND NOT invalid
		ORDER BY created_at ASC, id ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list pending intents: %w", err)
	}
	defer rows.Close()

	return scanIntents(rows)
}

// ListByOrder implements storage.IntentStore
func (s *IntentStore) ListByOrder(ctx context.Context, tenant, orderCode string) ([]*types.PaymentIntent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE tenant = $1 AND order_code = $2
		ORDER BY created_at ASC, id ASC
	`, tenant, orderCode)
	if err != nil {
		return nil, fmt.Errorf("list intents by order: %w", err)
	}
	defer rows.Close()

	return scanIntents(rows)
}

func scanIntent(row pgx.Row) (*types.PaymentIntent, error) {
	var i types.PaymentIntent
	var kind string

	err := row.Scan(
		&i.ID,
		&i.PaymentID,
		&i.Tenant,
		&i.OrderCode,
		&i.Signature,
		&i.Message,
		&i.SenderAddress,
		&i.RecipientAddress,
		&i.ChainID,
		&kind,
		&i.Evidence.TransactionHash,
		&i.Evidence.SafeAppURL,
		&i.IsConfirmed,
		&i.ConfirmedTxHash,
		&i.Invalid,
		&i.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.Evidence.Kind = parseEvidenceKind(kind)
	return &i, nil
}

func scanIntents(rows pgx.Rows) ([]*types.PaymentIntent, error) {
	var intents []*types.PaymentIntent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent row: %w", err)
		}
		intents = append(intents, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intent rows: %w", err)
	}
	return intents, nil
}

func parseEvidenceKind(s string) types.EvidenceKind {
	switch s {
	case types.EvidenceDirectTx.String():
		return types.EvidenceDirectTx
	case types.EvidenceSafeApp.String():
		return types.EvidenceSafeApp
	default:
		return types.EvidenceUnknown
	}
}
