package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// PaymentStore implements storage.PaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *Pool
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(pool *Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

var _ storage.PaymentStore = (*PaymentStore)(nil)

const paymentColumns = `
	id, full_id, tenant, order_code, state, amount::text, currency_type,
	info_amount::text, info_time, wallet_address, created_at`

func awaitingStates() []string {
	states := make([]string, len(types.AwaitingStates))
	for i, s := range types.AwaitingStates {
		states[i] = string(s)
	}
	return states
}

// ListAwaiting implements storage.PaymentStore
func (s *PaymentStore) ListAwaiting(ctx context.Context, tenant string) ([]*types.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE tenant = $1 AND state = ANY($2)
		ORDER BY created_at ASC, id ASC
	`, tenant, awaitingStates())
	if err != nil {
		return nil, fmt.Errorf("list awaiting payments: %w", err)
	}
	defer rows.Close()

	var payments []*types.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

// Get implements storage.PaymentStore
func (s *PaymentStore) Get(ctx context.Context, id string) (*types.Payment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// Confirm implements storage.PaymentStore
func (s *PaymentStore) Confirm(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET state = $2 WHERE id = $1 AND state = ANY($3)`,
		id, string(types.PaymentStateConfirmed), awaitingStates())
	if err != nil {
		return false, fmt.Errorf("confirm payment: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if p.State == types.PaymentStateConfirmed {
		return false, nil
	}
	return false, fmt.Errorf("%w: payment %s is %s", storage.ErrStateConflict, id, p.State)
}

// Upsert implements storage.PaymentStore
func (s *PaymentStore) Upsert(ctx context.Context, p *types.Payment) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (
			id, full_id, tenant, order_code, state, amount, currency_type,
			info_amount, info_time, wallet_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8::numeric, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			full_id = EXCLUDED.full_id,
			tenant = EXCLUDED.tenant,
			order_code = EXCLUDED.order_code,
			state = EXCLUDED.state,
			amount = EXCLUDED.amount,
			currency_type = EXCLUDED.currency_type,
			info_amount = EXCLUDED.info_amount,
			info_time = EXCLUDED.info_time,
			wallet_address = EXCLUDED.wallet_address
	`,
		p.ID,
		p.FullID,
		p.Tenant,
		p.OrderCode,
		string(p.State),
		p.Amount.String(),
		p.Info.CurrencyType,
		numericString(p.Info.Amount),
		p.Info.Time,
		p.Info.WalletAddress,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*types.Payment, error) {
	var p types.Payment
	var state, amount string
	var infoAmount *string

	err := row.Scan(
		&p.ID,
		&p.FullID,
		&p.Tenant,
		&p.OrderCode,
		&state,
		&amount,
		&p.Info.CurrencyType,
		&infoAmount,
		&p.Info.Time,
		&p.Info.WalletAddress,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.State = types.PaymentState(state)
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", amount, err)
	}
	if p.Info.Amount, err = parseNumeric(infoAmount); err != nil {
		return nil, err
	}
	return &p, nil
}
