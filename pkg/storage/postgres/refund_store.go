package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// RefundStore implements storage.RefundStore using PostgreSQL.
type RefundStore struct {
	pool *Pool
}

// NewRefundStore creates a new RefundStore.
func NewRefundStore(pool *Pool) *RefundStore {
	return &RefundStore{pool: pool}
}

var _ storage.RefundStore = (*RefundStore)(nil)

const refundColumns = `
	id, full_id, payment_id, tenant, state, currency_type,
	info_amount::text, info_time, wallet_address, created_at`

// ListAwaiting implements storage.RefundStore
func (s *RefundStore) ListAwaiting(ctx context.Context, tenant string) ([]*types.Refund, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+refundColumns+`
		FROM refunds
		WHERE tenant = $1 AND state = $2
		ORDER BY created_at ASC, id ASC
	`, tenant, string(types.RefundStateCreated))
	if err != nil {
		return nil, fmt.Errorf("list awaiting refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*types.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		refunds = append(refunds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}
	return refunds, nil
}

// Done implements storage.RefundStore
func (s *RefundStore) Done(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refunds SET state = $2 WHERE id = $1 AND state = $3`,
		id, string(types.RefundStateDone), string(types.RefundStateCreated))
	if err != nil {
		return false, fmt.Errorf("mark refund done: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var state string
	err = s.pool.QueryRow(ctx, `SELECT state FROM refunds WHERE id = $1`, id).Scan(&state)
	if err != nil {
		if isNotFoundError(err) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("get refund state: %w", err)
	}
	if types.RefundState(state) == types.RefundStateDone {
		return false, nil
	}
	return false, fmt.Errorf("%w: refund %s is %s", storage.ErrStateConflict, id, state)
}

// Upsert implements storage.RefundStore
func (s *RefundStore) Upsert(ctx context.Context, r *types.Refund) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO refunds (
			id, full_id, payment_id, tenant, state, currency_type,
			info_amount, info_time, wallet_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			full_id = EXCLUDED.full_id,
			payment_id = EXCLUDED.payment_id,
			tenant = EXCLUDED.tenant,
			state = EXCLUDED.state,
			currency_type = EXCLUDED.currency_type,
			info_amount = EXCLUDED.info_amount,
			info_time = EXCLUDED.info_time,
			wallet_address = EXCLUDED.wallet_address
	`,
		r.ID,
		r.FullID,
		r.PaymentID,
		r.Tenant,
		string(r.State),
		r.Info.CurrencyType,
		numericString(r.Info.Amount),
		r.Info.Time,
		r.Info.WalletAddress,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert refund: %w", err)
	}
	return nil
}

func scanRefund(row pgx.Row) (*types.Refund, error) {
	var r types.Refund
	var state string
	var infoAmount *string

	err := row.Scan(
		&r.ID,
		&r.FullID,
		&r.PaymentID,
		&r.Tenant,
		&state,
		&r.Info.CurrencyType,
		&infoAmount,
		&r.Info.Time,
		&r.Info.WalletAddress,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.State = types.RefundState(state)
	if r.Info.Amount, err = parseNumeric(infoAmount); err != nil {
		return nil, err
	}
	return &r, nil
}
