package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrHoldNotFound occurs when no hold exists for the given id or order.
	ErrHoldNotFound = errors.New("escrow hold not found")

	// ErrHoldNotPending occurs when a transition is attempted against a hold
	// that already left the expected state.
	ErrHoldNotPending = errors.New("escrow hold not pending")

	// ErrDuplicateOrder occurs when a hold already exists for the order id.
	ErrDuplicateOrder = errors.New("escrow hold already exists for order")
)

// Repository persists escrow holds. State transitions are conditional on the
// current status so that each hold settles exactly once.
type Repository interface {
	Create(ctx context.Context, hold Hold) error
	Get(ctx context.Context, id string) (Hold, error)
	GetByOrder(ctx context.Context, orderID string) (Hold, error)
	MarkDisputed(ctx context.Context, id, reason string) (Hold, error)
	MarkSettled(ctx context.Context, id, fromStatus, toStatus, transactionID string, resolvedAt time.Time) (Hold, error)
}

// PostgresRepository stores escrow holds in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const holdColumns = `id, order_id, buyer_account_id, seller_account_id, amount, currency,
    status, commission_rate, dispute_reason, hold_transaction_id, settlement_transaction_id,
    created_at, resolved_at`

// Create inserts a hold. At most one hold may exist per order id.
func (r *PostgresRepository) Create(ctx context.Context, hold Hold) error {
	ct, err := r.db.Exec(ctx, `INSERT INTO escrow_holds (`+holdColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
        ON CONFLICT (order_id) DO NOTHING`,
		hold.ID, hold.OrderID, hold.BuyerAccountID, hold.SellerAccountID,
		hold.Amount, hold.Currency, hold.Status, hold.CommissionRate.String(),
		hold.DisputeReason, hold.HoldTransactionID, hold.SettlementTransactionID,
		hold.CreatedAt.UTC(), hold.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert escrow hold: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateOrder
	}
	return nil
}

// Get fetches a hold by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Hold, error) {
	row := r.db.QueryRow(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE id = $1`, id)
	return scanHold(row)
}

// GetByOrder fetches a hold by its order id.
func (r *PostgresRepository) GetByOrder(ctx context.Context, orderID string) (Hold, error) {
	row := r.db.QueryRow(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE order_id = $1`, orderID)
	return scanHold(row)
}

// MarkDisputed transitions a pending hold to disputed, recording the reason.
func (r *PostgresRepository) MarkDisputed(ctx context.Context, id, reason string) (Hold, error) {
	row := r.db.QueryRow(ctx, `UPDATE escrow_holds SET status = $2, dispute_reason = $3
        WHERE id = $1 AND status = $4
        RETURNING `+holdColumns, id, StatusDisputed, reason, StatusPending)
	return r.scanTransition(ctx, row, id)
}

// MarkSettled transitions a hold from the expected state into a terminal one,
// recording the settlement transaction.
func (r *PostgresRepository) MarkSettled(ctx context.Context, id, fromStatus, toStatus, transactionID string, resolvedAt time.Time) (Hold, error) {
	row := r.db.QueryRow(ctx, `UPDATE escrow_holds
        SET status = $2, settlement_transaction_id = $3, resolved_at = $4
        WHERE id = $1 AND status = $5
        RETURNING `+holdColumns,
		id, toStatus, transactionID, resolvedAt.UTC(), fromStatus)
	return r.scanTransition(ctx, row, id)
}

// scanTransition distinguishes a missing hold from a lost conditional update.
func (r *PostgresRepository) scanTransition(ctx context.Context, row pgx.Row, id string) (Hold, error) {
	hold, err := scanHold(row)
	if errors.Is(err, ErrHoldNotFound) {
		if _, getErr := r.Get(ctx, id); getErr == nil {
			return Hold{}, ErrHoldNotPending
		}
		return Hold{}, ErrHoldNotFound
	}
	return hold, err
}

func scanHold(row pgx.Row) (Hold, error) {
	var h Hold
	var rate string
	var settlementTx *string
	var resolvedAt *time.Time
	err := row.Scan(&h.ID, &h.OrderID, &h.BuyerAccountID, &h.SellerAccountID,
		&h.Amount, &h.Currency, &h.Status, &rate, &h.DisputeReason,
		&h.HoldTransactionID, &settlementTx, &h.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Hold{}, ErrHoldNotFound
	}
	if err != nil {
		return Hold{}, fmt.Errorf("scan escrow hold: %w", err)
	}
	h.CommissionRate, err = decimal.NewFromString(rate)
	if err != nil {
		return Hold{}, fmt.Errorf("parse commission rate: %w", err)
	}
	if settlementTx != nil {
		h.SettlementTransactionID = *settlementTx
	}
	h.CreatedAt = h.CreatedAt.UTC()
	if resolvedAt != nil {
		t := resolvedAt.UTC()
		h.ResolvedAt = &t
	}
	return h, nil
}
