package paylink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrLinkNotFound occurs when no link exists for the given code.
	ErrLinkNotFound = errors.New("payment link not found")

	// ErrLinkNotActive occurs when a transition is attempted against a link
	// that already left the active state (used, expired or cancelled).
	ErrLinkNotActive = errors.New("payment link not active")
)

// Repository persists payment links. State transitions are conditional on the
// current status so that each link leaves active exactly once.
type Repository interface {
	Create(ctx context.Context, link PaymentLink) error
	GetByCode(ctx context.Context, code string) (PaymentLink, error)
	MarkExpired(ctx context.Context, code string) (PaymentLink, error)
	MarkUsed(ctx context.Context, code, payerAccountID, transactionID string, paidAt time.Time) (PaymentLink, error)
	MarkCancelled(ctx context.Context, code string) (PaymentLink, error)
	ExpireStale(ctx context.Context, createdBefore time.Time) (int64, error)
}

// PostgresRepository stores payment links in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const linkColumns = `id, link_code, creator_account_id, amount, currency, description,
    recipient_label, status, expires_at, created_at, paid_by_account_id, paid_at, settlement_transaction_id`

// Create inserts a payment link record.
func (r *PostgresRepository) Create(ctx context.Context, link PaymentLink) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payment_links (`+linkColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, NULLIF($13, ''))`,
		link.ID, link.LinkCode, link.CreatorAccountID, link.Amount, link.Currency,
		link.Description, link.RecipientLabel, link.Status, link.ExpiresAt.UTC(),
		link.CreatedAt.UTC(), link.PaidByAccountID, link.PaidAt, link.SettlementTransactionID)
	if err != nil {
		return fmt.Errorf("insert payment link: %w", err)
	}
	return nil
}

// GetByCode fetches a payment link by its public code.
func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (PaymentLink, error) {
	row := r.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM payment_links WHERE link_code = $1`, code)
	return scanLink(row)
}

// MarkExpired transitions an active link to expired.
func (r *PostgresRepository) MarkExpired(ctx context.Context, code string) (PaymentLink, error) {
	row := r.db.QueryRow(ctx, `UPDATE payment_links SET status = $2
        WHERE link_code = $1 AND status = $3
        RETURNING `+linkColumns, code, StatusExpired, StatusActive)
	return r.scanTransition(ctx, row, code)
}

// MarkUsed settles an active link, recording payer and settlement transaction.
func (r *PostgresRepository) MarkUsed(ctx context.Context, code, payerAccountID, transactionID string, paidAt time.Time) (PaymentLink, error) {
	row := r.db.QueryRow(ctx, `UPDATE payment_links
        SET status = $2, paid_by_account_id = $3, paid_at = $4, settlement_transaction_id = $5
        WHERE link_code = $1 AND status = $6
        RETURNING `+linkColumns,
		code, StatusUsed, payerAccountID, paidAt.UTC(), transactionID, StatusActive)
	return r.scanTransition(ctx, row, code)
}

// MarkCancelled transitions an active link to cancelled.
func (r *PostgresRepository) MarkCancelled(ctx context.Context, code string) (PaymentLink, error) {
	row := r.db.QueryRow(ctx, `UPDATE payment_links SET status = $2
        WHERE link_code = $1 AND status = $3
        RETURNING `+linkColumns, code, StatusCancelled, StatusActive)
	return r.scanTransition(ctx, row, code)
}

// ExpireStale expires active links created before the cutoff. It is a cleanup
// pass: expiry correctness comes from the lazy check on read.
func (r *PostgresRepository) ExpireStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `UPDATE payment_links SET status = $1
        WHERE status = $2 AND created_at < $3`,
		StatusExpired, StatusActive, createdBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire stale links: %w", err)
	}
	return ct.RowsAffected(), nil
}

// scanTransition distinguishes a missing link from a lost conditional update.
func (r *PostgresRepository) scanTransition(ctx context.Context, row pgx.Row, code string) (PaymentLink, error) {
	link, err := scanLink(row)
	if errors.Is(err, ErrLinkNotFound) {
		if _, getErr := r.GetByCode(ctx, code); getErr == nil {
			return PaymentLink{}, ErrLinkNotActive
		}
		return PaymentLink{}, ErrLinkNotFound
	}
	return link, err
}

func scanLink(row pgx.Row) (PaymentLink, error) {
	var l PaymentLink
	var paidBy, settlementTx *string
	var paidAt *time.Time
	err := row.Scan(&l.ID, &l.LinkCode, &l.CreatorAccountID, &l.Amount, &l.Currency,
		&l.Description, &l.RecipientLabel, &l.Status, &l.ExpiresAt, &l.CreatedAt,
		&paidBy, &paidAt, &settlementTx)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentLink{}, ErrLinkNotFound
	}
	if err != nil {
		return PaymentLink{}, fmt.Errorf("scan payment link: %w", err)
	}
	if paidBy != nil {
		l.PaidByAccountID = *paidBy
	}
	if settlementTx != nil {
		l.SettlementTransactionID = *settlementTx
	}
	if paidAt != nil {
		t := paidAt.UTC()
		l.PaidAt = &t
	}
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}
