package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists accounts and ledger entries in PostgreSQL. Every
// posting commits in a single database transaction: account locks are taken
// with SELECT ... FOR UPDATE in ascending account-id order so that two
// postings touching the same accounts in opposite directions cannot deadlock.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// CreateAccount inserts an account with a zero balance. A missing id is
// generated; a missing status defaults to active.
func (l *PostgresLedger) CreateAccount(ctx context.Context, account Account) (Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Status == "" {
		account.Status = StatusActive
	}
	account.Balance = 0
	account.CreatedAt = time.Now().UTC()

	ct, err := l.db.Exec(ctx, `INSERT INTO accounts (id, owner_id, balance, currency, status, created_at)
        VALUES ($1, $2, 0, $3, $4, $5)
        ON CONFLICT (id) DO NOTHING`,
		account.ID, account.OwnerID, account.Currency, account.Status, account.CreatedAt)
	if err != nil {
		return Account{}, storageErr("create account", err)
	}
	if ct.RowsAffected() == 0 {
		return Account{}, ErrAccountExists
	}
	return account, nil
}

// Account fetches a single account by id.
func (l *PostgresLedger) Account(ctx context.Context, id string) (Account, error) {
	return scanAccount(l.db.QueryRow(ctx, `SELECT id, owner_id, balance, currency, status, created_at
        FROM accounts WHERE id = $1`, id))
}

// AccountByOwner fetches the oldest account provisioned for the owner.
func (l *PostgresLedger) AccountByOwner(ctx context.Context, ownerID string) (Account, error) {
	return scanAccount(l.db.QueryRow(ctx, `SELECT id, owner_id, balance, currency, status, created_at
        FROM accounts WHERE owner_id = $1 ORDER BY created_at LIMIT 1`, ownerID))
}

// SetAccountStatus transitions an account between active, frozen and closed.
// Closed is terminal.
func (l *PostgresLedger) SetAccountStatus(ctx context.Context, id, status string) (Account, error) {
	if !ValidStatus(status) {
		return Account{}, fmt.Errorf("invalid account status %q", status)
	}

	row := l.db.QueryRow(ctx, `UPDATE accounts SET status = $2
        WHERE id = $1 AND status <> $3
        RETURNING id, owner_id, balance, currency, status, created_at`, id, status, StatusClosed)
	acct, err := scanAccount(row)
	if errors.Is(err, ErrAccountNotFound) {
		// Distinguish a missing account from a closed one.
		if _, getErr := l.Account(ctx, id); getErr == nil {
			return Account{}, ErrAccountNotActive
		}
		return Account{}, ErrAccountNotFound
	}
	return acct, err
}

// Record commits a balanced entry set as one all-or-nothing unit of work.
// If any account update fails, no rows are written and no balances change.
func (l *PostgresLedger) Record(ctx context.Context, input RecordInput) (Transaction, error) {
	if err := validateEntries(input.Entries); err != nil {
		return Transaction{}, err
	}
	if input.TransactionID == "" {
		input.TransactionID = uuid.NewString()
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if input.ClientTxID != "" {
		existing, found, err := l.lookupClientTx(ctx, tx, input.ClientTxID, input.Kind)
		if err != nil {
			return Transaction{}, err
		}
		if found {
			existing.Balances, err = balancesFor(ctx, tx, accountIDs(input.Entries), false)
			if err != nil {
				return Transaction{}, err
			}
			existing.Duplicate = true
			return existing, ErrDuplicateTransaction
		}
	}

	// Net delta per account, applied under row locks taken in id order.
	deltas := make(map[string]int64)
	for _, e := range input.Entries {
		deltas[e.AccountID] += signedAmount(e)
	}
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	balances := make(map[string]int64, len(ids))
	for _, id := range ids {
		var balance int64
		var status string
		err := tx.QueryRow(ctx, `SELECT balance, status FROM accounts WHERE id = $1 FOR UPDATE`, id).
			Scan(&balance, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
		}
		if err != nil {
			return Transaction{}, storageErr("lock account", err)
		}
		if status != StatusActive {
			return Transaction{}, fmt.Errorf("account %s: %w", id, ErrAccountNotActive)
		}
		next := balance + deltas[id]
		if next < 0 {
			return Transaction{}, ErrInsufficientFunds
		}
		balances[id] = next
	}

	createdAt := time.Now().UTC()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, client_tx_id, kind, metadata, created_at)
        VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		input.TransactionID, input.ClientTxID, input.Kind, input.Metadata, createdAt); err != nil {
		return Transaction{}, storageErr("insert transaction", err)
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, id, balances[id]); err != nil {
			return Transaction{}, storageErr("update balance", err)
		}
	}

	for _, e := range input.Entries {
		if _, err := tx.Exec(ctx, `INSERT INTO entries (id, transaction_id, account_id, direction, amount, kind, metadata, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.NewString(), input.TransactionID, e.AccountID, e.Direction, e.Amount, input.Kind, input.Metadata, createdAt); err != nil {
			return Transaction{}, storageErr("insert entry", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, storageErr("commit", err)
	}

	return Transaction{
		ID:         input.TransactionID,
		ClientTxID: input.ClientTxID,
		Kind:       input.Kind,
		Metadata:   input.Metadata,
		CreatedAt:  createdAt,
		Balances:   balances,
	}, nil
}

// Entries returns the most recent committed entries for an account.
func (l *PostgresLedger) Entries(ctx context.Context, accountID string, limit int) ([]EntryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(ctx, `SELECT id, transaction_id, account_id, direction, amount, kind, metadata, created_at
        FROM entries WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, storageErr("query entries", err)
	}
	defer rows.Close()

	var records []EntryRecord
	for rows.Next() {
		var rec EntryRecord
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.AccountID, &rec.Direction,
			&rec.Amount, &rec.Kind, &rec.Metadata, &rec.CreatedAt); err != nil {
			return nil, storageErr("scan entry", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entries", err)
	}
	return records, nil
}

// TransactionByClientTx returns the committed transaction for a client
// transaction id and kind, with its entries. Callers use it to decide state
// after an unknown-outcome failure.
func (l *PostgresLedger) TransactionByClientTx(ctx context.Context, clientTxID, kind string) (Transaction, error) {
	var out Transaction
	err := l.db.QueryRow(ctx, `SELECT id, kind, metadata, created_at FROM transactions
        WHERE client_tx_id = $1 AND kind = $2`, clientTxID, kind).
		Scan(&out.ID, &out.Kind, &out.Metadata, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, storageErr("lookup client tx", err)
	}
	out.ClientTxID = clientTxID

	rows, err := l.db.Query(ctx, `SELECT id, transaction_id, account_id, direction, amount, kind, metadata, created_at
        FROM entries WHERE transaction_id = $1`, out.ID)
	if err != nil {
		return Transaction{}, storageErr("query transaction entries", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec EntryRecord
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.AccountID, &rec.Direction,
			&rec.Amount, &rec.Kind, &rec.Metadata, &rec.CreatedAt); err != nil {
			return Transaction{}, storageErr("scan transaction entry", err)
		}
		out.Entries = append(out.Entries, rec)
	}
	if err := rows.Err(); err != nil {
		return Transaction{}, storageErr("iterate transaction entries", err)
	}
	return out, nil
}

func (l *PostgresLedger) lookupClientTx(ctx context.Context, tx pgx.Tx, clientTxID, kind string) (Transaction, bool, error) {
	var out Transaction
	err := tx.QueryRow(ctx, `SELECT id, kind, metadata, created_at FROM transactions
        WHERE client_tx_id = $1 AND kind = $2`, clientTxID, kind).
		Scan(&out.ID, &out.Kind, &out.Metadata, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, storageErr("lookup client tx", err)
	}
	out.ClientTxID = clientTxID
	return out, true, nil
}

func balancesFor(ctx context.Context, tx pgx.Tx, ids []string, lock bool) (map[string]int64, error) {
	balances := make(map[string]int64, len(ids))
	query := `SELECT balance FROM accounts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	for _, id := range ids {
		var balance int64
		if err := tx.QueryRow(ctx, query, id).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
			}
			return nil, storageErr("read balance", err)
		}
		balances[id] = balance
	}
	return balances, nil
}

func accountIDs(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var ids []string
	for _, e := range entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		ids = append(ids, e.AccountID)
	}
	sort.Strings(ids)
	return ids
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var createdAt time.Time
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Balance, &a.Currency, &a.Status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, storageErr("scan account", err)
	}
	a.CreatedAt = createdAt.UTC()
	return a, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
