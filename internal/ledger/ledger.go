package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAccountNotFound occurs when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists occurs when creating an account whose id is already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotActive occurs when an entry references a frozen or closed account.
	ErrAccountNotActive = errors.New("account not active")

	// ErrInsufficientFunds occurs when applying an entry set would drive an
	// account balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnbalancedEntries occurs when the debits and credits of an entry set
	// do not sum to the same total, or the set references fewer than two accounts.
	ErrUnbalancedEntries = errors.New("unbalanced entries")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// was already committed for the same kind. Callers treat this as idempotent
	// success: the previously committed transaction is returned alongside it.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrTransactionNotFound occurs when no committed transaction matches a
	// client transaction lookup.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStorageUnavailable wraps storage failures whose outcome is unknown.
	// Callers must re-query state before retrying: the write may have committed.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Account statuses. Accounts are never deleted; decommissioned accounts are closed.
const (
	StatusActive = "active"
	StatusFrozen = "frozen"
	StatusClosed = "closed"
)

// Entry directions.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Transaction kinds.
const (
	KindTransfer      = "transfer"
	KindPaymentLink   = "payment_link"
	KindEscrowHold    = "escrow_hold"
	KindEscrowRelease = "escrow_release"
	KindEscrowRefund  = "escrow_refund"
)

// Account is a stored-value position. Balance is kept in minor currency units
// and is mutated only by Record.
type Account struct {
	ID        string
	OwnerID   string
	Balance   int64
	Currency  string
	Status    string
	CreatedAt time.Time
}

// Entry describes one side of a balanced posting. Amount is always positive;
// the direction carries the sign.
type Entry struct {
	AccountID string
	Direction string
	Amount    int64
}

// EntryRecord is a committed, immutable ledger row.
type EntryRecord struct {
	ID            string
	TransactionID string
	AccountID     string
	Direction     string
	Amount        int64
	Kind          string
	Metadata      string
	CreatedAt     time.Time
}

// RecordInput captures a full entry set to commit atomically.
type RecordInput struct {
	// TransactionID is generated when empty.
	TransactionID string
	// ClientTxID, when set, deduplicates replays of the same settlement
	// per kind. Replays return the original transaction.
	ClientTxID string
	Kind       string
	Metadata   string
	Entries    []Entry
}

// Transaction captures the outcome of a committed posting.
type Transaction struct {
	ID         string
	ClientTxID string
	Kind       string
	Metadata   string
	CreatedAt  time.Time
	// Balances holds the post-commit balance of every account the
	// transaction touched.
	Balances map[string]int64
	// Entries holds the committed rows; populated by TransactionByClientTx
	// lookups, nil on Record results.
	Entries []EntryRecord
	// Duplicate marks a replayed client transaction.
	Duplicate bool
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// It is the account store and the only path allowed to mutate balances.
type Ledger interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	Account(ctx context.Context, id string) (Account, error)
	AccountByOwner(ctx context.Context, ownerID string) (Account, error)
	SetAccountStatus(ctx context.Context, id, status string) (Account, error)
	Record(ctx context.Context, input RecordInput) (Transaction, error)
	Entries(ctx context.Context, accountID string, limit int) ([]EntryRecord, error)
	TransactionByClientTx(ctx context.Context, clientTxID, kind string) (Transaction, error)
}

// ValidStatus reports whether s is a known account status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusFrozen, StatusClosed:
		return true
	}
	return false
}

// validateEntries enforces the balance preconditions shared by all backends:
// at least two entries over at least two accounts, every amount positive,
// and the debit total equal to the credit total.
func validateEntries(entries []Entry) error {
	if len(entries) < 2 {
		return ErrUnbalancedEntries
	}

	var debits, credits int64
	accounts := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Amount <= 0 || e.AccountID == "" {
			return ErrUnbalancedEntries
		}
		switch e.Direction {
		case DirectionDebit:
			debits += e.Amount
		case DirectionCredit:
			credits += e.Amount
		default:
			return ErrUnbalancedEntries
		}
		accounts[e.AccountID] = struct{}{}
	}

	if debits != credits || len(accounts) < 2 {
		return ErrUnbalancedEntries
	}
	return nil
}

// signedAmount converts an entry into the delta it applies to its account.
func signedAmount(e Entry) int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}
