package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
	"github.com/nimba-pay/nimba_pay/internal/notification"
)

var (
	// ErrInvalidAmount occurs when a requested movement is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSameAccount occurs when source and destination are the same account.
	ErrSameAccount = errors.New("source and destination accounts must differ")

	// ErrCurrencyMismatch occurs when the request currency and the account
	// currencies do not all agree.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// Engine validates requested fund movements and delegates each to the ledger
// exactly once. It performs no retries: a failed transfer is reported to the
// caller, who decides whether to retry against fresh state.
type Engine struct {
	ledger   ledger.Ledger
	notifier notification.Notifier
}

// NewEngine constructs a transfer engine.
func NewEngine(l ledger.Ledger, notifier notification.Notifier) *Engine {
	return &Engine{ledger: l, notifier: notifier}
}

// TransferInput captures the data needed to move funds between two accounts.
type TransferInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        int64
	Currency      string
	Kind          string
	ClientTxID    string
	Metadata      string
}

// Payout is one credit leg of a disbursement.
type Payout struct {
	ToAccountID string
	Amount      int64
}

// DisburseInput captures a single-debit, multi-credit movement committed as
// one balanced transaction (e.g. an escrow release paying seller and fees).
type DisburseInput struct {
	FromAccountID string
	Payouts       []Payout
	Currency      string
	Kind          string
	ClientTxID    string
	Metadata      string
}

// Transfer posts a balanced two-entry movement between accounts. A replayed
// ClientTxID returns the previously committed transaction without moving funds.
func (e *Engine) Transfer(ctx context.Context, input TransferInput) (ledger.Transaction, error) {
	if input.Amount <= 0 {
		return ledger.Transaction{}, ErrInvalidAmount
	}
	if input.FromAccountID == input.ToAccountID {
		return ledger.Transaction{}, ErrSameAccount
	}
	if input.Kind == "" {
		input.Kind = ledger.KindTransfer
	}

	from, err := e.validateAccount(ctx, input.FromAccountID, input.Currency)
	if err != nil {
		return ledger.Transaction{}, err
	}
	to, err := e.validateAccount(ctx, input.ToAccountID, input.Currency)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if from.Currency != to.Currency {
		return ledger.Transaction{}, ErrCurrencyMismatch
	}

	res, err := e.ledger.Record(ctx, ledger.RecordInput{
		ClientTxID: input.ClientTxID,
		Kind:       input.Kind,
		Metadata:   input.Metadata,
		Entries: []ledger.Entry{
			{AccountID: input.FromAccountID, Direction: ledger.DirectionDebit, Amount: input.Amount},
			{AccountID: input.ToAccountID, Direction: ledger.DirectionCredit, Amount: input.Amount},
		},
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		// Settlement already committed once; report it as such.
		return res, nil
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	e.notify(ctx, res, input.FromAccountID, []string{input.ToAccountID}, input.Amount, from.Currency)
	return res, nil
}

// Disburse posts one debit against several credits under a single balanced
// transaction.
func (e *Engine) Disburse(ctx context.Context, input DisburseInput) (ledger.Transaction, error) {
	if len(input.Payouts) == 0 {
		return ledger.Transaction{}, ErrInvalidAmount
	}
	var total int64
	for _, p := range input.Payouts {
		if p.Amount <= 0 {
			return ledger.Transaction{}, ErrInvalidAmount
		}
		if p.ToAccountID == input.FromAccountID {
			return ledger.Transaction{}, ErrSameAccount
		}
		total += p.Amount
	}

	from, err := e.validateAccount(ctx, input.FromAccountID, input.Currency)
	if err != nil {
		return ledger.Transaction{}, err
	}

	entries := make([]ledger.Entry, 0, len(input.Payouts)+1)
	entries = append(entries, ledger.Entry{
		AccountID: input.FromAccountID,
		Direction: ledger.DirectionDebit,
		Amount:    total,
	})
	credited := make([]string, 0, len(input.Payouts))
	for _, p := range input.Payouts {
		acct, err := e.validateAccount(ctx, p.ToAccountID, input.Currency)
		if err != nil {
			return ledger.Transaction{}, err
		}
		if acct.Currency != from.Currency {
			return ledger.Transaction{}, ErrCurrencyMismatch
		}
		entries = append(entries, ledger.Entry{
			AccountID: p.ToAccountID,
			Direction: ledger.DirectionCredit,
			Amount:    p.Amount,
		})
		credited = append(credited, p.ToAccountID)
	}

	res, err := e.ledger.Record(ctx, ledger.RecordInput{
		ClientTxID: input.ClientTxID,
		Kind:       input.Kind,
		Metadata:   input.Metadata,
		Entries:    entries,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return res, nil
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	e.notify(ctx, res, input.FromAccountID, credited, total, from.Currency)
	return res, nil
}

// validateAccount rejects movements against missing or non-active accounts and
// enforces the requested currency before any mutation happens.
func (e *Engine) validateAccount(ctx context.Context, id, currency string) (ledger.Account, error) {
	acct, err := e.ledger.Account(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if acct.Status != ledger.StatusActive {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, ledger.ErrAccountNotActive)
	}
	if currency != "" && acct.Currency != currency {
		return ledger.Account{}, ErrCurrencyMismatch
	}
	return acct, nil
}

func (e *Engine) notify(ctx context.Context, tx ledger.Transaction, debit string, credits []string, amount int64, currency string) {
	if e.notifier == nil {
		return
	}
	_ = e.notifier.Send(ctx, notification.Event{
		TransactionID:    tx.ID,
		Kind:             tx.Kind,
		DebitAccountID:   debit,
		CreditAccountIDs: credits,
		Amount:           amount,
		Currency:         currency,
	})
}
