package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu         sync.RWMutex
	accounts   map[string]*Account
	entries    []EntryRecord
	byClientTx map[string]Transaction
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		accounts:   make(map[string]*Account),
		byClientTx: make(map[string]Transaction),
	}
}

func (l *inMemoryLedger) CreateAccount(_ context.Context, account Account) (Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Status == "" {
		account.Status = StatusActive
	}
	account.Balance = 0
	account.CreatedAt = time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[account.ID]; exists {
		return Account{}, ErrAccountExists
	}
	stored := account
	l.accounts[account.ID] = &stored
	return account, nil
}

func (l *inMemoryLedger) Account(_ context.Context, id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *acct, nil
}

func (l *inMemoryLedger) AccountByOwner(_ context.Context, ownerID string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var oldest *Account
	for _, acct := range l.accounts {
		if acct.OwnerID != ownerID {
			continue
		}
		if oldest == nil || acct.CreatedAt.Before(oldest.CreatedAt) {
			oldest = acct
		}
	}
	if oldest == nil {
		return Account{}, ErrAccountNotFound
	}
	return *oldest, nil
}

func (l *inMemoryLedger) SetAccountStatus(_ context.Context, id, status string) (Account, error) {
	if !ValidStatus(status) {
		return Account{}, fmt.Errorf("invalid account status %q", status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if acct.Status == StatusClosed {
		return Account{}, ErrAccountNotActive
	}
	acct.Status = status
	return *acct, nil
}

func (l *inMemoryLedger) Record(_ context.Context, input RecordInput) (Transaction, error) {
	if err := validateEntries(input.Entries); err != nil {
		return Transaction{}, err
	}
	if input.TransactionID == "" {
		input.TransactionID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if input.ClientTxID != "" {
		if existing, ok := l.byClientTx[input.Kind+":"+input.ClientTxID]; ok {
			existing.Duplicate = true
			existing.Balances = l.currentBalances(input.Entries)
			return existing, ErrDuplicateTransaction
		}
	}

	deltas := make(map[string]int64)
	for _, e := range input.Entries {
		deltas[e.AccountID] += signedAmount(e)
	}
	for id, delta := range deltas {
		acct, ok := l.accounts[id]
		if !ok {
			return Transaction{}, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
		}
		if acct.Status != StatusActive {
			return Transaction{}, fmt.Errorf("account %s: %w", id, ErrAccountNotActive)
		}
		if acct.Balance+delta < 0 {
			return Transaction{}, ErrInsufficientFunds
		}
	}

	createdAt := time.Now().UTC()
	balances := make(map[string]int64, len(deltas))
	for id, delta := range deltas {
		l.accounts[id].Balance += delta
		balances[id] = l.accounts[id].Balance
	}
	for _, e := range input.Entries {
		l.entries = append(l.entries, EntryRecord{
			ID:            uuid.NewString(),
			TransactionID: input.TransactionID,
			AccountID:     e.AccountID,
			Direction:     e.Direction,
			Amount:        e.Amount,
			Kind:          input.Kind,
			Metadata:      input.Metadata,
			CreatedAt:     createdAt,
		})
	}

	out := Transaction{
		ID:         input.TransactionID,
		ClientTxID: input.ClientTxID,
		Kind:       input.Kind,
		Metadata:   input.Metadata,
		CreatedAt:  createdAt,
		Balances:   balances,
	}
	if input.ClientTxID != "" {
		l.byClientTx[input.Kind+":"+input.ClientTxID] = out
	}
	return out, nil
}

func (l *inMemoryLedger) Entries(_ context.Context, accountID string, limit int) ([]EntryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	var records []EntryRecord
	for i := len(l.entries) - 1; i >= 0 && len(records) < limit; i-- {
		if l.entries[i].AccountID == accountID {
			records = append(records, l.entries[i])
		}
	}
	return records, nil
}

// TransactionByClientTx returns the committed transaction for a client
// transaction id and kind, with its entries. Callers use it to decide state
// after an unknown-outcome failure.
func (l *inMemoryLedger) TransactionByClientTx(_ context.Context, clientTxID, kind string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.byClientTx[kind+":"+clientTxID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	for _, e := range l.entries {
		if e.TransactionID == tx.ID {
			tx.Entries = append(tx.Entries, e)
		}
	}
	return tx, nil
}

// currentBalances is called with the lock held.
func (l *inMemoryLedger) currentBalances(entries []Entry) map[string]int64 {
	balances := make(map[string]int64)
	for _, e := range entries {
		if acct, ok := l.accounts[e.AccountID]; ok {
			balances[e.AccountID] = acct.Balance
		}
	}
	return balances
}
