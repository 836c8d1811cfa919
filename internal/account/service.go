package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
)

// Service exposes account provisioning and read operations backed by the ledger.
// Balances are never mutated here: all movement goes through the ledger writer.
type Service struct {
	ledger          ledger.Ledger
	defaultCurrency string
}

// NewService builds an account service instance.
func NewService(l ledger.Ledger, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "GNF"
	}
	return &Service{ledger: l, defaultCurrency: defaultCurrency}
}

// CreateInput captures data required to provision an account.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Balance encapsulates available funds for an account.
type Balance struct {
	AccountID string
	Amount    int64
	Currency  string
	AsOf      time.Time
}

// Create provisions a wallet account for an owner. The owner identifier is
// supplied by the identity/KYC collaborator.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Account, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return ledger.Account{}, fmt.Errorf("owner id must be a uuid: %w", err)
	}

	currency := input.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	return s.ledger.CreateAccount(ctx, ledger.Account{
		OwnerID:  input.OwnerID,
		Currency: currency,
		Status:   ledger.StatusActive,
	})
}

// Get retrieves an account by id.
func (s *Service) Get(ctx context.Context, id string) (ledger.Account, error) {
	return s.ledger.Account(ctx, id)
}

// GetByOwner retrieves the account provisioned for an owner.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (ledger.Account, error) {
	return s.ledger.AccountByOwner(ctx, ownerID)
}

// Balance returns the committed ledger balance for the account.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	acct, err := s.ledger.Account(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		AccountID: acct.ID,
		Amount:    acct.Balance,
		Currency:  acct.Currency,
		AsOf:      time.Now().UTC(),
	}, nil
}

// SetStatus transitions an account between active, frozen and closed. Closing
// is how accounts are decommissioned; nothing is ever hard-deleted.
func (s *Service) SetStatus(ctx context.Context, id, status string) (ledger.Account, error) {
	if !ledger.ValidStatus(status) {
		return ledger.Account{}, fmt.Errorf("invalid account status %q", status)
	}
	return s.ledger.SetAccountStatus(ctx, id, status)
}

// Statement returns the most recent committed ledger entries for the account.
func (s *Service) Statement(ctx context.Context, id string, limit int) ([]ledger.EntryRecord, error) {
	if _, err := s.ledger.Account(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.Entries(ctx, id, limit)
}
