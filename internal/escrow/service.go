package escrow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
	"github.com/nimba-pay/nimba_pay/internal/transfer"
)

var (
	// ErrInvalidCommission occurs when the commission rate is negative or
	// would consume the whole held amount.
	ErrInvalidCommission = errors.New("commission rate out of range")

	// ErrInvalidOutcome occurs when a dispute resolution names an outcome
	// other than released or refunded.
	ErrInvalidOutcome = errors.New("invalid resolution outcome")

	// ErrHoldNotDisputed occurs when a resolution is attempted against a
	// hold that is not under dispute.
	ErrHoldNotDisputed = errors.New("escrow hold not disputed")

	// ErrOrderIDRequired occurs when a hold is opened without an order id.
	ErrOrderIDRequired = errors.New("order id required")
)

var one = decimal.NewFromInt(1)

// Service coordinates escrow holds: buyer funds parked on a per-currency
// clearing account at open time, then released to the seller (net of
// commission) or refunded to the buyer in one balanced movement.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
	engine *transfer.Engine
	logger *slog.Logger
}

// NewService builds the escrow service.
func NewService(repo Repository, l ledger.Ledger, engine *transfer.Engine, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: l, engine: engine, logger: logger}
}

// OpenInput captures the data needed to open a hold for an order.
type OpenInput struct {
	OrderID         string
	BuyerAccountID  string
	SellerAccountID string
	Amount          int64
	Currency        string
	CommissionRate  decimal.Decimal
}

// Open debits the buyer into the escrow clearing account and records a
// pending hold. At most one hold exists per order id; reopening an order
// returns the existing hold without moving funds again.
func (s *Service) Open(ctx context.Context, input OpenInput) (Hold, error) {
	if input.OrderID == "" {
		return Hold{}, ErrOrderIDRequired
	}
	if input.Amount <= 0 {
		return Hold{}, transfer.ErrInvalidAmount
	}
	if input.BuyerAccountID == input.SellerAccountID {
		return Hold{}, transfer.ErrSameAccount
	}
	if input.CommissionRate.IsNegative() || input.CommissionRate.GreaterThanOrEqual(one) {
		return Hold{}, ErrInvalidCommission
	}

	if existing, err := s.repo.GetByOrder(ctx, input.OrderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrHoldNotFound) {
		return Hold{}, err
	}

	buyer, err := s.ledger.Account(ctx, input.BuyerAccountID)
	if err != nil {
		return Hold{}, err
	}
	seller, err := s.ledger.Account(ctx, input.SellerAccountID)
	if err != nil {
		return Hold{}, err
	}
	if seller.Status != ledger.StatusActive {
		return Hold{}, ledger.ErrAccountNotActive
	}
	if input.Currency == "" {
		input.Currency = buyer.Currency
	}
	if seller.Currency != input.Currency {
		return Hold{}, transfer.ErrCurrencyMismatch
	}

	clearing, err := s.ensureSystemAccount(ctx, clearingAccountID(input.Currency), input.Currency)
	if err != nil {
		return Hold{}, err
	}

	res, err := s.engine.Transfer(ctx, transfer.TransferInput{
		FromAccountID: input.BuyerAccountID,
		ToAccountID:   clearing,
		Amount:        input.Amount,
		Currency:      input.Currency,
		Kind:          ledger.KindEscrowHold,
		ClientTxID:    "escrow_hold:" + input.OrderID,
		Metadata:      input.OrderID,
	})
	if err != nil {
		return Hold{}, err
	}

	hold := Hold{
		ID:                uuid.NewString(),
		OrderID:           input.OrderID,
		BuyerAccountID:    input.BuyerAccountID,
		SellerAccountID:   input.SellerAccountID,
		Amount:            input.Amount,
		Currency:          input.Currency,
		Status:            StatusPending,
		CommissionRate:    input.CommissionRate,
		HoldTransactionID: res.ID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, hold); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			return s.repo.GetByOrder(ctx, input.OrderID)
		}
		return Hold{}, err
	}

	s.logger.Info("escrow hold opened",
		slog.String("escrow_id", hold.ID),
		slog.String("order_id", hold.OrderID),
		slog.Int64("amount", hold.Amount),
		slog.String("currency", hold.Currency))
	return hold, nil
}

// Get fetches a hold by id.
func (s *Service) Get(ctx context.Context, id string) (Hold, error) {
	return s.repo.Get(ctx, id)
}

// Release settles a pending hold in the seller's favour: the clearing account
// pays seller share and platform commission under one transaction. Releasing
// an already-released hold returns it unchanged.
func (s *Service) Release(ctx context.Context, id string) (Hold, error) {
	hold, err := s.repo.Get(ctx, id)
	if err != nil {
		return Hold{}, err
	}
	switch hold.Status {
	case StatusReleased:
		return hold, nil
	case StatusPending:
		return s.settle(ctx, hold, StatusPending, StatusReleased)
	default:
		return Hold{}, ErrHoldNotPending
	}
}

// Refund settles a pending hold in the buyer's favour, returning the full
// held amount. Refunding an already-refunded hold returns it unchanged.
func (s *Service) Refund(ctx context.Context, id string) (Hold, error) {
	hold, err := s.repo.Get(ctx, id)
	if err != nil {
		return Hold{}, err
	}
	switch hold.Status {
	case StatusRefunded:
		return hold, nil
	case StatusPending:
		return s.settle(ctx, hold, StatusPending, StatusRefunded)
	default:
		return Hold{}, ErrHoldNotPending
	}
}

// Dispute freezes a pending hold until an operator resolves it.
func (s *Service) Dispute(ctx context.Context, id, reason string) (Hold, error) {
	hold, err := s.repo.MarkDisputed(ctx, id, reason)
	if errors.Is(err, ErrHoldNotPending) {
		stored, getErr := s.repo.Get(ctx, id)
		if getErr == nil && stored.Status == StatusDisputed {
			return stored, nil
		}
		return Hold{}, err
	}
	if err != nil {
		return Hold{}, err
	}
	s.logger.Info("escrow hold disputed",
		slog.String("escrow_id", hold.ID),
		slog.String("order_id", hold.OrderID))
	return hold, nil
}

// Resolve settles a disputed hold with the given outcome using the same
// settlement paths as Release and Refund.
func (s *Service) Resolve(ctx context.Context, id, outcome string) (Hold, error) {
	if outcome != OutcomeReleased && outcome != OutcomeRefunded {
		return Hold{}, ErrInvalidOutcome
	}
	hold, err := s.repo.Get(ctx, id)
	if err != nil {
		return Hold{}, err
	}
	switch hold.Status {
	case outcome:
		return hold, nil
	case StatusDisputed:
		return s.settle(ctx, hold, StatusDisputed, outcome)
	default:
		return Hold{}, ErrHoldNotDisputed
	}
}

// settle moves the held funds out of the clearing account and records the
// terminal state. A retry after a crash between the ledger write and the
// state write replays the same settlement transaction and converges. If the
// opposing settlement already committed in such a window, the hold is
// repaired to that outcome and no second movement happens.
func (s *Service) settle(ctx context.Context, hold Hold, fromStatus, outcome string) (Hold, error) {
	opposing := opposingOutcome(outcome)
	prior, err := s.ledger.TransactionByClientTx(ctx, settlementClientTx(hold.ID, opposing), settlementKind(opposing))
	if err == nil {
		if _, markErr := s.repo.MarkSettled(ctx, hold.ID, fromStatus, opposing, prior.ID, time.Now().UTC()); markErr != nil && !errors.Is(markErr, ErrHoldNotPending) {
			return Hold{}, markErr
		}
		s.logger.Warn("escrow hold repaired to committed settlement",
			slog.String("escrow_id", hold.ID),
			slog.String("outcome", opposing),
			slog.String("transaction_id", prior.ID))
		return Hold{}, ErrHoldNotPending
	}
	if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return Hold{}, err
	}

	clearing := clearingAccountID(hold.Currency)

	var tx ledger.Transaction
	switch outcome {
	case StatusReleased:
		commission := hold.Commission()
		payouts := []transfer.Payout{{ToAccountID: hold.SellerAccountID, Amount: hold.Amount - commission}}
		if commission > 0 {
			fees, feeErr := s.ensureSystemAccount(ctx, feesAccountID(hold.Currency), hold.Currency)
			if feeErr != nil {
				return Hold{}, feeErr
			}
			payouts = append(payouts, transfer.Payout{ToAccountID: fees, Amount: commission})
		}
		tx, err = s.engine.Disburse(ctx, transfer.DisburseInput{
			FromAccountID: clearing,
			Payouts:       payouts,
			Currency:      hold.Currency,
			Kind:          settlementKind(outcome),
			ClientTxID:    settlementClientTx(hold.ID, outcome),
			Metadata:      hold.OrderID,
		})
	case StatusRefunded:
		tx, err = s.engine.Transfer(ctx, transfer.TransferInput{
			FromAccountID: clearing,
			ToAccountID:   hold.BuyerAccountID,
			Amount:        hold.Amount,
			Currency:      hold.Currency,
			Kind:          settlementKind(outcome),
			ClientTxID:    settlementClientTx(hold.ID, outcome),
			Metadata:      hold.OrderID,
		})
	}
	if err != nil {
		return Hold{}, err
	}

	settled, err := s.repo.MarkSettled(ctx, hold.ID, fromStatus, outcome, tx.ID, time.Now().UTC())
	if errors.Is(err, ErrHoldNotPending) {
		stored, getErr := s.repo.Get(ctx, hold.ID)
		if getErr == nil && stored.Status == outcome && stored.SettlementTransactionID == tx.ID {
			return stored, nil
		}
		return Hold{}, err
	}
	if err != nil {
		return Hold{}, err
	}

	s.logger.Info("escrow hold settled",
		slog.String("escrow_id", settled.ID),
		slog.String("order_id", settled.OrderID),
		slog.String("outcome", outcome),
		slog.String("transaction_id", tx.ID))
	return settled, nil
}

// ensureSystemAccount creates the named internal account on first use.
func (s *Service) ensureSystemAccount(ctx context.Context, id, currency string) (string, error) {
	_, err := s.ledger.CreateAccount(ctx, ledger.Account{ID: id, Currency: currency})
	if err != nil && !errors.Is(err, ledger.ErrAccountExists) {
		return "", err
	}
	return id, nil
}

func opposingOutcome(outcome string) string {
	if outcome == StatusReleased {
		return StatusRefunded
	}
	return StatusReleased
}

// settlementClientTx derives the client transaction id that makes each hold's
// settlement exactly-once at the ledger.
func settlementClientTx(holdID, outcome string) string {
	if outcome == StatusReleased {
		return "escrow_release:" + holdID
	}
	return "escrow_refund:" + holdID
}

func settlementKind(outcome string) string {
	if outcome == StatusReleased {
		return ledger.KindEscrowRelease
	}
	return ledger.KindEscrowRefund
}

func clearingAccountID(currency string) string {
	return "system:escrow:" + currency
}

func feesAccountID(currency string) string {
	return "system:fees:" + currency
}
