package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hold statuses. A hold is created pending and leaves the state machine
// through exactly one of released or refunded; disputed is an intermediate
// state that an operator resolves into one of the two.
const (
	StatusPending  = "pending"
	StatusReleased = "released"
	StatusRefunded = "refunded"
	StatusDisputed = "disputed"
)

// Dispute resolution outcomes.
const (
	OutcomeReleased = StatusReleased
	OutcomeRefunded = StatusRefunded
)

// Hold is an escrowed order: buyer funds parked on the escrow clearing
// account until released to the seller (minus commission) or refunded.
type Hold struct {
	ID              string
	OrderID         string
	BuyerAccountID  string
	SellerAccountID string
	Amount          int64
	Currency        string
	Status          string

	// CommissionRate is fixed when the hold is opened so that a later
	// platform fee change never alters in-flight orders.
	CommissionRate decimal.Decimal

	DisputeReason string

	HoldTransactionID       string
	SettlementTransactionID string

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Terminal reports whether the hold reached a final state.
func (h Hold) Terminal() bool {
	return h.Status == StatusReleased || h.Status == StatusRefunded
}

// Commission computes the platform cut in minor units, rounded down so the
// seller share plus commission always equals the held amount exactly.
func (h Hold) Commission() int64 {
	return decimal.NewFromInt(h.Amount).Mul(h.CommissionRate).IntPart()
}
