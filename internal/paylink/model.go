package paylink

import "time"

// Payment link statuses. A link leaves active exactly once; used, expired and
// cancelled are terminal.
const (
	StatusActive    = "active"
	StatusUsed      = "used"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// PaymentLink is a shareable, time-boxed request for a fixed amount,
// redeemable once.
type PaymentLink struct {
	ID                      string
	LinkCode                string
	CreatorAccountID        string
	Amount                  int64
	Currency                string
	Description             string
	RecipientLabel          string
	Status                  string
	ExpiresAt               time.Time
	CreatedAt               time.Time
	PaidByAccountID         string
	PaidAt                  *time.Time
	SettlementTransactionID string
}

// Terminal reports whether the link can no longer transition.
func (l PaymentLink) Terminal() bool {
	return l.Status != StatusActive
}

// ExpiredAt reports whether the link's deadline has passed as of now.
func (l PaymentLink) ExpiredAt(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// ShareableLink is the creator-facing view returned on creation and reads:
// the link itself plus the constructed URL and an embeddable QR payload.
type ShareableLink struct {
	PaymentLink
	URL     string
	QRImage string
}
