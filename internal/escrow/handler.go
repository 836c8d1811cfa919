package escrow

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/nimba-pay/nimba_pay/internal/transfer"
)

// Handler exposes escrow endpoints.
type Handler struct {
	service *Service

	// defaultRate applies when an open request carries no commission rate.
	defaultRate decimal.Decimal
}

// NewHandler constructs an escrow handler.
func NewHandler(service *Service, defaultRate decimal.Decimal) *Handler {
	return &Handler{service: service, defaultRate: defaultRate}
}

type openHoldRequest struct {
	OrderID         string `json:"order_id"`
	BuyerAccountID  string `json:"buyer_account_id"`
	SellerAccountID string `json:"seller_account_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	CommissionRate  string `json:"commission_rate"`
}

type disputeHoldRequest struct {
	Reason string `json:"reason"`
}

type resolveHoldRequest struct {
	Outcome string `json:"outcome"`
}

func holdJSON(hold Hold) fiber.Map {
	m := fiber.Map{
		"id":                  hold.ID,
		"order_id":            hold.OrderID,
		"buyer_account_id":    hold.BuyerAccountID,
		"seller_account_id":   hold.SellerAccountID,
		"amount":              hold.Amount,
		"currency":            hold.Currency,
		"status":              hold.Status,
		"commission_rate":     hold.CommissionRate.String(),
		"hold_transaction_id": hold.HoldTransactionID,
		"created_at":          hold.CreatedAt,
	}
	if hold.DisputeReason != "" {
		m["dispute_reason"] = hold.DisputeReason
	}
	if hold.SettlementTransactionID != "" {
		m["settlement_transaction_id"] = hold.SettlementTransactionID
		m["resolved_at"] = hold.ResolvedAt
	}
	return m
}

// Open places buyer funds in escrow for an order.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openHoldRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	rate := h.defaultRate
	if req.CommissionRate != "" {
		parsed, err := decimal.NewFromString(req.CommissionRate)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid commission_rate")
		}
		rate = parsed
	}

	hold, err := h.service.Open(c.UserContext(), OpenInput{
		OrderID:         req.OrderID,
		BuyerAccountID:  req.BuyerAccountID,
		SellerAccountID: req.SellerAccountID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		CommissionRate:  rate,
	})
	if err != nil {
		return mapHoldError(err)
	}
	return c.Status(http.StatusCreated).JSON(holdJSON(hold))
}

// Get fetches a hold by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	hold, err := h.service.Get(c.UserContext(), c.Params("escrowId"))
	if err != nil {
		return mapHoldError(err)
	}
	return c.Status(http.StatusOK).JSON(holdJSON(hold))
}

// Release settles the hold in the seller's favour.
func (h *Handler) Release(c *fiber.Ctx) error {
	hold, err := h.service.Release(c.UserContext(), c.Params("escrowId"))
	if err != nil {
		return mapHoldError(err)
	}
	return c.Status(http.StatusOK).JSON(holdJSON(hold))
}

// Refund settles the hold in the buyer's favour.
func (h *Handler) Refund(c *fiber.Ctx) error {
	hold, err := h.service.Refund(c.UserContext(), c.Params("escrowId"))
	if err != nil {
		return mapHoldError(err)
	}
	return c.Status(http.StatusOK).JSON(holdJSON(hold))
}

// Dispute freezes the hold pending resolution.
func (h *Handler) Dispute(c *fiber.Ctx) error {
	var req disputeHoldRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	hold, err := h.service.Dispute(c.UserContext(), c.Params("escrowId"), req.Reason)
	if err != nil {
		return mapHoldError(err)
	}
	return c.Status(http.StatusOK).JSON(holdJSON(hold))
}

// Resolve settles a disputed hold with the requested outcome.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveHoldRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	hold, err := h.service.Resolve(c.UserContext(), c.Params("escrowId"), req.Outcome)
	if err != nil {
		return mapHoldError(err)
	}
	return c.Status(http.StatusOK).JSON(holdJSON(hold))
}

func mapHoldError(err error) error {
	switch {
	case errors.Is(err, ErrHoldNotFound):
		return fiber.NewError(http.StatusNotFound, "escrow hold not found")
	case errors.Is(err, ErrHoldNotPending):
		return fiber.NewError(http.StatusConflict, "escrow hold not pending")
	case errors.Is(err, ErrHoldNotDisputed):
		return fiber.NewError(http.StatusConflict, "escrow hold not disputed")
	case errors.Is(err, ErrDuplicateOrder):
		return fiber.NewError(http.StatusConflict, "escrow hold already exists for order")
	case errors.Is(err, ErrInvalidCommission), errors.Is(err, ErrInvalidOutcome), errors.Is(err, ErrOrderIDRequired):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return transfer.MapError(err)
	}
}
