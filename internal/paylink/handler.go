package paylink

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimba-pay/nimba_pay/internal/transfer"
)

// Handler exposes payment link endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment link handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createLinkRequest struct {
	CreatorAccountID string `json:"creator_account_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Description      string `json:"description"`
	RecipientLabel   string `json:"recipient_label"`
	TTLSeconds       int64  `json:"ttl_seconds"`
}

type payLinkRequest struct {
	PayerAccountID string `json:"payer_account_id"`
	ClientTxID     string `json:"client_tx_id"`
}

type cancelLinkRequest struct {
	OwnerAccountID string `json:"owner_account_id"`
}

func linkJSON(link PaymentLink) fiber.Map {
	m := fiber.Map{
		"id":                 link.ID,
		"link_code":          link.LinkCode,
		"creator_account_id": link.CreatorAccountID,
		"amount":             link.Amount,
		"currency":           link.Currency,
		"description":        link.Description,
		"recipient_label":    link.RecipientLabel,
		"status":             link.Status,
		"expires_at":         link.ExpiresAt,
		"created_at":         link.CreatedAt,
	}
	if link.PaidByAccountID != "" {
		m["paid_by_account_id"] = link.PaidByAccountID
		m["paid_at"] = link.PaidAt
		m["settlement_transaction_id"] = link.SettlementTransactionID
	}
	return m
}

// Create issues a new payment link.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	share, err := h.service.Create(c.UserContext(), CreateInput{
		CreatorAccountID: req.CreatorAccountID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Description:      req.Description,
		RecipientLabel:   req.RecipientLabel,
		TTL:              time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return mapLinkError(err)
	}

	payload := linkJSON(share.PaymentLink)
	payload["url"] = share.URL
	payload["qr_image"] = share.QRImage
	return c.Status(http.StatusCreated).JSON(payload)
}

// Get resolves a link by code, applying lazy expiry.
func (h *Handler) Get(c *fiber.Ctx) error {
	share, err := h.service.Share(c.UserContext(), c.Params("code"))
	if err != nil {
		return mapLinkError(err)
	}
	payload := linkJSON(share.PaymentLink)
	payload["url"] = share.URL
	payload["qr_image"] = share.QRImage
	return c.Status(http.StatusOK).JSON(payload)
}

// Pay redeems a link against the payer's account.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req payLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Pay(c.UserContext(), PayInput{
		LinkCode:       c.Params("code"),
		PayerAccountID: req.PayerAccountID,
		ClientTxID:     req.ClientTxID,
	})
	if err != nil {
		return mapLinkError(err)
	}

	payload := linkJSON(res.Link)
	payload["transaction_id"] = res.Transaction.ID
	payload["balances"] = res.Transaction.Balances
	return c.Status(http.StatusOK).JSON(payload)
}

// Cancel voids an active link on behalf of its creator.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	var req cancelLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	link, err := h.service.Cancel(c.UserContext(), c.Params("code"), req.OwnerAccountID)
	if err != nil {
		return mapLinkError(err)
	}
	return c.Status(http.StatusOK).JSON(linkJSON(link))
}

func mapLinkError(err error) error {
	switch {
	case errors.Is(err, ErrLinkNotFound):
		return fiber.NewError(http.StatusNotFound, "payment link not found")
	case errors.Is(err, ErrLinkNotActive):
		return fiber.NewError(http.StatusConflict, "payment link not active")
	case errors.Is(err, ErrNotCreator):
		return fiber.NewError(http.StatusForbidden, "not creator of payment link")
	default:
		return transfer.MapError(err)
	}
}
