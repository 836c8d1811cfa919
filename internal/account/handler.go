package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(acct ledger.Account) accountResponse {
	return accountResponse{
		ID:        acct.ID,
		OwnerID:   acct.OwnerID,
		Balance:   acct.Balance,
		Currency:  acct.Currency,
		Status:    acct.Status,
		CreatedAt: acct.CreatedAt,
	}
}

// Create provisions an account for an owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Create(c.UserContext(), CreateInput{OwnerID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return fiber.NewError(http.StatusConflict, "account already exists")
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(acct))
}

// Get returns account metadata.
func (h *Handler) Get(c *fiber.Ctx) error {
	acct, err := h.service.Get(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(acct))
}

// Balance returns the account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": balance.AccountID,
		"balance":    balance.Amount,
		"currency":   balance.Currency,
		"timestamp":  balance.AsOf,
	})
}

// Statement returns recent ledger entries for the account.
func (h *Handler) Statement(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	entries, err := h.service.Statement(c.UserContext(), c.Params("accountId"), limit)
	if err != nil {
		return mapError(err)
	}
	items := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		items = append(items, fiber.Map{
			"id":             e.ID,
			"transaction_id": e.TransactionID,
			"direction":      e.Direction,
			"amount":         e.Amount,
			"kind":           e.Kind,
			"metadata":       e.Metadata,
			"created_at":     e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": c.Params("accountId"),
		"entries":    items,
	})
}

// SetStatus updates the account status on behalf of the KYC collaborator.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.SetStatus(c.UserContext(), c.Params("accountId"), req.Status)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotActive) {
			return fiber.NewError(http.StatusConflict, "account is closed")
		}
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(acct))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "storage unavailable")
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
