package transfer

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
)

// Handler exposes transfer endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a transfer handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type transferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ClientTxID    string `json:"client_tx_id"`
	Metadata      string `json:"metadata"`
}

// Create processes an account-to-account transfer.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.engine.Transfer(c.UserContext(), TransferInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Kind:          ledger.KindTransfer,
		ClientTxID:    req.ClientTxID,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return MapError(err)
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction_id": res.ID,
		"kind":           res.Kind,
		"balances":       res.Balances,
		"completed_at":   res.CreatedAt,
		"duplicate":      res.Duplicate,
	})
}

// MapError translates engine and ledger errors into HTTP errors. It is shared
// by the handlers that settle through the engine.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSameAccount), errors.Is(err, ErrCurrencyMismatch):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, "insufficient funds")
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ledger.ErrAccountNotActive):
		return fiber.NewError(http.StatusUnprocessableEntity, "account not active")
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "storage unavailable, re-query before retrying")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
