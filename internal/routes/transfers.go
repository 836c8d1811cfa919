package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nimba-pay/nimba_pay/internal/transfer"
)

// RegisterTransferRoutes wires the transfer endpoint.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers", h.Create)
}
