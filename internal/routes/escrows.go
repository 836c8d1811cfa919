package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nimba-pay/nimba_pay/internal/escrow"
)

// RegisterEscrowRoutes wires escrow endpoints.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler) {
	r.Post("/escrows", h.Open)
	r.Get("/escrows/:escrowId", h.Get)
	r.Post("/escrows/:escrowId/release", h.Release)
	r.Post("/escrows/:escrowId/refund", h.Refund)
	r.Post("/escrows/:escrowId/dispute", h.Dispute)
	r.Post("/escrows/:escrowId/resolve", h.Resolve)
}
