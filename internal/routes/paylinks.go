package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nimba-pay/nimba_pay/internal/paylink"
)

// RegisterPaylinkRoutes wires payment link endpoints.
func RegisterPaylinkRoutes(r fiber.Router, h *paylink.Handler) {
	r.Post("/payment-links", h.Create)
	r.Get("/payment-links/:code", h.Get)
	r.Post("/payment-links/:code/pay", h.Pay)
	r.Post("/payment-links/:code/cancel", h.Cancel)
}
