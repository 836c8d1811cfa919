package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nimba-pay/nimba_pay/internal/account"
)

// RegisterAccountRoutes wires account provisioning and read endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/accounts", h.Create)
	r.Get("/accounts/:accountId", h.Get)
	r.Get("/accounts/:accountId/balance", h.Balance)
	r.Get("/accounts/:accountId/statement", h.Statement)
	r.Patch("/accounts/:accountId/status", h.SetStatus)
}
