package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nimba-pay/nimba_pay/internal/config"
	"github.com/nimba-pay/nimba_pay/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app         *fiber.App
	cfg         config.Config
	db          *pgxpool.Pool
	cache       *redis.Client
	stopWorkers func()
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	stop, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache, stopWorkers: stop}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops background workers and gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopWorkers != nil {
		s.stopWorkers()
	}
	return s.app.ShutdownWithContext(ctx)
}
