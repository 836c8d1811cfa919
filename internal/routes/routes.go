package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nimba-pay/nimba_pay/internal/account"
	"github.com/nimba-pay/nimba_pay/internal/config"
	"github.com/nimba-pay/nimba_pay/internal/escrow"
	"github.com/nimba-pay/nimba_pay/internal/ledger"
	"github.com/nimba-pay/nimba_pay/internal/middleware"
	"github.com/nimba-pay/nimba_pay/internal/notification"
	"github.com/nimba-pay/nimba_pay/internal/paylink"
	"github.com/nimba-pay/nimba_pay/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. The returned stop
// function halts background workers and is called during shutdown.
func Setup(app *fiber.App, d Deps) (func(), error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
	}

	var linkRepo paylink.Repository
	var holdRepo escrow.Repository
	if d.DB != nil {
		linkRepo = paylink.NewPostgresRepository(d.DB)
		holdRepo = escrow.NewPostgresRepository(d.DB)
	} else {
		linkRepo = paylink.NewMemoryRepository()
		holdRepo = escrow.NewMemoryRepository()
	}

	var locks *redsync.Redsync
	if d.Cache != nil {
		locks = redsync.New(goredis.NewPool(d.Cache))
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	engine := transfer.NewEngine(ledgerBackend, notifier)
	accountSvc := account.NewService(ledgerBackend, d.Cfg.DefaultCurrency)
	paylinkSvc := paylink.NewService(linkRepo, ledgerBackend, engine, locks, d.Logger, paylink.Config{
		BaseURL: d.Cfg.PaylinkBaseURL,
	})
	escrowSvc := escrow.NewService(holdRepo, ledgerBackend, engine, d.Logger)

	accountHandler := account.NewHandler(accountSvc)
	transferHandler := transfer.NewHandler(engine)
	paylinkHandler := paylink.NewHandler(paylinkSvc)
	escrowHandler := escrow.NewHandler(escrowSvc, d.Cfg.CommissionRate)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, accountHandler)
	RegisterTransferRoutes(api, transferHandler)
	RegisterPaylinkRoutes(api, paylinkHandler)
	RegisterEscrowRoutes(api, escrowHandler)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go paylinkSvc.RunSweeper(sweepCtx, d.Cfg.SweepInterval)

	return stopSweeper, nil
}
