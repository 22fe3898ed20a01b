// cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"staking-reward-ledger/database"
	"staking-reward-ledger/handlers"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/middleware"
	"staking-reward-ledger/services"
)

var serveSkipMigrate bool

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduled jobs and stake sync",
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&serveSkipMigrate, "skip-migrate", false, "Do not auto-migrate the schema on start")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !serveSkipMigrate {
		if err := database.Migrate(a.db); err != nil {
			return err
		}
	}

	server := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		IdleTimeout:           60 * time.Second,
	})
	server.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Wallet-Address, X-Admin-Token",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400,
	}))
	server.Use(middleware.MetricsMiddleware(a.metrics))

	server.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	server.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))
	handlers.Setup(server, a.routes())

	sched, err := services.NewScheduler(a.claims, a.accrual, a.exporter, a.metrics)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("✅ Server running", "addr", cfg.ListenAddr)
		return server.Listen(cfg.ListenAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down server...")
		return server.ShutdownWithTimeout(10 * time.Second)
	})
	if a.syncWorker != nil {
		g.Go(func() error { return a.syncWorker.Run(gctx) })
	} else {
		logging.Warn("⚠️  SYNC_SERVICE_URL not set, stake mirror is only fed by confirmations")
	}

	err = g.Wait()
	if shutdownErr := sched.Shutdown(); shutdownErr != nil {
		logging.Warn("scheduler shutdown", logging.Err(shutdownErr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
