package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/config"
	"github.com/diewo77/invoiceflow/internal/db"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildCLI().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "invoiceflow:", err)
		os.Exit(1)
	}
}

func buildCLI() *cli.Command {
	serveCmd := &cli.Command{
		Name:  "serve",
		Usage: "Run the web server with the email worker and the scheduler",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "worker", Value: true, Usage: "process queued emails in this process"},
			&cli.BoolFlag{Name: "scheduler", Value: true, Usage: "run recurring invoices and overdue sweeps in this process"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Serve(ctx, c.Bool("worker"), c.Bool("scheduler"))
		},
	}

	migrateCmd := &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, conn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeDB(conn)
			if err := db.Migrate(conn, *cfg); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			zap.L().Info("migrations completed")
			return nil
		},
	}

	seedCmd := &cli.Command{
		Name:  "seed",
		Usage: "Create the demo account with sample invoices",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Value: "demo@invoiceflow.local", Usage: "demo account email"},
			&cli.StringFlag{Name: "password", Value: "demo-password", Usage: "demo account password"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			return seed(ctx, app, c.String("email"), c.String("password"))
		},
	}

	workerCmd := &cli.Command{
		Name:  "worker",
		Usage: "Process the email queue until interrupted",
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Worker().Run(ctx)
		},
	}

	recurringCmd := &cli.Command{
		Name:  "recurring",
		Usage: "Generate the invoices of due recurring definitions once and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.runRecurring(ctx, time.Now())
		},
	}

	sweepCmd := &cli.Command{
		Name:  "sweep-overdue",
		Usage: "Mark past-due invoices overdue and queue owner notices, then exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.sweepOverdue(ctx, time.Now())
		},
	}

	return &cli.Command{
		Name:           "invoiceflow",
		Usage:          "Invoicing for freelancers and small businesses",
		DefaultCommand: "serve",
		Commands:       []*cli.Command{serveCmd, migrateCmd, seedCmd, workerCmd, recurringCmd, sweepCmd},
	}
}

// open loads the configuration, installs the logger and connects to the
// database.
func open(ctx context.Context) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := newLogger(cfg.App)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, conn, nil
}

func newLogger(app config.AppConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if app.Dev {
		zcfg = zap.NewDevelopmentConfig()
	}
	if app.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(app.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func closeDB(conn *gorm.DB) {
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
