// Package db opens the database and applies the schema.
package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/invoiceflow/internal/config"
)

const connectAttempts = 10

var passwordPattern = regexp.MustCompile(`(password=)([^\s]+)|(://[^:/]+:)([^@]+)(@)`)

// MaskDSN hides the password in key=value and URL style DSNs.
func MaskDSN(dsn string) string {
	return passwordPattern.ReplaceAllString(dsn, "${1}${3}***${5}")
}

// SQLiteDSN appends the pragmas the app relies on (foreign keys, busy timeout)
// unless the DSN already carries query parameters.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL"
}

// Open connects to the configured database, retrying while postgres starts up.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc:        UTCNow,
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(SQLiteDSN(cfg.DSN()))
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	var (
		conn *gorm.DB
		err  error
	)
	for i := 1; i <= connectAttempts; i++ {
		conn, err = gorm.Open(dialector, gcfg)
		if err == nil {
			err = conn.WithContext(ctx).Exec("SELECT 1").Error
		}
		if err == nil {
			break
		}
		zap.L().Warn("database not ready, retrying", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database after %d attempts: %w", connectAttempts, err)
	}

	if cfg.Driver == "sqlite" {
		// One writer at a time; SQLite would otherwise return SQLITE_BUSY under load.
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	zap.L().Info("database connected", zap.String("driver", cfg.Driver), zap.String("dsn", MaskDSN(cfg.DSN())))
	return conn, nil
}

// UTCNow is the clock GORM stamps created_at and updated_at with. Stored
// times are always UTC so SQLite's text comparison orders them correctly.
func UTCNow() time.Time { return time.Now().UTC() }

// Ping checks connectivity for health endpoints.
func Ping(ctx context.Context, conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
