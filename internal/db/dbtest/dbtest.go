// Package dbtest opens isolated in-memory SQLite databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/invoiceflow/internal/models"
)

var seq atomic.Int64

// Open returns a migrated database private to t. The pool holds a single
// connection, so code under test must not use the outer handle inside a
// transaction.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, m := range models.All() {
		if err := conn.AutoMigrate(m); err != nil {
			t.Fatalf("migrate %T: %v", m, err)
		}
	}
	return conn
}

// QueryCounter counts SELECT statements issued through a connection.
type QueryCounter struct{ n atomic.Int64 }

// CountQueries registers a callback on conn and returns the counter.
func CountQueries(t testing.TB, conn *gorm.DB) *QueryCounter {
	t.Helper()
	c := &QueryCounter{}
	name := fmt.Sprintf("dbtest:count_%d", seq.Add(1))
	if err := conn.Callback().Query().After("gorm:query").Register(name, func(*gorm.DB) { c.n.Add(1) }); err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return c
}

// Reset zeroes the counter.
func (c *QueryCounter) Reset() { c.n.Store(0) }

// Count returns the number of queries seen since the last Reset.
func (c *QueryCounter) Count() int64 { return c.n.Load() }
