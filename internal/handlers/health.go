package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/queue"
)

type HealthHandler struct {
	db    *gorm.DB
	queue *queue.Queue
}

func NewHealthHandler(db *gorm.DB, q *queue.Queue) *HealthHandler {
	return &HealthHandler{db: db, queue: q}
}

type healthReport struct {
	Status   string                     `json:"status"`
	Database string                     `json:"database"`
	Queue    map[models.JobStatus]int64 `json:"queue,omitempty"`
}

// Health pings the database and reports outbox counts. It answers 503 when
// the database is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := healthReport{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := h.ping(ctx); err != nil {
		zap.L().Warn("health check: database", zap.Error(err))
		report.Status, report.Database = "degraded", "unreachable"
		status = http.StatusServiceUnavailable
	} else if stats, err := h.queue.Stats(ctx); err != nil {
		zap.L().Warn("health check: queue stats", zap.Error(err))
	} else {
		report.Queue = stats
	}
	httpx.JSON(w, status, report)
}

func (h *HealthHandler) ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
