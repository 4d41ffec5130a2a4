// Package runlog persists one record per tool run or payment capture.
package runlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/autonest/backend/internal/metrics"
	"github.com/autonest/backend/internal/models"
)

const writeTimeout = 5 * time.Second

// Store is satisfied by *repository.RunLogRepo.
type Store interface {
	Create(ctx context.Context, e *models.RunLogEntry) error
}

// Logger writes run records. A failed write is logged and counted but never
// returned, so it cannot change the outcome of the run it describes.
type Logger struct {
	store   Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewLogger(store Store, m *metrics.Metrics, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: store, metrics: m, log: log.With("component", "runlog")}
}

// Record fills in a missing ID and timestamp and stores e. It detaches from
// the caller's cancellation so a client disconnect does not drop the record.
func (l *Logger) Record(ctx context.Context, e *models.RunLogEntry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := l.store.Create(ctx, e); err != nil {
		l.metrics.IncRunLogWriteFailure()
		l.log.Error("failed to write run log",
			"run_id", e.ID, "workflow_id", e.WorkflowID, "user_id", e.UserID, "status", e.Status, "error", err)
		return
	}
	l.log.Debug("run logged", "run_id", e.ID, "workflow_id", e.WorkflowID, "status", e.Status)
}
