// Package audit emits append-only records for every mutating repository
// operation. Records flow one way: the core writes them, an external sink
// consumes them, and nothing in this module ever reads one back.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operation names the mutation an audit record describes.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Record describes a single mutating operation. Changes carries the diff for
// updates, the created payload for creates, and the removed entity for
// deletes.
type Record struct {
	ID         string         `json:"id"`
	Operation  Operation      `json:"operation"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	ClinicID   int64          `json:"clinicId"`
	UserID     string         `json:"userId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Changes    map[string]any `json:"changes,omitempty"`
}

// Recorder is the audit sink contract. Implementations must not fail the
// calling operation: auditing is a side effect, not a participant in the
// store transaction.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// LogRecorder writes audit records as structured log entries.
type LogRecorder struct {
	log *zap.Logger
}

// NewLogRecorder builds a Recorder on top of zap. A nil logger yields a
// recorder that drops everything, which keeps test wiring short.
func NewLogRecorder(log *zap.Logger) *LogRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogRecorder{log: log.Named("audit")}
}

// Record fills in the id and timestamp when absent and emits the entry.
func (r *LogRecorder) Record(ctx context.Context, rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	r.log.Info("audit",
		zap.String("auditId", rec.ID),
		zap.String("operation", string(rec.Operation)),
		zap.String("entityType", rec.EntityType),
		zap.String("entityId", rec.EntityID),
		zap.Int64("clinicId", rec.ClinicID),
		zap.String("userId", rec.UserID),
		zap.Time("timestamp", rec.Timestamp),
		zap.Any("changes", rec.Changes))
}

// Nop returns a Recorder that discards every record.
func Nop() Recorder {
	return &LogRecorder{log: zap.NewNop()}
}
