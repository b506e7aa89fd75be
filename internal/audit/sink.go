// Package audit emits authorization decision records to external sinks. The
// decision path never blocks on audit I/O; records travel through a buffered
// channel and are dropped (and counted) when the buffer is full.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/gateseal/internal/permission"
)

// Entry is one authorization decision record.
type Entry struct {
	PrincipalID   string                `json:"principal_id" db:"principal_id"`
	Permission    permission.Permission `json:"permission" db:"permission"`
	ResourceID    *string               `json:"resource_id,omitempty" db:"resource_id"`
	Decision      string                `json:"decision" db:"decision"` // authorized, denied
	Reason        string                `json:"reason,omitempty" db:"reason"`
	AppliedGrants []string              `json:"applied_grants,omitempty" db:"-"`
	Timestamp     time.Time             `json:"timestamp" db:"timestamp"`
}

// Sink receives decision records. Implementations must tolerate concurrent
// calls; slow sinks delay only the recorder goroutine, never a decision.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) Record(context.Context, Entry) error { return nil }

// LogSink writes records to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs each decision at Info.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	fields := []zap.Field{
		zap.String("principal_id", e.PrincipalID),
		zap.String("permission", e.Permission.String()),
		zap.String("decision", e.Decision),
		zap.Time("timestamp", e.Timestamp),
	}
	if e.ResourceID != nil {
		fields = append(fields, zap.String("resource_id", *e.ResourceID))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if len(e.AppliedGrants) > 0 {
		fields = append(fields, zap.Strings("applied_grants", e.AppliedGrants))
	}
	s.logger.Info("authorization decision", fields...)
	return nil
}
