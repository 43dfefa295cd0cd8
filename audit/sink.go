// Package audit delivers workflow events: to the structured log, to the
// persistent audit log, and to Kafka. Every sink satisfies leave.Notifier.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

// Sink is the notifier contract, restated here so this package does not
// depend on leave.
type Sink interface {
	Notify(ctx context.Context, event generic.AuditEntry) error
}

// =============================================================================
// LOG SINK
// =============================================================================

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Notify(_ context.Context, e generic.AuditEntry) error {
	s.logger.Info(string(e.Action),
		zap.String("event_id", e.ID),
		zap.Time("at", e.Timestamp),
		zap.String("actor_id", e.ActorID),
		zap.String("request_id", string(e.RequestID)),
		zap.String("employee_id", string(e.EmployeeID)),
		zap.String("policy_id", string(e.PolicyID)),
		zap.Any("payload", e.Payload),
	)
	return nil
}

// =============================================================================
// STORE SINK
// =============================================================================

// StoreSink persists events so they can be queried later.
type StoreSink struct {
	log generic.AuditLog
}

func NewStoreSink(log generic.AuditLog) *StoreSink {
	return &StoreSink{log: log}
}

func (s *StoreSink) Notify(ctx context.Context, e generic.AuditEntry) error {
	if err := s.log.AppendAudit(ctx, e); err != nil {
		return fmt.Errorf("persist audit entry %s: %w", e.ID, err)
	}
	return nil
}

// =============================================================================
// FANOUT
// =============================================================================

// Fanout delivers to every sink even when some fail.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, e generic.AuditEntry) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
