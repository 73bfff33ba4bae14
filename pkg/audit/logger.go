package audit

import (
	"context"

	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
)

// Logger is the interface for activity logging
type Logger interface {
	// Log records an activity event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// WithLogger adds an activity logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the activity logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	// Return a no-op logger if none is set
	return NopLogger()
}

// Record logs event and reports failures to the application log instead of
// the caller. Activity logging never fails the operation it describes.
func Record(ctx context.Context, logger Logger, event *Event) {
	if logger == nil {
		return
	}
	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("event_type", string(event.EventType)).
			Error("failed to write activity log")
	}
}

// NopLogger returns a logger that discards every event
func NopLogger() Logger {
	return noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (noOpLogger) Close() error {
	return nil
}

// StructuredLogger writes activity events to the application log
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates an activity logger backed by logger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// Log writes event as a structured log line
func (l *StructuredLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.EffectiveUserID != nil {
		fields["effective_user_id"] = *event.EffectiveUserID
	}
	if event.TenantID != nil {
		fields["tenant_id"] = *event.TenantID
	}
	if event.TargetType != "" {
		fields["target_type"] = string(event.TargetType)
		fields["target_id"] = event.TargetID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}

	l.logger.WithFields(fields).Info(event.Message)
	return nil
}

// Close is a no-op
func (l *StructuredLogger) Close() error {
	return nil
}

// countingLogger increments the activity event counter for every event it
// forwards, whether or not the write succeeds
type countingLogger struct {
	Logger
	metrics *observability.Metrics
}

// WithMetrics wraps logger so every event is counted by type and status
func WithMetrics(logger Logger, metrics *observability.Metrics) Logger {
	if metrics == nil {
		return logger
	}
	return &countingLogger{Logger: logger, metrics: metrics}
}

func (l *countingLogger) Log(ctx context.Context, event *Event) error {
	l.metrics.ActivityEventsTotal.WithLabelValues(string(event.EventType), string(event.Status)).Inc()
	return l.Logger.Log(ctx, event)
}
