// Package audit provides the single entry point for security and audit
// logging. Every denial, rejection, and operator-relevant state change goes
// through Log so downstream alerting can key off log_type=audit.
package audit

import (
	"context"
	"log/slog"

	"turnstile/pkg/requestcontext"
)

// Log emits a structured audit event. The request ID is attached when the
// context carries one so gate and webhook events can be traced end to end.
func Log(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}

// LogSecurity emits an audit event at warning level. Used for authorization
// failures (bad signatures, replays) that feed the escalation tracker.
func LogSecurity(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit", "security", true)
	logger.WarnContext(ctx, event, args...)
}
