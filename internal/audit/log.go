package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"netcrew.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// logEntry writes the structured audit line that mirrors every persisted
// entry. It uses the shared logger: the request logger already carries
// request_id and user_id, and the entry sets them itself.
func logEntry(e Entry) {
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", string(e.Action)),
		zap.String("severity", string(e.Severity)),
		zap.Bool("success", e.Success),
	}
	if e.RequestID != "" {
		fields = append(fields, obs.RequestID(e.RequestID))
	}
	if e.ActorID != "" {
		fields = append(fields, obs.UserID(e.ActorID))
	}
	if e.ResourceType != "" {
		fields = append(fields, zap.String("resource_type", e.ResourceType), zap.String("resource_id", e.ResourceID))
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("fields", e.Metadata))
	}
	obs.Logger().Info("audit", fields...)
}
