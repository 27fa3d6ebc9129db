package lightodm

import (
	"context"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	logMsgOperation     = "odm operation completed"
	logMsgOperationFail = "odm operation failed"
	logMsgConnected     = "connected to mongodb"
	logMsgCloseFailed   = "failed to disconnect mongodb client"
	logMsgClosed        = "mongodb connection closed"
	logAttrOperation    = "operation"
	logAttrCollection   = "collection"
	logAttrDurationMS   = "duration_ms"
	logAttrError        = "error"
	logAttrDatabase     = "database"
)

// Logger receives operational messages together with the context of the
// call that produced them. *slog.Logger satisfies it.
type Logger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// NewOTelLogger returns a Logger that emits through the OpenTelemetry slog
// bridge using the global LoggerProvider. Records are correlated with the
// span found in the context passed to each call.
func NewOTelLogger(name string) Logger {
	return otelslog.NewLogger(name)
}
