package app

import (
	"context"

	"github.com/felixgeelhaar/plugman/internal/ports"
)

// operationField tags every entry logged on behalf of one add, remove or
// prepare run.
const operationField = "operation"

// withOperationLogger attaches logger, tagged with opID, to ctx unless ctx
// already carries an operation logger.
func withOperationLogger(ctx context.Context, logger ports.Logger, opID string) context.Context {
	if logger == nil || ports.LoggerFromContext(ctx) != nil {
		return ctx
	}
	return ports.ContextWithLogger(ctx, logger.With(ports.F(operationField, opID)))
}

// loggerFor returns the operation logger attached to ctx, or fallback.
func loggerFor(ctx context.Context, fallback ports.Logger) ports.Logger {
	if logger := ports.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return fallback
}
