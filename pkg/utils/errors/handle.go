package errors

import (
	"context"
	"errors"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

// Handle logs errors with context. Cancellation by the caller and client
// faults are logged below error level.
func Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	logger := ctxlog.From(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("operation canceled", "error", err)
	case apperr.IsClientFault(err):
		logger.Warn("request rejected", "error", err)
	default:
		logger.Error("error occurred", "error", err)
	}
}
