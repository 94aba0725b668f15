package types

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
)

// newUUID generates UUIDv7 so that IDs sort by creation time
func newUUID(ctx context.Context) string {
	id, err := uuid.NewV7()
	if err != nil {
		ctxlog.From(ctx).Warn("failed to generate uuid V7, fallback to V4", "error", err)
		return uuid.New().String()
	}

	return id.String()
}

func isUUID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
