package async

import "context"

type contextKey string

const (
	syncModeKey contextKey = "async-sync-mode"
)

// WithSyncMode returns a new context with sync mode enabled.
// Dispatch executes handlers synchronously under this context, which makes
// side effects observable right after the call in tests.
func WithSyncMode(ctx context.Context) context.Context {
	return context.WithValue(ctx, syncModeKey, true)
}

func isSyncMode(ctx context.Context) bool {
	if v, ok := ctx.Value(syncModeKey).(bool); ok {
		return v
	}
	return false
}
