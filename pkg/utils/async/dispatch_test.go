package async_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/utils/async"
)

type ctxKey struct{}

func TestDispatch(t *testing.T) {
	t.Run("executes synchronously when sync mode is enabled", func(t *testing.T) {
		ctx := async.WithSyncMode(context.Background())
		executed := false

		async.Dispatch(ctx, func(ctx context.Context) error {
			executed = true
			return nil
		})

		gt.True(t, executed)
	})

	t.Run("executes handler asynchronously", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		var executed atomic.Bool
		async.Dispatch(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			executed.Store(true)
			return nil
		})

		wg.Wait()
		gt.True(t, executed.Load())
	})

	t.Run("handler survives cancellation of the parent context", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "kept"))
		cancel()

		done := make(chan error, 1)
		var value any
		async.Dispatch(parent, func(ctx context.Context) error {
			value = ctx.Value(ctxKey{})
			done <- ctx.Err()
			return nil
		})

		gt.NoError(t, <-done)
		gt.Equal(t, value, any("kept"))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		ctx := async.WithSyncMode(context.Background())
		async.Dispatch(ctx, func(ctx context.Context) error {
			panic("test panic")
		})
	})

	t.Run("handles returned error", func(t *testing.T) {
		ctx := async.WithSyncMode(context.Background())
		async.Dispatch(ctx, func(ctx context.Context) error {
			return goerr.New("test error")
		})
	})
}
