package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/utils/errors"
)

// DefaultTimeout bounds how long a dispatched handler may run
const DefaultTimeout = 30 * time.Second

// Dispatch runs handler in a new goroutine with panic recovery. The handler
// context keeps the values of ctx (logger, principal) but is detached from its
// cancellation, so work dispatched from a request outlives the request.
// If sync mode is enabled in the context, the handler runs synchronously.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	if isSyncMode(ctx) {
		run(ctx, handler)
		return
	}

	go func() {
		newCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
		defer cancel()
		run(newCtx, handler)
	}()
}

func run(ctx context.Context, handler func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			err := goerr.New("panic in async handler",
				goerr.V("recover", r),
				goerr.V("stack", string(debug.Stack())),
			)
			errors.Handle(ctx, err)
		}
	}()

	if err := handler(ctx); err != nil {
		errors.Handle(ctx, err)
	}
}
