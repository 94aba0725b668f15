package safe

import (
	"context"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/utils/errors"
)

// Close closes c and logs the failure instead of returning it
func Close(ctx context.Context, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		errors.Handle(ctx, goerr.Wrap(err, "failed to close by safe.Close"))
	}
}

// Write writes data and logs the failure. Used for response bodies where the
// status line has already been sent.
func Write(ctx context.Context, w io.Writer, data []byte) {
	if _, err := w.Write(data); err != nil {
		errors.Handle(ctx, goerr.Wrap(err, "failed to write by safe.Write"))
	}
}
