package apperr_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

func TestHTTPStatusFromError(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "validation",
			err:    goerr.New("bad input", goerr.T(apperr.ErrTagValidation)),
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "not found through wrap",
			err:    goerr.Wrap(goerr.New("agent not found", goerr.T(apperr.ErrTagNotFound)), "failed to resolve agent"),
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "invalid state",
			err:    goerr.New("no active version", goerr.T(apperr.ErrTagInvalidState)),
			status: http.StatusConflict,
			code:   "invalid_state",
		},
		{
			name:   "provider",
			err:    goerr.Wrap(errors.New("upstream exploded"), "chat completion failed", goerr.T(apperr.ErrTagProvider)),
			status: http.StatusBadGateway,
			code:   "provider_error",
		},
		{
			name:   "untagged",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, apperr.HTTPStatusFromError(tc.err), tc.status)
			gt.Equal(t, apperr.CodeFromError(tc.err), tc.code)
		})
	}
}

func TestMessage(t *testing.T) {
	t.Run("client fault uses detection message", func(t *testing.T) {
		err := goerr.Wrap(goerr.New("session not found", goerr.T(apperr.ErrTagValidation)), "failed to resolve session")
		gt.Equal(t, apperr.Message(err), "session not found")
	})

	t.Run("provider error carries upstream message", func(t *testing.T) {
		err := goerr.Wrap(errors.New("model overloaded"), "chat completion failed", goerr.T(apperr.ErrTagProvider))
		gt.Equal(t, apperr.Message(err), "model overloaded")
	})

	t.Run("internal error is hidden", func(t *testing.T) {
		err := goerr.Wrap(errors.New("disk on fire"), "failed to write")
		gt.Equal(t, apperr.Message(err), "internal server error")
	})
}
