package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/controller/http/middleware"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/utils/errors"
)

const maxBodySize = 1 << 20

// writeError logs err and writes the JSON error body. Every handler failure
// ends here.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	errors.Handle(r.Context(), goerr.Wrap(err, "request failed",
		goerr.V("path", r.URL.Path),
		goerr.V("method", r.Method),
	))
	middleware.WriteError(w, err)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		errors.Handle(ctx, goerr.Wrap(err, "failed to encode response"))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return goerr.New("invalid JSON request body: "+err.Error(), goerr.T(apperr.ErrTagValidation))
	}
	return nil
}
