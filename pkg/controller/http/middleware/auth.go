package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

// Auth requires a bearer credential on every request and puts the resolved
// principal into the request context
func Auth(authenticator interfaces.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			credential, ok := bearerCredential(r)
			if !ok {
				WriteError(w, goerr.Wrap(auth.ErrMissingCredential, "no bearer credential"))
				return
			}

			principal, err := authenticator.Authenticate(ctx, credential)
			if err != nil {
				ctxlog.From(ctx).Debug("authentication failed", "error", err)
				WriteError(w, err)
				return
			}

			logger := ctxlog.From(ctx).With(
				"project_id", principal.ProjectID,
				"auth_method", principal.Method,
			)
			ctx = ctxlog.With(ContextWithPrincipal(ctx, principal), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerCredential(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	return credential, credential != ""
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the JSON error body with the status mapped from the
// error tags
func WriteError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatusFromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    apperr.CodeFromError(err),
			Message: apperr.Message(err),
		},
	})
}
