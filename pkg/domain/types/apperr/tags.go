package apperr

import "github.com/m-mizutani/goerr/v2"

// Client faults
var (
	// ErrTagValidation marks malformed or missing input (HTTP 400)
	ErrTagValidation = goerr.NewTag("validation")
	// ErrTagNotFound marks an unknown entity within the tenant scope (HTTP 404)
	ErrTagNotFound = goerr.NewTag("not_found")
	// ErrTagInvalidState marks a request that conflicts with current state (HTTP 409)
	ErrTagInvalidState = goerr.NewTag("invalid_state")
	// ErrTagUnauthorized marks a missing or rejected credential (HTTP 401)
	ErrTagUnauthorized = goerr.NewTag("unauthorized")
	// ErrTagRateLimit marks a request rejected by the rate limiter (HTTP 429)
	ErrTagRateLimit = goerr.NewTag("rate_limit")
)

// Server faults
var (
	// ErrTagProvider marks a failed model provider call (HTTP 502)
	ErrTagProvider = goerr.NewTag("provider")
	ErrTagInternal = goerr.NewTag("internal")
)
