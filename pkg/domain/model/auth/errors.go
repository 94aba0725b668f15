package auth

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

var (
	ErrMissingCredential = goerr.New("authentication required",
		goerr.T(apperr.ErrTagUnauthorized)).ID("ERR_MISSING_CREDENTIAL")

	ErrInvalidCredential = goerr.New("invalid credential",
		goerr.T(apperr.ErrTagUnauthorized)).ID("ERR_INVALID_CREDENTIAL")

	ErrSessionExpired = goerr.New("session token expired",
		goerr.T(apperr.ErrTagUnauthorized)).ID("ERR_SESSION_EXPIRED")
)

var (
	ErrProjectNotFound = goerr.New("project not found",
		goerr.T(apperr.ErrTagNotFound)).ID("ERR_PROJECT_NOT_FOUND")

	ErrAPIKeyNotFound = goerr.New("project key not found",
		goerr.T(apperr.ErrTagUnauthorized)).ID("ERR_API_KEY_NOT_FOUND")
)
