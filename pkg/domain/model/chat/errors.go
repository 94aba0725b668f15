package chat

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

var (
	ErrEmptyMessage = goerr.New("message is required",
		goerr.T(apperr.ErrTagValidation)).ID("ERR_EMPTY_MESSAGE")

	ErrSessionNotFound = goerr.New("session not found",
		goerr.T(apperr.ErrTagNotFound)).ID("ERR_SESSION_NOT_FOUND")
)
