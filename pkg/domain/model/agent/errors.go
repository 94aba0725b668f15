package agent

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

// Errors shared by all repository backends and the registry
var (
	ErrAgentNotFound = goerr.New("agent not found in this project",
		goerr.T(apperr.ErrTagNotFound)).ID("ERR_AGENT_NOT_FOUND")

	ErrVersionNotFound = goerr.New("version not found for this agent",
		goerr.T(apperr.ErrTagNotFound)).ID("ERR_VERSION_NOT_FOUND")

	ErrProfileNotFound = goerr.New("model profile not found",
		goerr.T(apperr.ErrTagNotFound)).ID("ERR_PROFILE_NOT_FOUND")

	ErrNoActiveVersion = goerr.New("no active version found for this agent, activate a version first",
		goerr.T(apperr.ErrTagInvalidState)).ID("ERR_NO_ACTIVE_VERSION")

	ErrLastVersion = goerr.New("cannot delete the only version, delete the agent instead",
		goerr.T(apperr.ErrTagInvalidState)).ID("ERR_LAST_VERSION")

	ErrAgentNameConflict = goerr.New("agent with this name already exists in the project",
		goerr.T(apperr.ErrTagValidation)).ID("ERR_AGENT_NAME_CONFLICT")

	ErrProfileNameConflict = goerr.New("model profile with this name already exists in the project",
		goerr.T(apperr.ErrTagValidation)).ID("ERR_PROFILE_NAME_CONFLICT")

	ErrMissingCredential = goerr.New("either api_key or model_profile_id is required",
		goerr.T(apperr.ErrTagValidation)).ID("ERR_MISSING_CREDENTIAL")
)
