package apperr

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

// Entity keys
var (
	ProjectIDKey     = goerr.NewTypedKey[types.ProjectID]("project_id")
	AgentIDKey       = goerr.NewTypedKey[types.AgentID]("agent_id")
	VersionIDKey     = goerr.NewTypedKey[types.VersionID]("version_id")
	ProfileIDKey     = goerr.NewTypedKey[types.ProfileID]("profile_id")
	SessionIDKey     = goerr.NewTypedKey[types.SessionID]("session_id")
	APIKeyIDKey      = goerr.NewTypedKey[types.APIKeyID]("api_key_id")
	VersionNumberKey = goerr.NewTypedKey[int]("version_number")
)

// Input keys
var (
	AgentNameKey   = goerr.NewTypedKey[string]("agent_name")
	ProfileNameKey = goerr.NewTypedKey[string]("profile_name")
	ModelKey       = goerr.NewTypedKey[string]("model")
	FieldKey       = goerr.NewTypedKey[string]("field")
	BackendKey     = goerr.NewTypedKey[string]("backend")
)
