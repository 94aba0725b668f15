package interfaces

import (
	"context"
	"time"

	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

// AgentRepository manages agents and their immutable versions. Every method is
// scoped to a project; an entity of another project is reported as not found.
type AgentRepository interface {
	CreateAgent(ctx context.Context, a *agent.Agent) error
	GetAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) (*agent.Agent, error)
	// GetAgentByName looks up an agent case-insensitively
	GetAgentByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.Agent, error)
	ListAgents(ctx context.Context, projectID types.ProjectID) ([]*agent.Agent, error)
	UpdateAgent(ctx context.Context, a *agent.Agent) error
	// DeleteAgent removes the agent, all of its versions and their turns
	DeleteAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) error

	// CreateAgentVersion allocates the next version number of the agent and
	// stores v in the same atomic step. The number is written back to v.
	CreateAgentVersion(ctx context.Context, v *agent.AgentVersion) error
	GetAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error)
	GetAgentVersionByNumber(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, number int) (*agent.AgentVersion, error)
	// GetActiveAgentVersion returns nil without error when no version is active
	GetActiveAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) (*agent.AgentVersion, error)
	// ListAgentVersions returns versions newest first
	ListAgentVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) ([]*agent.AgentVersion, error)
	// ActivateAgentVersion makes id the only active version of the agent in
	// one atomic step
	ActivateAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error)
	// DeleteAgentVersion removes a version and its turns. It fails with an
	// invalid state error when the version is the last one of the agent.
	DeleteAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) error
}

// ProfileRepository manages model profiles
type ProfileRepository interface {
	CreateModelProfile(ctx context.Context, p *agent.ModelProfile) error
	GetModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error)
	GetModelProfileByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.ModelProfile, error)
	ListModelProfiles(ctx context.Context, projectID types.ProjectID) ([]*agent.ModelProfile, error)
	UpdateModelProfile(ctx context.Context, p *agent.ModelProfile) error
	// DeleteModelProfile clears the profile reference of versions using it.
	// Their frozen credentials stay valid.
	DeleteModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) error
}

// TurnRepository is the append only conversation store
type TurnRepository interface {
	// AppendTurn assigns Seq and CreatedAt and stores the turn. Seq is strictly
	// increasing within a session even under concurrent appends.
	AppendTurn(ctx context.Context, t *chat.Turn) error
	// LoadHistory returns the turns of a session in Seq order, empty when unknown
	LoadHistory(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) ([]*chat.Turn, error)
	SessionExists(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) (bool, error)
	// SumTokens returns nil when no turn of the session has field populated
	SumTokens(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID, field chat.TokenField) (*int, error)
	DeleteSession(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) error
	// ListTurns returns matching turns newest first, at most filter.ClampLimit()
	ListTurns(ctx context.Context, projectID types.ProjectID, filter chat.TurnFilter) ([]*chat.Turn, error)
	// ListSessions returns sessions by most recent message first
	ListSessions(ctx context.Context, projectID types.ProjectID, agentID *types.AgentID, limit int) ([]*chat.SessionSummary, error)
}

// ProjectRepository stores tenants and their project keys
type ProjectRepository interface {
	CreateProject(ctx context.Context, p *auth.Project) error
	GetProject(ctx context.Context, id types.ProjectID) (*auth.Project, error)
	CreateAPIKey(ctx context.Context, key *auth.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKey, error)
	TouchAPIKey(ctx context.Context, id types.APIKeyID, at time.Time) error
}

// Repository is implemented by every storage backend
type Repository interface {
	AgentRepository
	ProfileRepository
	TurnRepository
	ProjectRepository
	Close() error
}
