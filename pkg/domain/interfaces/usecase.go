package interfaces

import (
	"context"

	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

type CreateAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateAgentRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CreateVersionRequest configures a new version. Exactly one credential source
// is used: ModelProfileID when set, otherwise the inline APIKey. Nil sampling
// parameters fall back to the defaults.
type CreateVersionRequest struct {
	SystemPrompt     string           `json:"system_prompt"`
	ModelName        string           `json:"model_name"`
	APIKey           string           `json:"api_key,omitempty" masq:"secret"`
	BaseURL          string           `json:"base_url,omitempty"`
	ModelProfileID   *types.ProfileID `json:"model_profile_id,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	StopSequences    []string         `json:"stop_sequences,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

type CreateProfileRequest struct {
	Name    string `json:"name"`
	APIKey  string `json:"api_key" masq:"secret"`
	BaseURL string `json:"base_url,omitempty"`
}

// UpdateProfileRequest changes a profile. Versions created from it keep their
// credential snapshot.
type UpdateProfileRequest struct {
	Name    *string `json:"name,omitempty"`
	APIKey  *string `json:"api_key,omitempty" masq:"secret"`
	BaseURL *string `json:"base_url,omitempty"`
}

// AgentDetail is an agent with its versions, newest first
type AgentDetail struct {
	Agent    *agent.Agent          `json:"agent"`
	Versions []*agent.AgentVersion `json:"versions"`
	Active   *agent.AgentVersion   `json:"active_version,omitempty"`
}

type VersionComparison struct {
	A           *agent.AgentVersion `json:"version_1"`
	B           *agent.AgentVersion `json:"version_2"`
	Differences []agent.FieldDiff   `json:"differences"`
}

// RegistryUseCases manages agents, their versions and model profiles
type RegistryUseCases interface {
	CreateAgent(ctx context.Context, projectID types.ProjectID, req *CreateAgentRequest) (*agent.Agent, error)
	GetAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) (*AgentDetail, error)
	ListAgents(ctx context.Context, projectID types.ProjectID) ([]*AgentDetail, error)
	UpdateAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID, req *UpdateAgentRequest) (*agent.Agent, error)
	DeleteAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) error

	CreateVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, req *CreateVersionRequest) (*agent.AgentVersion, error)
	GetVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error)
	ListVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) ([]*agent.AgentVersion, error)
	ActivateVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error)
	DeleteVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) error
	CompareVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, a, b int) (*VersionComparison, error)
	ResolveActive(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) (*agent.AgentVersion, error)
	ResolveByNumber(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, number int) (*agent.AgentVersion, error)

	CreateProfile(ctx context.Context, projectID types.ProjectID, req *CreateProfileRequest) (*agent.ModelProfile, error)
	GetProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error)
	ListProfiles(ctx context.Context, projectID types.ProjectID) ([]*agent.ModelProfile, error)
	UpdateProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID, req *UpdateProfileRequest) (*agent.ModelProfile, error)
	DeleteProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) error
	// MaskAPIKey returns the display form of the key stored in a profile
	MaskAPIKey(ctx context.Context, p *agent.ModelProfile) (string, error)
}

// ChatRequest is one inbound turn. An empty SessionID starts a new session.
type ChatRequest struct {
	AgentName string            `json:"agent_name"`
	Version   *int              `json:"version,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Message   string            `json:"message"`
	Variables map[string]string `json:"variables,omitempty"`
}

type ChatResponse struct {
	Response  string          `json:"response"`
	SessionID types.SessionID `json:"session_id"`
	AgentName string          `json:"agent_name"`
	Version   int             `json:"version"`
	ModelName string          `json:"model_name"`
	chat.Usage
	chat.Totals
}

// HistoryTurn is a stored turn enriched for listing
type HistoryTurn struct {
	*chat.Turn
	AgentName string `json:"agent_name,omitempty"`
}

// ChatUseCases runs conversations against agent versions
type ChatUseCases interface {
	SendMessage(ctx context.Context, principal *auth.Principal, req *ChatRequest) (*ChatResponse, error)
	// StreamMessage emits start, token and a terminal event through handler.
	// Failures before the start event are returned without emitting anything.
	StreamMessage(ctx context.Context, principal *auth.Principal, req *ChatRequest, handler chat.EventHandler) error

	GetSessionHistory(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) ([]*chat.Turn, error)
	ListHistory(ctx context.Context, projectID types.ProjectID, filter chat.TurnFilter) ([]*HistoryTurn, error)
	ListSessions(ctx context.Context, projectID types.ProjectID, agentID *types.AgentID, limit int) ([]*chat.SessionSummary, error)
	DeleteSession(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) error
}

// ProjectUseCases provisions tenants and credentials
type ProjectUseCases interface {
	// CreateProject creates a project with one project key and returns the raw key
	CreateProject(ctx context.Context, name string) (*auth.Project, *auth.APIKey, string, error)
	CreateAPIKey(ctx context.Context, projectID types.ProjectID, name string) (*auth.APIKey, string, error)
	IssueSessionToken(ctx context.Context, projectID types.ProjectID) (string, error)
}
