package agent

import (
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/prompt"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

// Credential is the resolved model credential of a version. It is copied
// from a profile at creation time and never follows later profile edits.
type Credential struct {
	EncryptedAPIKey string `json:"-" masq:"secret"`
	BaseURL         string `json:"base_url,omitempty"`
}

// AgentVersion is an immutable snapshot of an agent configuration. Only
// IsActive changes after creation.
type AgentVersion struct {
	ID             types.VersionID  `json:"id"`
	AgentID        types.AgentID    `json:"agent_id"`
	ProjectID      types.ProjectID  `json:"project_id"`
	VersionNumber  int              `json:"version_number"`
	SystemPrompt   string           `json:"system_prompt"`
	ModelName      string           `json:"model_name"`
	Credential     Credential       `json:"credential"`
	ModelProfileID *types.ProfileID `json:"model_profile_id,omitempty"`
	Params         SamplingParams   `json:"params"`
	Notes          string           `json:"notes,omitempty"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewVersion creates an inactive version. VersionNumber is left zero and
// assigned by the repository together with the insert.
func NewVersion(ctx context.Context, a *Agent, systemPrompt, modelName string, cred Credential, params SamplingParams) *AgentVersion {
	return &AgentVersion{
		ID:           types.NewVersionID(ctx),
		AgentID:      a.ID,
		ProjectID:    a.ProjectID,
		SystemPrompt: systemPrompt,
		ModelName:    modelName,
		Credential:   cred,
		Params:       params,
		CreatedAt:    time.Now(),
	}
}

// Variables returns the template variables used by the system prompt
func (x *AgentVersion) Variables() []string {
	return prompt.ExtractVariables(x.SystemPrompt)
}

// Validate checks a version before it is stored
func (x *AgentVersion) Validate() error {
	if !x.ID.IsValid() {
		return goerr.New("invalid version ID", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.VersionIDKey, x.ID))
	}
	if !x.AgentID.IsValid() {
		return goerr.New("invalid agent ID", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.AgentIDKey, x.AgentID))
	}
	if x.ModelName == "" {
		return goerr.New("model_name is required", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.FieldKey, "model_name"))
	}
	if x.Credential.EncryptedAPIKey == "" {
		return goerr.New("credential is required", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.FieldKey, "credential"))
	}
	return x.Params.Validate()
}

// Copy returns a deep copy of the version
func (x *AgentVersion) Copy() *AgentVersion {
	c := *x
	c.Params.StopSequences = slices.Clone(x.Params.StopSequences)
	if x.ModelProfileID != nil {
		id := *x.ModelProfileID
		c.ModelProfileID = &id
	}
	return &c
}
