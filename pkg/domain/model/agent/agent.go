package agent

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

const maxNameLength = 255

type Agent struct {
	ID          types.AgentID   `json:"id"`
	ProjectID   types.ProjectID `json:"project_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	// LastVersionNumber is the allocation counter for version numbers. It only
	// grows, so numbers of deleted versions are never handed out again.
	LastVersionNumber int       `json:"last_version_number"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// New creates an agent with a fresh ID and no versions allocated
func New(ctx context.Context, projectID types.ProjectID, name, description string) *Agent {
	now := time.Now()
	return &Agent{
		ID:          types.NewAgentID(ctx),
		ProjectID:   projectID,
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NameKey is the case-insensitive lookup key of an agent or profile name
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Validate checks the agent fields
func (x *Agent) Validate() error {
	if !x.ID.IsValid() {
		return goerr.New("invalid agent ID", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.AgentIDKey, x.ID))
	}
	if !x.ProjectID.IsValid() {
		return goerr.New("invalid project ID", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.ProjectIDKey, x.ProjectID))
	}
	return ValidateName(x.Name)
}

// ValidateName checks an agent or profile name
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return goerr.New("name is required", goerr.T(apperr.ErrTagValidation))
	}
	if len(trimmed) > maxNameLength {
		return goerr.New("name is too long", goerr.T(apperr.ErrTagValidation),
			goerr.TV(apperr.AgentNameKey, trimmed), goerr.V("max", maxNameLength))
	}
	return nil
}
