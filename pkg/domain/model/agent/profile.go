package agent

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

// ModelProfile is a reusable credential bundle owned by a project
type ModelProfile struct {
	ID              types.ProfileID `json:"id"`
	ProjectID       types.ProjectID `json:"project_id"`
	Name            string          `json:"name"`
	EncryptedAPIKey string          `json:"-" masq:"secret"`
	BaseURL         string          `json:"base_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func NewModelProfile(ctx context.Context, projectID types.ProjectID, name, encryptedAPIKey, baseURL string) *ModelProfile {
	now := time.Now()
	return &ModelProfile{
		ID:              types.NewProfileID(ctx),
		ProjectID:       projectID,
		Name:            strings.TrimSpace(name),
		EncryptedAPIKey: encryptedAPIKey,
		BaseURL:         baseURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Credential returns a snapshot of the profile credential for a new version
func (x *ModelProfile) Credential() Credential {
	return Credential{
		EncryptedAPIKey: x.EncryptedAPIKey,
		BaseURL:         x.BaseURL,
	}
}
