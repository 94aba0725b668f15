package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

// ProjectKeyPrefix starts every project key and tells it apart from a session token
const ProjectKeyPrefix = "pm_"

// APIKey is a long lived project key. Only the hash of the raw key is stored.
type APIKey struct {
	ID         types.APIKeyID  `json:"id"`
	ProjectID  types.ProjectID `json:"project_id"`
	Name       string          `json:"name"`
	KeyHash    string          `json:"-"`
	Masked     string          `json:"masked_key"`
	CreatedAt  time.Time       `json:"created_at"`
	LastUsedAt *time.Time      `json:"last_used_at,omitempty"`
}

// GenerateProjectKey returns a fresh raw project key
func GenerateProjectKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", goerr.Wrap(err, "failed to read random bytes")
	}
	return ProjectKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// IsProjectKey reports whether credential looks like a project key
func IsProjectKey(credential string) bool {
	return strings.HasPrefix(credential, ProjectKeyPrefix)
}

// HashProjectKey returns the lookup hash of a raw project key
func HashProjectKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey builds the stored form of raw. masked is the display form.
func NewAPIKey(ctx context.Context, projectID types.ProjectID, name, raw, masked string) *APIKey {
	return &APIKey{
		ID:        types.NewAPIKeyID(ctx),
		ProjectID: projectID,
		Name:      name,
		KeyHash:   HashProjectKey(raw),
		Masked:    masked,
		CreatedAt: time.Now(),
	}
}
