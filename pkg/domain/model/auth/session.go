package auth

import (
	"time"

	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

// Method is how a principal authenticated
type Method string

const (
	MethodSessionToken Method = "session_token"
	MethodProjectKey   Method = "project_key"
)

// Principal is the authenticated caller of a request. All data access is
// scoped to ProjectID.
type Principal struct {
	ProjectID types.ProjectID `json:"project_id"`
	// APIKeyID is set only when a project key was used
	APIKeyID *types.APIKeyID `json:"api_key_id,omitempty"`
	Method   Method          `json:"method"`
}

// Project is a tenant
type Project struct {
	ID        types.ProjectID `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
}

// SessionClaims is the payload of a signed session token
type SessionClaims struct {
	ProjectID types.ProjectID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired checks if the claims have expired at now
func (x *SessionClaims) IsExpired(now time.Time) bool {
	return !now.Before(x.ExpiresAt)
}
