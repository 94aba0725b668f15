package chat

import (
	"context"
	"time"

	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one stored message of a session. Turns are append only.
type Turn struct {
	ID             types.TurnID    `json:"id"`
	ProjectID      types.ProjectID `json:"project_id"`
	SessionID      types.SessionID `json:"session_id"`
	AgentID        types.AgentID   `json:"agent_id"`
	AgentVersionID types.VersionID `json:"agent_version_id"`
	VersionNumber  int             `json:"version_number"`
	ModelName      string          `json:"model_name"`
	APIKeyID       *types.APIKeyID `json:"api_key_id,omitempty"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	Usage          Usage           `json:"usage"`
	// Seq is assigned by the store on append and orders turns within a session
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Origin describes which version produced a turn and who sent it
type Origin struct {
	ProjectID      types.ProjectID
	SessionID      types.SessionID
	AgentID        types.AgentID
	AgentVersionID types.VersionID
	VersionNumber  int
	ModelName      string
	APIKeyID       *types.APIKeyID
}

// NewTurn creates a turn that is ready to append. Seq and CreatedAt are set by
// the store.
func NewTurn(ctx context.Context, origin Origin, role Role, content string, usage Usage) *Turn {
	return &Turn{
		ID:             types.NewTurnID(ctx),
		ProjectID:      origin.ProjectID,
		SessionID:      origin.SessionID,
		AgentID:        origin.AgentID,
		AgentVersionID: origin.AgentVersionID,
		VersionNumber:  origin.VersionNumber,
		ModelName:      origin.ModelName,
		APIKeyID:       origin.APIKeyID,
		Role:           role,
		Content:        content,
		Usage:          usage,
	}
}

// Message converts the turn into model input
func (x *Turn) Message() Message {
	return Message{Role: x.Role, Content: x.Content}
}

// Copy returns a deep copy of the turn
func (x *Turn) Copy() *Turn {
	c := *x
	c.Usage = x.Usage.Copy()
	if x.APIKeyID != nil {
		id := *x.APIKeyID
		c.APIKeyID = &id
	}
	return &c
}

// TokenField selects one of the usage columns for aggregation
type TokenField string

const (
	FieldTokensUsed       TokenField = "tokens_used"
	FieldPromptTokens     TokenField = "prompt_tokens"
	FieldCompletionTokens TokenField = "completion_tokens"
)

// Of returns the value of field in u
func (f TokenField) Of(u Usage) *int {
	switch f {
	case FieldTokensUsed:
		return u.TotalTokens
	case FieldPromptTokens:
		return u.PromptTokens
	case FieldCompletionTokens:
		return u.CompletionTokens
	}
	return nil
}

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// TurnFilter selects turns across sessions of a project
type TurnFilter struct {
	AgentID       *types.AgentID
	VersionNumber *int
	APIKeyID      *types.APIKeyID
	SessionID     *types.SessionID
	Limit         int
}

// ClampLimit returns Limit within 1..MaxHistoryLimit. Zero means unset and
// yields DefaultHistoryLimit.
func (x TurnFilter) ClampLimit() int {
	switch {
	case x.Limit == 0:
		return DefaultHistoryLimit
	case x.Limit < 0:
		return 1
	case x.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return x.Limit
}

// Match reports whether t passes the filter. Storage backends that cannot
// express a filter natively fall back to this.
func (x TurnFilter) Match(t *Turn) bool {
	if x.AgentID != nil && t.AgentID != *x.AgentID {
		return false
	}
	if x.VersionNumber != nil && t.VersionNumber != *x.VersionNumber {
		return false
	}
	if x.APIKeyID != nil && (t.APIKeyID == nil || *t.APIKeyID != *x.APIKeyID) {
		return false
	}
	if x.SessionID != nil && t.SessionID != *x.SessionID {
		return false
	}
	return true
}

// SessionSummary describes one session derived from its turns
type SessionSummary struct {
	SessionID      types.SessionID `json:"session_id"`
	AgentID        types.AgentID   `json:"agent_id"`
	AgentVersionID types.VersionID `json:"agent_version_id"`
	VersionNumber  int             `json:"version_number"`
	TurnCount      int             `json:"turn_count"`
	LastMessageAt  time.Time       `json:"last_message_at"`
}
