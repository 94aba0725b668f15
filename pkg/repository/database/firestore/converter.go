package firestore

import (
	"slices"
	"time"

	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

type projectDoc struct {
	ID        string    `firestore:"id"`
	Name      string    `firestore:"name"`
	CreatedAt time.Time `firestore:"created_at"`
}

type apiKeyDoc struct {
	ID         string     `firestore:"id"`
	ProjectID  string     `firestore:"project_id"`
	Name       string     `firestore:"name"`
	KeyHash    string     `firestore:"key_hash"`
	Masked     string     `firestore:"masked"`
	CreatedAt  time.Time  `firestore:"created_at"`
	LastUsedAt *time.Time `firestore:"last_used_at"`
}

type agentDoc struct {
	ID                string    `firestore:"id"`
	ProjectID         string    `firestore:"project_id"`
	Name              string    `firestore:"name"`
	NameKey           string    `firestore:"name_key"`
	Description       string    `firestore:"description"`
	LastVersionNumber int       `firestore:"last_version_number"`
	CreatedAt         time.Time `firestore:"created_at"`
	UpdatedAt         time.Time `firestore:"updated_at"`
}

type versionDoc struct {
	ID               string    `firestore:"id"`
	AgentID          string    `firestore:"agent_id"`
	ProjectID        string    `firestore:"project_id"`
	VersionNumber    int       `firestore:"version_number"`
	SystemPrompt     string    `firestore:"system_prompt"`
	ModelName        string    `firestore:"model_name"`
	EncryptedAPIKey  string    `firestore:"encrypted_api_key"`
	BaseURL          string    `firestore:"base_url"`
	ModelProfileID   *string   `firestore:"model_profile_id"`
	Temperature      float64   `firestore:"temperature"`
	MaxTokens        int       `firestore:"max_tokens"`
	TopP             float64   `firestore:"top_p"`
	FrequencyPenalty float64   `firestore:"frequency_penalty"`
	PresencePenalty  float64   `firestore:"presence_penalty"`
	StopSequences    []string  `firestore:"stop_sequences"`
	Notes            string    `firestore:"notes"`
	IsActive         bool      `firestore:"is_active"`
	CreatedAt        time.Time `firestore:"created_at"`
}

type profileDoc struct {
	ID              string    `firestore:"id"`
	ProjectID       string    `firestore:"project_id"`
	Name            string    `firestore:"name"`
	NameKey         string    `firestore:"name_key"`
	EncryptedAPIKey string    `firestore:"encrypted_api_key"`
	BaseURL         string    `firestore:"base_url"`
	CreatedAt       time.Time `firestore:"created_at"`
	UpdatedAt       time.Time `firestore:"updated_at"`
}

func addAgentID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

// sessionDoc holds the sequence counter and the summary of a session
type sessionDoc struct {
	ProjectID      string    `firestore:"project_id"`
	SessionID      string    `firestore:"session_id"`
	AgentID        string    `firestore:"agent_id"`
	AgentIDs       []string  `firestore:"agent_ids"`
	AgentVersionID string    `firestore:"agent_version_id"`
	VersionNumber  int       `firestore:"version_number"`
	LastSeq        int64     `firestore:"last_seq"`
	TurnCount      int       `firestore:"turn_count"`
	LastMessageAt  time.Time `firestore:"last_message_at"`
}

type turnDoc struct {
	ID               string    `firestore:"id"`
	ProjectID        string    `firestore:"project_id"`
	SessionID        string    `firestore:"session_id"`
	AgentID          string    `firestore:"agent_id"`
	AgentVersionID   string    `firestore:"agent_version_id"`
	VersionNumber    int       `firestore:"version_number"`
	ModelName        string    `firestore:"model_name"`
	APIKeyID         *string   `firestore:"api_key_id"`
	Role             string    `firestore:"role"`
	Content          string    `firestore:"content"`
	TokensUsed       *int      `firestore:"tokens_used"`
	PromptTokens     *int      `firestore:"prompt_tokens"`
	CompletionTokens *int      `firestore:"completion_tokens"`
	Seq              int64     `firestore:"seq"`
	CreatedAt        time.Time `firestore:"created_at"`
}

func agentToDoc(a *agent.Agent) *agentDoc {
	return &agentDoc{
		ID:                a.ID.String(),
		ProjectID:         a.ProjectID.String(),
		Name:              a.Name,
		NameKey:           agent.NameKey(a.Name),
		Description:       a.Description,
		LastVersionNumber: a.LastVersionNumber,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func docToAgent(doc *agentDoc) *agent.Agent {
	return &agent.Agent{
		ID:                types.AgentID(doc.ID),
		ProjectID:         types.ProjectID(doc.ProjectID),
		Name:              doc.Name,
		Description:       doc.Description,
		LastVersionNumber: doc.LastVersionNumber,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}

func versionToDoc(v *agent.AgentVersion) *versionDoc {
	doc := &versionDoc{
		ID:               v.ID.String(),
		AgentID:          v.AgentID.String(),
		ProjectID:        v.ProjectID.String(),
		VersionNumber:    v.VersionNumber,
		SystemPrompt:     v.SystemPrompt,
		ModelName:        v.ModelName,
		EncryptedAPIKey:  v.Credential.EncryptedAPIKey,
		BaseURL:          v.Credential.BaseURL,
		Temperature:      v.Params.Temperature,
		MaxTokens:        v.Params.MaxTokens,
		TopP:             v.Params.TopP,
		FrequencyPenalty: v.Params.FrequencyPenalty,
		PresencePenalty:  v.Params.PresencePenalty,
		StopSequences:    v.Params.StopSequences,
		Notes:            v.Notes,
		IsActive:         v.IsActive,
		CreatedAt:        v.CreatedAt,
	}
	if v.ModelProfileID != nil {
		id := v.ModelProfileID.String()
		doc.ModelProfileID = &id
	}
	return doc
}

func docToVersion(doc *versionDoc) *agent.AgentVersion {
	v := &agent.AgentVersion{
		ID:            types.VersionID(doc.ID),
		AgentID:       types.AgentID(doc.AgentID),
		ProjectID:     types.ProjectID(doc.ProjectID),
		VersionNumber: doc.VersionNumber,
		SystemPrompt:  doc.SystemPrompt,
		ModelName:     doc.ModelName,
		Credential: agent.Credential{
			EncryptedAPIKey: doc.EncryptedAPIKey,
			BaseURL:         doc.BaseURL,
		},
		Params: agent.SamplingParams{
			Temperature:      doc.Temperature,
			MaxTokens:        doc.MaxTokens,
			TopP:             doc.TopP,
			FrequencyPenalty: doc.FrequencyPenalty,
			PresencePenalty:  doc.PresencePenalty,
			StopSequences:    doc.StopSequences,
		},
		Notes:     doc.Notes,
		IsActive:  doc.IsActive,
		CreatedAt: doc.CreatedAt,
	}
	if doc.ModelProfileID != nil {
		id := types.ProfileID(*doc.ModelProfileID)
		v.ModelProfileID = &id
	}
	return v
}

func profileToDoc(p *agent.ModelProfile) *profileDoc {
	return &profileDoc{
		ID:              p.ID.String(),
		ProjectID:       p.ProjectID.String(),
		Name:            p.Name,
		NameKey:         agent.NameKey(p.Name),
		EncryptedAPIKey: p.EncryptedAPIKey,
		BaseURL:         p.BaseURL,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func docToProfile(doc *profileDoc) *agent.ModelProfile {
	return &agent.ModelProfile{
		ID:              types.ProfileID(doc.ID),
		ProjectID:       types.ProjectID(doc.ProjectID),
		Name:            doc.Name,
		EncryptedAPIKey: doc.EncryptedAPIKey,
		BaseURL:         doc.BaseURL,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

func turnToDoc(t *chat.Turn) *turnDoc {
	doc := &turnDoc{
		ID:               t.ID.String(),
		ProjectID:        t.ProjectID.String(),
		SessionID:        t.SessionID.String(),
		AgentID:          t.AgentID.String(),
		AgentVersionID:   t.AgentVersionID.String(),
		VersionNumber:    t.VersionNumber,
		ModelName:        t.ModelName,
		Role:             string(t.Role),
		Content:          t.Content,
		TokensUsed:       t.Usage.TotalTokens,
		PromptTokens:     t.Usage.PromptTokens,
		CompletionTokens: t.Usage.CompletionTokens,
		Seq:              t.Seq,
		CreatedAt:        t.CreatedAt,
	}
	if t.APIKeyID != nil {
		id := t.APIKeyID.String()
		doc.APIKeyID = &id
	}
	return doc
}

func docToTurn(doc *turnDoc) *chat.Turn {
	t := &chat.Turn{
		ID:             types.TurnID(doc.ID),
		ProjectID:      types.ProjectID(doc.ProjectID),
		SessionID:      types.SessionID(doc.SessionID),
		AgentID:        types.AgentID(doc.AgentID),
		AgentVersionID: types.VersionID(doc.AgentVersionID),
		VersionNumber:  doc.VersionNumber,
		ModelName:      doc.ModelName,
		Role:           chat.Role(doc.Role),
		Content:        doc.Content,
		Usage: chat.Usage{
			TotalTokens:      doc.TokensUsed,
			PromptTokens:     doc.PromptTokens,
			CompletionTokens: doc.CompletionTokens,
		},
		Seq:       doc.Seq,
		CreatedAt: doc.CreatedAt,
	}
	if doc.APIKeyID != nil {
		id := types.APIKeyID(*doc.APIKeyID)
		t.APIKeyID = &id
	}
	return t
}

func docToSession(doc *sessionDoc) *chat.SessionSummary {
	return &chat.SessionSummary{
		SessionID:      types.SessionID(doc.SessionID),
		AgentID:        types.AgentID(doc.AgentID),
		AgentVersionID: types.VersionID(doc.AgentVersionID),
		VersionNumber:  doc.VersionNumber,
		TurnCount:      doc.TurnCount,
		LastMessageAt:  doc.LastMessageAt,
	}
}

func apiKeyToDoc(k *auth.APIKey) *apiKeyDoc {
	return &apiKeyDoc{
		ID:         k.ID.String(),
		ProjectID:  k.ProjectID.String(),
		Name:       k.Name,
		KeyHash:    k.KeyHash,
		Masked:     k.Masked,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
}

func docToAPIKey(doc *apiKeyDoc) *auth.APIKey {
	return &auth.APIKey{
		ID:         types.APIKeyID(doc.ID),
		ProjectID:  types.ProjectID(doc.ProjectID),
		Name:       doc.Name,
		KeyHash:    doc.KeyHash,
		Masked:     doc.Masked,
		CreatedAt:  doc.CreatedAt,
		LastUsedAt: doc.LastUsedAt,
	}
}
