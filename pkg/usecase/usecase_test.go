package usecase_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/repository/database/memory"
	"github.com/m-mizutani/kitsune/pkg/service/crypto"
	"github.com/m-mizutani/kitsune/pkg/usecase"
)

const testAPIKey = "sk-test-inline-key"

// fakeModel answers with a fixed reply and records every request
type fakeModel struct {
	mu       sync.Mutex
	requests []*chat.CompletionRequest

	deltas []string
	usage  chat.Usage
	err    error
}

func (m *fakeModel) record(req *chat.CompletionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func (m *fakeModel) last() *chat.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

func (m *fakeModel) Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.Completion, error) {
	m.record(req)
	if m.err != nil {
		return nil, m.err
	}
	return &chat.Completion{Text: strings.Join(m.deltas, ""), Usage: m.usage}, nil
}

func (m *fakeModel) Stream(ctx context.Context, req *chat.CompletionRequest, onDelta func(delta string) error) (*chat.Completion, error) {
	m.record(req)
	var text strings.Builder
	for _, d := range m.deltas {
		text.WriteString(d)
		if err := onDelta(d); err != nil {
			return &chat.Completion{Text: text.String()}, goerr.Wrap(err, "stream consumer stopped")
		}
	}
	if m.err != nil {
		return &chat.Completion{Text: text.String()}, m.err
	}
	return &chat.Completion{Text: text.String(), Usage: m.usage}, nil
}

var _ interfaces.ChatModel = (*fakeModel)(nil)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

func usage(prompt, completion int) chat.Usage {
	return chat.Usage{PromptTokens: intPtr(prompt), CompletionTokens: intPtr(completion)}
}

type fixture struct {
	repo      *memory.Client
	codec     *crypto.Codec
	model     *fakeModel
	uc        *usecase.UseCases
	projectID types.ProjectID
	principal *auth.Principal
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := memory.New()
	codec, err := crypto.New("usecase-test-secret")
	gt.NoError(t, err)

	project := &auth.Project{ID: types.NewProjectID(ctx), Name: "acme", CreatedAt: time.Now()}
	gt.NoError(t, repo.CreateProject(ctx, project))

	model := &fakeModel{deltas: []string{"Hello", " there"}, usage: usage(12, 3)}
	uc := usecase.New(repo,
		usecase.WithSecretCodec(codec),
		usecase.WithChatModel(model),
	)

	return &fixture{
		repo:      repo,
		codec:     codec,
		model:     model,
		uc:        uc,
		projectID: project.ID,
		principal: &auth.Principal{ProjectID: project.ID, Method: auth.MethodSessionToken},
	}
}

// agentWithVersion creates an agent and one version, activated when active is set
func (f *fixture) agentWithVersion(t *testing.T, name, systemPrompt string, active bool) (*agent.Agent, *agent.AgentVersion) {
	t.Helper()
	ctx := context.Background()
	registry := f.uc.Registry()

	a, err := registry.CreateAgent(ctx, f.projectID, &interfaces.CreateAgentRequest{Name: name})
	gt.NoError(t, err)

	v, err := registry.CreateVersion(ctx, f.projectID, a.ID, &interfaces.CreateVersionRequest{
		SystemPrompt: systemPrompt,
		ModelName:    "gpt-4o-mini",
		APIKey:       testAPIKey,
		BaseURL:      "https://llm.example.com/v1",
	})
	gt.NoError(t, err)

	if active {
		v, err = registry.ActivateVersion(ctx, f.projectID, a.ID, v.ID)
		gt.NoError(t, err)
	}
	return a, v
}

func hasTag[T interface{ String() string }](t *testing.T, err error, tag T) {
	t.Helper()
	gt.Error(t, err)
	gt.True(t, slices.Contains(goerr.Tags(err), tag.String()))
}
