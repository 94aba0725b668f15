package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	server "github.com/m-mizutani/kitsune/pkg/controller/http"
	"github.com/m-mizutani/kitsune/pkg/controller/http/middleware"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/repository/database/memory"
	authsvc "github.com/m-mizutani/kitsune/pkg/service/auth"
	"github.com/m-mizutani/kitsune/pkg/service/crypto"
	"github.com/m-mizutani/kitsune/pkg/usecase"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeModel struct {
	deltas []string
	usage  chat.Usage
	err    error
}

func (m *fakeModel) Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.Completion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &chat.Completion{Text: strings.Join(m.deltas, ""), Usage: m.usage}, nil
}

func (m *fakeModel) Stream(ctx context.Context, req *chat.CompletionRequest, onDelta func(delta string) error) (*chat.Completion, error) {
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

type testEnv struct {
	srv   *server.Server
	model *fakeModel
	token string
}

func newTestEnv(t *testing.T, opts ...server.Options) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := memory.New()
	codec, err := crypto.New("http-test-encryption-key")
	gt.NoError(t, err)
	authService, err := authsvc.New(repo, "http-test-jwt-secret")
	gt.NoError(t, err)

	model := &fakeModel{
		deltas: []string{"Hello", " there"},
		usage:  chat.Usage{PromptTokens: intPtr(12), CompletionTokens: intPtr(3)},
	}
	uc := usecase.New(repo,
		usecase.WithSecretCodec(codec),
		usecase.WithChatModel(model),
		usecase.WithTokenIssuer(authService),
	)

	project, _, _, err := uc.Project().CreateProject(ctx, "acme")
	gt.NoError(t, err)
	token, err := uc.Project().IssueSessionToken(ctx, project.ID)
	gt.NoError(t, err)

	base := []server.Options{
		server.WithRegistry(uc.Registry()),
		server.WithChat(uc.Chat()),
		server.WithAuthenticator(authService),
	}
	return &testEnv{
		srv:   server.New(append(base, opts...)...),
		model: model,
		token: token,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		gt.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type idResponse struct {
	ID string `json:"id"`
}

// activeAgent creates an agent with one active version through the API
func (e *testEnv) activeAgent(t *testing.T, name, systemPrompt string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/agents", map[string]any{"name": name})
	gt.V(t, rec.Code).Equal(http.StatusCreated)
	agentID := decode[idResponse](t, rec).ID

	rec = e.do(t, http.MethodPost, "/api/agents/"+agentID+"/versions", map[string]any{
		"system_prompt": systemPrompt,
		"model_name":    "gpt-4o-mini",
		"api_key":       "sk-inline-test-key",
	})
	gt.V(t, rec.Code).Equal(http.StatusCreated)
	versionID := decode[idResponse](t, rec).ID

	rec = e.do(t, http.MethodPost, "/api/agents/"+agentID+"/versions/"+versionID+"/activate", nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	return agentID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	gt.V(t, rec.Code).Equal(http.StatusOK)
	gt.V(t, rec.Body.String()).Equal("OK")
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
		rec := httptest.NewRecorder()
		env.srv.ServeHTTP(rec, req)

		gt.V(t, rec.Code).Equal(http.StatusUnauthorized)
		body := decode[errorResponse](t, rec)
		gt.V(t, body.Error.Code).Equal("unauthorized")
		gt.V(t, body.Error.Message).NotEqual("")
	})

	t.Run("forged token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
		req.Header.Set("Authorization", "Bearer not-a-real-token")
		rec := httptest.NewRecorder()
		env.srv.ServeHTTP(rec, req)

		gt.V(t, rec.Code).Equal(http.StatusUnauthorized)
	})
}

type versionBody struct {
	ID               string   `json:"id"`
	VersionNumber    int      `json:"version_number"`
	IsActive         bool     `json:"is_active"`
	Variables        []string `json:"variables"`
	ModelProfileName string   `json:"model_profile_name"`
	ModelProfileID   *string  `json:"model_profile_id"`
	Params           struct {
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	} `json:"params"`
}

type agentBody struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Versions      []*versionBody `json:"versions"`
	ActiveVersion *versionBody   `json:"active_version"`
}

func TestAgentVersionFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/agents", map[string]any{"name": "support", "description": "helpdesk"})
	gt.V(t, rec.Code).Equal(http.StatusCreated)
	created := decode[agentBody](t, rec)
	gt.V(t, created.Name).Equal("support")
	gt.A(t, created.Versions).Length(0)

	rec = env.do(t, http.MethodPost, "/api/agents", map[string]any{"name": "support"})
	gt.V(t, rec.Code).Equal(http.StatusBadRequest)
	gt.V(t, decode[errorResponse](t, rec).Error.Code).Equal("validation_error")

	path := "/api/agents/" + created.ID + "/versions"
	rec = env.do(t, http.MethodPost, path, map[string]any{
		"system_prompt": "You help $customer with $product.",
		"model_name":    "gpt-4o-mini",
		"api_key":       "sk-inline-test-key",
	})
	gt.V(t, rec.Code).Equal(http.StatusCreated)
	v1 := decode[versionBody](t, rec)
	gt.V(t, v1.VersionNumber).Equal(1)
	gt.V(t, v1.IsActive).Equal(false)
	gt.A(t, v1.Variables).Length(2)
	gt.V(t, v1.Variables[0]).Equal("customer")
	gt.V(t, v1.Variables[1]).Equal("product")
	gt.V(t, v1.Params.Temperature).Equal(0.7)
	gt.S(t, rec.Body.String()).NotContains("sk-inline-test-key")

	rec = env.do(t, http.MethodPost, path, map[string]any{
		"system_prompt": "Be brief.",
		"model_name":    "gpt-4o",
		"api_key":       "sk-inline-test-key",
		"temperature":   0.2,
	})
	gt.V(t, rec.Code).Equal(http.StatusCreated)
	v2 := decode[versionBody](t, rec)
	gt.V(t, v2.VersionNumber).Equal(2)
	gt.A(t, v2.Variables).Length(0)

	rec = env.do(t, http.MethodGet, "/api/agents/"+created.ID, nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	detail := decode[agentBody](t, rec)
	gt.A(t, detail.Versions).Length(2)
	gt.V(t, detail.Versions[0].VersionNumber).Equal(2)
	gt.V(t, detail.ActiveVersion).Nil()

	rec = env.do(t, http.MethodPost, path+"/"+v2.ID+"/activate", nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	gt.V(t, decode[versionBody](t, rec).IsActive).Equal(true)

	rec = env.do(t, http.MethodGet, "/api/agents/"+created.ID, nil)
	detail = decode[agentBody](t, rec)
	gt.V(t, detail.ActiveVersion).NotNil()
	gt.V(t, detail.ActiveVersion.ID).Equal(v2.ID)

	t.Run("compare", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, path+"/compare?a=1&b=2", nil)
		gt.V(t, rec.Code).Equal(http.StatusOK)
		var body struct {
			A           versionBody `json:"version_1"`
			B           versionBody `json:"version_2"`
			Differences []struct {
				Field string `json:"field"`
			} `json:"differences"`
		}
		gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		gt.V(t, body.A.VersionNumber).Equal(1)
		gt.V(t, body.B.VersionNumber).Equal(2)

		fields := make([]string, 0, len(body.Differences))
		for _, d := range body.Differences {
			fields = append(fields, d.Field)
		}
		gt.True(t, slices.Contains(fields, "system_prompt"))
		gt.True(t, slices.Contains(fields, "model_name"))
		gt.True(t, slices.Contains(fields, "temperature"))

		rec = env.do(t, http.MethodGet, path+"/compare?a=1&b=9", nil)
		gt.V(t, rec.Code).Equal(http.StatusNotFound)

		rec = env.do(t, http.MethodGet, path+"/compare?a=1", nil)
		gt.V(t, rec.Code).Equal(http.StatusBadRequest)
	})

	t.Run("deleting the last remaining version conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, path+"/"+v1.ID, nil)
		gt.V(t, rec.Code).Equal(http.StatusNoContent)

		rec = env.do(t, http.MethodDelete, path+"/"+v2.ID, nil)
		gt.V(t, rec.Code).Equal(http.StatusConflict)
		gt.V(t, decode[errorResponse](t, rec).Error.Code).Equal("invalid_state")
	})

	t.Run("update agent", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/agents/"+created.ID, map[string]any{"name": "support-v2"})
		gt.V(t, rec.Code).Equal(http.StatusOK)
		gt.V(t, decode[agentBody](t, rec).Name).Equal("support-v2")
	})

	t.Run("delete agent", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/agents/"+created.ID, nil)
		gt.V(t, rec.Code).Equal(http.StatusNoContent)

		rec = env.do(t, http.MethodGet, "/api/agents/"+created.ID, nil)
		gt.V(t, rec.Code).Equal(http.StatusNotFound)
		gt.V(t, decode[errorResponse](t, rec).Error.Code).Equal("not_found")
	})
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/agents/not-a-uuid", nil)
	gt.V(t, rec.Code).Equal(http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/api/chat/history/not-a-session", nil)
	gt.V(t, rec.Code).Equal(http.StatusBadRequest)
	gt.V(t, decode[errorResponse](t, rec).Error.Message).Equal("invalid session_id format")

	rec = env.do(t, http.MethodGet, "/api/chat/history?limit=many", nil)
	gt.V(t, rec.Code).Equal(http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader("{broken"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	gt.V(t, rec.Code).Equal(http.StatusBadRequest)
	gt.S(t, decode[errorResponse](t, rec).Error.Message).Contains("invalid JSON request body")
}

func TestProfileFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/profiles", map[string]any{
		"name":     "openai-prod",
		"api_key":  "sk-profile-original",
		"base_url": "https://llm.example.com/v1",
	})
	gt.V(t, rec.Code).Equal(http.StatusCreated)
	var profile struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		MaskedAPIKey string `json:"masked_api_key"`
	}
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	gt.V(t, profile.MaskedAPIKey).Equal("sk-p....inal")
	gt.S(t, rec.Body.String()).NotContains("sk-profile-original")

	rec = env.do(t, http.MethodPost, "/api/agents", map[string]any{"name": "writer"})
	agentID := decode[idResponse](t, rec).ID

	rec = env.do(t, http.MethodPost, "/api/agents/"+agentID+"/versions", map[string]any{
		"system_prompt":    "Write.",
		"model_name":       "gpt-4o-mini",
		"model_profile_id": profile.ID,
	})
	gt.V(t, rec.Code).Equal(http.StatusCreated)
	v := decode[versionBody](t, rec)
	gt.V(t, v.ModelProfileName).Equal("openai-prod")

	rec = env.do(t, http.MethodGet, "/api/profiles", nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	gt.S(t, rec.Body.String()).Contains("openai-prod")

	rec = env.do(t, http.MethodPut, "/api/profiles/"+profile.ID, map[string]any{"api_key": "sk-rotated-secret"})
	gt.V(t, rec.Code).Equal(http.StatusOK)
	gt.S(t, rec.Body.String()).Contains("sk-r....cret")

	rec = env.do(t, http.MethodDelete, "/api/profiles/"+profile.ID, nil)
	gt.V(t, rec.Code).Equal(http.StatusNoContent)

	// versions keep their frozen credential after the profile is gone
	rec = env.do(t, http.MethodGet, "/api/agents/"+agentID+"/versions/"+v.ID, nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	kept := decode[versionBody](t, rec)
	gt.V(t, kept.ModelProfileID).Nil()
	gt.V(t, kept.ModelProfileName).Equal("")

	rec = env.do(t, http.MethodGet, "/api/profiles/"+profile.ID, nil)
	gt.V(t, rec.Code).Equal(http.StatusNotFound)
}

type chatBody struct {
	Response         string `json:"response"`
	SessionID        string `json:"session_id"`
	AgentName        string `json:"agent_name"`
	Version          int    `json:"version"`
	ModelName        string `json:"model_name"`
	TokensUsed       *int   `json:"tokens_used"`
	TotalTokens      *int   `json:"total_tokens"`
	CompletionTokens *int   `json:"completion_tokens"`
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)
	env.activeAgent(t, "support", "You help $customer.")

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{
		"agent_name": "support",
		"message":    "hi",
		"variables":  map[string]string{"customer": "Alice"},
	})
	gt.V(t, rec.Code).Equal(http.StatusOK)
	first := decode[chatBody](t, rec)
	gt.V(t, first.Response).Equal("Hello there")
	gt.V(t, first.AgentName).Equal("support")
	gt.V(t, first.Version).Equal(1)
	gt.V(t, first.ModelName).Equal("gpt-4o-mini")
	gt.V(t, *first.TokensUsed).Equal(15)
	gt.V(t, *first.TotalTokens).Equal(15)
	gt.V(t, first.SessionID).NotEqual("")

	rec = env.do(t, http.MethodPost, "/api/chat", map[string]any{
		"agent_name": "support",
		"message":    "again",
		"session_id": first.SessionID,
	})
	gt.V(t, rec.Code).Equal(http.StatusOK)
	second := decode[chatBody](t, rec)
	gt.V(t, second.SessionID).Equal(first.SessionID)
	gt.V(t, *second.TotalTokens).Equal(30)

	rec = env.do(t, http.MethodGet, "/api/chat/history/"+first.SessionID, nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	turns := decode[[]chat.Turn](t, rec)
	gt.A(t, turns).Length(4)
	gt.V(t, turns[0].Role).Equal(chat.RoleUser)
	gt.V(t, turns[0].Content).Equal("hi")
	gt.V(t, turns[3].Role).Equal(chat.RoleAssistant)

	rec = env.do(t, http.MethodGet, "/api/chat/history?session_id="+first.SessionID+"&limit=3", nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	var listed []struct {
		AgentName string `json:"agent_name"`
		Content   string `json:"content"`
	}
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	gt.A(t, listed).Length(3)
	gt.V(t, listed[0].AgentName).Equal("support")

	rec = env.do(t, http.MethodGet, "/api/chat/history?session_id="+first.SessionID+"&limit=0", nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	gt.A(t, decode[[]chat.Turn](t, rec)).Length(1)

	rec = env.do(t, http.MethodGet, "/api/chat/sessions", nil)
	gt.V(t, rec.Code).Equal(http.StatusOK)
	sessions := decode[[]chat.SessionSummary](t, rec)
	gt.A(t, sessions).Length(1)
	gt.V(t, sessions[0].TurnCount).Equal(4)

	rec = env.do(t, http.MethodDelete, "/api/chat/history/"+first.SessionID, nil)
	gt.V(t, rec.Code).Equal(http.StatusNoContent)

	rec = env.do(t, http.MethodDelete, "/api/chat/history/"+first.SessionID, nil)
	gt.V(t, rec.Code).Equal(http.StatusNotFound)

	t.Run("unknown session is rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{
			"agent_name": "support",
			"message":    "hi",
			"session_id": first.SessionID,
		})
		gt.V(t, rec.Code).Equal(http.StatusBadRequest)
		gt.V(t, decode[errorResponse](t, rec).Error.Message).Equal("session not found for this project")
	})

	t.Run("unknown agent", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{"agent_name": "nobody", "message": "hi"})
		gt.V(t, rec.Code).Equal(http.StatusNotFound)
	})

	t.Run("provider failure", func(t *testing.T) {
		env.model.err = goerr.New("upstream exploded", goerr.T(apperr.ErrTagProvider))
		defer func() { env.model.err = nil }()

		rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{"agent_name": "support", "message": "hi"})
		gt.V(t, rec.Code).Equal(http.StatusBadGateway)
		body := decode[errorResponse](t, rec)
		gt.V(t, body.Error.Code).Equal("provider_error")
		gt.V(t, body.Error.Message).Equal("upstream exploded")
	})
}

type sseEvent struct {
	name string
	data chat.Event
}

func readSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			gt.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	gt.NoError(t, scanner.Err())
	return events
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t)
	env.activeAgent(t, "support", "Be helpful.")

	rec := env.do(t, http.MethodPost, "/api/chat/stream", map[string]any{"agent_name": "support", "message": "hi"})
	gt.V(t, rec.Code).Equal(http.StatusOK)
	gt.V(t, rec.Header().Get("Content-Type")).Equal("text/event-stream")

	events := readSSE(t, rec.Body.String())
	gt.A(t, events).Length(4)
	gt.V(t, events[0].name).Equal("start")
	gt.V(t, events[0].data.AgentName).Equal("support")
	gt.V(t, events[0].data.Version).Equal(1)
	sessionID := events[0].data.SessionID
	gt.V(t, sessionID).NotEqual("")

	gt.V(t, events[1].name).Equal("token")
	gt.V(t, events[1].data.Content).Equal("Hello")
	gt.V(t, events[2].data.Content).Equal(" there")

	done := events[3]
	gt.V(t, done.name).Equal("done")
	gt.V(t, done.data.Usage).NotNil()
	gt.V(t, *done.data.Usage.TotalTokens).Equal(15)
	gt.V(t, *done.data.Totals.TotalTokens).Equal(15)

	rec = env.do(t, http.MethodGet, "/api/chat/history/"+string(sessionID), nil)
	turns := decode[[]chat.Turn](t, rec)
	gt.A(t, turns).Length(2)
	gt.V(t, turns[1].Content).Equal("Hello there")

	t.Run("failure before start is plain JSON", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/chat/stream", map[string]any{"agent_name": "nobody", "message": "hi"})
		gt.V(t, rec.Code).Equal(http.StatusNotFound)
		gt.S(t, rec.Header().Get("Content-Type")).Contains("application/json")
	})

	t.Run("provider failure after start", func(t *testing.T) {
		env.model.err = goerr.New("upstream exploded", goerr.T(apperr.ErrTagProvider))
		defer func() { env.model.err = nil }()

		rec := env.do(t, http.MethodPost, "/api/chat/stream", map[string]any{"agent_name": "support", "message": "hi"})
		gt.V(t, rec.Code).Equal(http.StatusOK)
		events := readSSE(t, rec.Body.String())
		last := events[len(events)-1]
		gt.V(t, last.name).Equal("error")
		gt.V(t, last.data.Message).Equal("upstream exploded")
	})
}

func TestChatWebSocket(t *testing.T) {
	env := newTestEnv(t)
	env.activeAgent(t, "support", "Be helpful.")

	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial := func(t *testing.T) *websocket.Conn {
		conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/chat/ws", &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + env.token}},
		})
		gt.NoError(t, err)
		return conn
	}

	readAll := func(t *testing.T, conn *websocket.Conn) []chat.Event {
		var events []chat.Event
		for {
			var ev chat.Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				gt.V(t, websocket.CloseStatus(err)).Equal(websocket.StatusNormalClosure)
				return events
			}
			events = append(events, ev)
		}
	}

	t.Run("streams a turn", func(t *testing.T) {
		conn := dial(t)
		defer func() { _ = conn.CloseNow() }()

		gt.NoError(t, wsjson.Write(ctx, conn, map[string]any{"agent_name": "support", "message": "hi"}))
		events := readAll(t, conn)

		gt.A(t, events).Length(4)
		gt.V(t, events[0].Type).Equal(chat.EventStart)
		gt.V(t, events[1].Content).Equal("Hello")
		gt.V(t, events[3].Type).Equal(chat.EventDone)
		gt.V(t, *events[3].Usage.TotalTokens).Equal(15)
	})

	t.Run("error frame before start", func(t *testing.T) {
		conn := dial(t)
		defer func() { _ = conn.CloseNow() }()

		gt.NoError(t, wsjson.Write(ctx, conn, map[string]any{"agent_name": "nobody", "message": "hi"}))
		events := readAll(t, conn)

		gt.A(t, events).Length(1)
		gt.V(t, events[0].Type).Equal(chat.EventError)
		gt.V(t, events[0].Message).Equal("agent not found in this project")
	})

	t.Run("handshake requires a credential", func(t *testing.T) {
		_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/chat/ws", nil)
		gt.Error(t, err)
		gt.V(t, resp).NotNil()
		gt.V(t, resp.StatusCode).Equal(http.StatusUnauthorized)
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, server.WithRateLimiter(middleware.NewRateLimiter(1, 2)))

	gt.V(t, env.do(t, http.MethodGet, "/api/agents", nil).Code).Equal(http.StatusOK)
	gt.V(t, env.do(t, http.MethodGet, "/api/agents", nil).Code).Equal(http.StatusOK)

	rec := env.do(t, http.MethodGet, "/api/agents", nil)
	gt.V(t, rec.Code).Equal(http.StatusTooManyRequests)
	gt.V(t, decode[errorResponse](t, rec).Error.Code).Equal("rate_limited")

	// health is outside the limited group
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	health := httptest.NewRecorder()
	env.srv.ServeHTTP(health, req)
	gt.V(t, health.Code).Equal(http.StatusOK)
}
