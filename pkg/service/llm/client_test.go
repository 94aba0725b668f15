package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/service/llm"
)

type fakeProvider struct {
	lastBody map[string]any
	lastAuth string
	handler  func(w http.ResponseWriter, body map[string]any)
}

func (f *fakeProvider) serve(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/v1/chat/completions")
		raw, err := io.ReadAll(r.Body)
		gt.NoError(t, err)
		var body map[string]any
		gt.NoError(t, json.Unmarshal(raw, &body))
		f.lastBody = body
		f.lastAuth = r.Header.Get("Authorization")
		f.handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRequest(baseURL string, params agent.SamplingParams) *chat.CompletionRequest {
	return &chat.CompletionRequest{
		Model:   "gpt-4o-mini",
		APIKey:  "sk-test",
		BaseURL: baseURL,
		Messages: chat.BuildMessages("You are helpful.", []*chat.Turn{
			{Role: chat.RoleUser, Content: "hi"},
			{Role: chat.RoleAssistant, Content: "hello"},
		}, "how are you?"),
		Sampling: params.Sampling(),
	}
}

func TestComplete(t *testing.T) {
	fake := &fakeProvider{handler: func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "fine, thanks"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}}
	srv := fake.serve(t)

	client := llm.New()
	resp, err := client.Complete(context.Background(), newRequest(srv.URL+"/v1", agent.DefaultSamplingParams()))
	gt.NoError(t, err)
	gt.Equal(t, resp.Text, "fine, thanks")
	gt.Equal(t, *resp.Usage.TotalTokens, 16)
	gt.Equal(t, *resp.Usage.PromptTokens, 12)
	gt.Equal(t, *resp.Usage.CompletionTokens, 4)

	gt.Equal(t, fake.lastAuth, "Bearer sk-test")
	gt.Equal(t, fake.lastBody["model"], any("gpt-4o-mini"))

	messages := fake.lastBody["messages"].([]any)
	gt.A(t, messages).Length(4)
	gt.Equal(t, messages[0].(map[string]any)["role"], any("system"))
	gt.Equal(t, messages[3].(map[string]any)["content"], any("how are you?"))

	t.Run("default parameters are not forwarded", func(t *testing.T) {
		_, hasTopP := fake.lastBody["top_p"]
		_, hasFreq := fake.lastBody["frequency_penalty"]
		_, hasPres := fake.lastBody["presence_penalty"]
		_, hasStop := fake.lastBody["stop"]
		gt.False(t, hasTopP)
		gt.False(t, hasFreq)
		gt.False(t, hasPres)
		gt.False(t, hasStop)
		gt.Equal(t, fake.lastBody["max_tokens"], any(float64(agent.DefaultMaxTokens)))
	})

	t.Run("custom parameters are forwarded", func(t *testing.T) {
		params := agent.DefaultSamplingParams()
		params.TopP = 0.5
		params.FrequencyPenalty = 0.25
		params.StopSequences = []string{"END"}
		_, err := client.Complete(context.Background(), newRequest(srv.URL+"/v1", params))
		gt.NoError(t, err)

		gt.Equal(t, fake.lastBody["top_p"], any(0.5))
		gt.Equal(t, fake.lastBody["frequency_penalty"], any(0.25))
		gt.Equal(t, fake.lastBody["stop"].([]any)[0], any("END"))
		_, hasPres := fake.lastBody["presence_penalty"]
		gt.False(t, hasPres)
	})

	t.Run("zero top_p is forwarded", func(t *testing.T) {
		params := agent.DefaultSamplingParams()
		params.TopP = 0
		_, err := client.Complete(context.Background(), newRequest(srv.URL+"/v1", params))
		gt.NoError(t, err)

		topP, ok := fake.lastBody["top_p"].(float64)
		gt.True(t, ok)
		gt.True(t, topP < 1e-30)
	})

	t.Run("zero temperature is forwarded", func(t *testing.T) {
		params := agent.DefaultSamplingParams()
		params.Temperature = 0
		_, err := client.Complete(context.Background(), newRequest(srv.URL+"/v1", params))
		gt.NoError(t, err)

		temperature, ok := fake.lastBody["temperature"].(float64)
		gt.True(t, ok)
		gt.True(t, temperature < 1e-30)
	})
}

func TestCompleteReadsProviderSpecificUsage(t *testing.T) {
	fake := &fakeProvider{handler: func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}}],
			"x_groq": {"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 0}}
		}`)
	}}
	srv := fake.serve(t)

	resp, err := llm.New().Complete(context.Background(), newRequest(srv.URL+"/v1", agent.DefaultSamplingParams()))
	gt.NoError(t, err)
	gt.Equal(t, *resp.Usage.TotalTokens, 10)
}

func TestCompleteProviderError(t *testing.T) {
	fake := &fakeProvider{handler: func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`)
	}}
	srv := fake.serve(t)

	_, err := llm.New().Complete(context.Background(), newRequest(srv.URL+"/v1", agent.DefaultSamplingParams()))
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, apperr.ErrTagProvider))
	gt.S(t, apperr.Message(err)).Contains("Incorrect API key provided")
}

func TestCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeProvider{handler: func(w http.ResponseWriter, _ map[string]any) {
		<-release
	}}
	srv := fake.serve(t)
	defer close(release)

	_, err := llm.New(llm.WithTimeout(50*time.Millisecond)).
		Complete(context.Background(), newRequest(srv.URL+"/v1", agent.DefaultSamplingParams()))
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, apperr.ErrTagProvider))
}

func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, c := range chunks {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		flusher.Flush()
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func deltaChunk(content string) string {
	return fmt.Sprintf(`{"id":"c","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

func TestStream(t *testing.T) {
	fake := &fakeProvider{handler: func(w http.ResponseWriter, body map[string]any) {
		writeChunks(w,
			deltaChunk("Hel"),
			deltaChunk("lo"),
			deltaChunk("!"),
			`{"id":"c","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		)
	}}
	srv := fake.serve(t)

	var deltas []string
	resp, err := llm.New().Stream(context.Background(), newRequest(srv.URL+"/v1", agent.DefaultSamplingParams()),
		func(delta string) error {
			deltas = append(deltas, delta)
			return nil
		})
	gt.NoError(t, err)
	gt.Equal(t, resp.Text, "Hello!")
	gt.Equal(t, strings.Join(deltas, "|"), "Hel|lo|!")
	gt.Equal(t, *resp.Usage.TotalTokens, 8)

	gt.Equal(t, fake.lastBody["stream"], any(true))
	options := fake.lastBody["stream_options"].(map[string]any)
	gt.Equal(t, options["include_usage"], any(true))
}

func TestStreamConsumerError(t *testing.T) {
	fake := &fakeProvider{handler: func(w http.ResponseWriter, _ map[string]any) {
		writeChunks(w, deltaChunk("one "), deltaChunk("two "), deltaChunk("three"))
	}}
	srv := fake.serve(t)

	stop := errors.New("client went away")
	calls := 0
	resp, err := llm.New().Stream(context.Background(), newRequest(srv.URL+"/v1", agent.DefaultSamplingParams()),
		func(delta string) error {
			calls++
			if calls == 2 {
				return stop
			}
			return nil
		})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, stop))
	gt.False(t, goerr.HasTag(err, apperr.ErrTagProvider))
	gt.Equal(t, calls, 2)
	gt.Equal(t, resp.Text, "one two ")
	gt.True(t, resp.Usage.IsEmpty())
}

func TestBaseURLResolution(t *testing.T) {
	client := llm.New(
		llm.WithDefaultBaseURL("https://default.example.com/v1"),
		llm.WithModelBaseURLs(map[string]string{"llama-3": "https://groq.example.com/v1"}),
	)

	gt.Equal(t, client.BaseURL(&chat.CompletionRequest{Model: "gpt-4o", BaseURL: "https://own.example.com"}), "https://own.example.com")
	gt.Equal(t, client.BaseURL(&chat.CompletionRequest{Model: "llama-3"}), "https://groq.example.com/v1")
	gt.Equal(t, client.BaseURL(&chat.CompletionRequest{Model: "gpt-4o"}), "https://default.example.com/v1")
	gt.Equal(t, llm.New().BaseURL(&chat.CompletionRequest{Model: "gpt-4o"}), "https://api.openai.com/v1")
}
