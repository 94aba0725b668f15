package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/sashabaranov/go-openai"
)

const DefaultTimeout = 120 * time.Second

// Client calls OpenAI compatible chat completion endpoints. The credential
// and base URL come with every request, so one Client serves all versions.
type Client struct {
	timeout        time.Duration
	defaultBaseURL string
	modelBaseURLs  map[string]string
	transport      http.RoundTripper
}

var _ interfaces.ChatModel = (*Client)(nil)

type Option func(*Client)

// WithTimeout bounds every provider call
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithDefaultBaseURL is used when neither the version nor a model override
// sets a base URL
func WithDefaultBaseURL(url string) Option {
	return func(c *Client) {
		c.defaultBaseURL = url
	}
}

// WithModelBaseURLs maps model names to base URLs
func WithModelBaseURLs(urls map[string]string) Option {
	return func(c *Client) {
		for model, url := range urls {
			c.modelBaseURLs[model] = url
		}
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		timeout:       DefaultTimeout,
		modelBaseURLs: make(map[string]string),
		transport:     http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the endpoint used for req
func (c *Client) BaseURL(req *chat.CompletionRequest) string {
	if req.BaseURL != "" {
		return req.BaseURL
	}
	if url, ok := c.modelBaseURLs[req.Model]; ok {
		return url
	}
	if c.defaultBaseURL != "" {
		return c.defaultBaseURL
	}
	return openai.DefaultConfig("").BaseURL
}

func (c *Client) newClient(req *chat.CompletionRequest, rt http.RoundTripper) *openai.Client {
	cfg := openai.DefaultConfig(req.APIKey)
	cfg.BaseURL = strings.TrimSuffix(c.BaseURL(req), "/")
	cfg.HTTPClient = &http.Client{Transport: rt}
	return openai.NewClientWithConfig(cfg)
}

func buildRequest(req *chat.CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.Sampling.MaxTokens,
		Stop:      req.Sampling.Stop,
	}
	if t := req.Sampling.Temperature; t != nil {
		out.Temperature = float32(*t)
		// zero is dropped by omitempty
		if out.Temperature == 0 {
			out.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if p := req.Sampling.TopP; p != nil {
		out.TopP = float32(*p)
		if out.TopP == 0 {
			out.TopP = math.SmallestNonzeroFloat32
		}
	}
	if p := req.Sampling.FrequencyPenalty; p != nil {
		out.FrequencyPenalty = float32(*p)
	}
	if p := req.Sampling.PresencePenalty; p != nil {
		out.PresencePenalty = float32(*p)
	}
	return out
}

// providerError tags err as a provider failure. ctx is the caller's context:
// when it was canceled the cancellation is returned untagged.
func providerError(ctx context.Context, err error, req *chat.CompletionRequest) error {
	if ctx.Err() != nil {
		return goerr.Wrap(ctx.Err(), "model call canceled", goerr.TV(apperr.ModelKey, req.Model))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return goerr.Wrap(err, "provider returned an error",
			goerr.T(apperr.ErrTagProvider),
			goerr.TV(apperr.ModelKey, req.Model),
			goerr.V("status_code", apiErr.HTTPStatusCode),
			goerr.V("provider_message", apiErr.Message))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return goerr.Wrap(err, "provider timed out", goerr.T(apperr.ErrTagProvider), goerr.TV(apperr.ModelKey, req.Model))
	}
	return goerr.Wrap(err, "provider request failed", goerr.T(apperr.ErrTagProvider), goerr.TV(apperr.ModelKey, req.Model))
}

// bodyRecorder keeps the raw response body so usage can be read from
// provider specific fields the typed response drops
type bodyRecorder struct {
	base http.RoundTripper
	body bytes.Buffer
}

type teeBody struct {
	io.Reader
	io.Closer
}

func (r *bodyRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = teeBody{Reader: io.TeeReader(resp.Body, &r.body), Closer: resp.Body}
	return resp, nil
}

func (c *Client) Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	recorder := &bodyRecorder{base: c.transport}
	resp, err := c.newClient(req, recorder).CreateChatCompletion(callCtx, buildRequest(req))
	if err != nil {
		return nil, providerError(ctx, err, req)
	}
	if len(resp.Choices) == 0 {
		return nil, goerr.New("provider returned no choices", goerr.T(apperr.ErrTagProvider), goerr.TV(apperr.ModelKey, req.Model))
	}

	raw := recorder.body.Bytes()
	if !json.Valid(raw) {
		raw, _ = json.Marshal(resp)
	}

	return &chat.Completion{
		Text:  resp.Choices[0].Message.Content,
		Usage: chat.ExtractUsage(raw),
	}, nil
}

// Stream returns the text received so far together with the error when it
// stops early, so the caller can keep a partial answer.
func (c *Client) Stream(ctx context.Context, req *chat.CompletionRequest, onDelta func(delta string) error) (*chat.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request := buildRequest(req)
	request.Stream = true
	request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.newClient(req, c.transport).CreateChatCompletionStream(callCtx, request)
	if err != nil {
		return nil, providerError(ctx, err, req)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			ctxlog.From(ctx).Debug("failed to close provider stream", "error", err)
		}
	}()

	var text strings.Builder
	var usage chat.Usage
	for {
		raw, err := stream.RecvRaw()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &chat.Completion{Text: text.String(), Usage: usage}, providerError(ctx, err, req)
		}

		if u := chat.ExtractUsage(raw); !u.IsEmpty() {
			usage = u
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return &chat.Completion{Text: text.String(), Usage: usage},
				goerr.Wrap(err, "failed to decode stream chunk", goerr.T(apperr.ErrTagProvider), goerr.TV(apperr.ModelKey, req.Model))
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		text.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return &chat.Completion{Text: text.String(), Usage: usage}, goerr.Wrap(err, "stream consumer stopped")
		}
	}

	return &chat.Completion{Text: text.String(), Usage: usage}, nil
}
