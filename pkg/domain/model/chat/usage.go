package chat

import "github.com/tidwall/gjson"

// Usage is the token usage of one model invocation. Each field is nil when the
// provider did not report it.
type Usage struct {
	TotalTokens      *int `json:"tokens_used"`
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
}

// Totals is the cumulative usage of a session
type Totals struct {
	TotalTokens           *int `json:"total_tokens"`
	TotalPromptTokens     *int `json:"total_prompt_tokens"`
	TotalCompletionTokens *int `json:"total_completion_tokens"`
}

// IsEmpty reports whether no field is known
func (x Usage) IsEmpty() bool {
	return x.TotalTokens == nil && x.PromptTokens == nil && x.CompletionTokens == nil
}

func (x Usage) Copy() Usage {
	return Usage{
		TotalTokens:      copyInt(x.TotalTokens),
		PromptTokens:     copyInt(x.PromptTokens),
		CompletionTokens: copyInt(x.CompletionTokens),
	}
}

// Normalize replaces the total with prompt + completion when both are known
// and the reported total is missing, zero or inconsistent with their sum.
func (x Usage) Normalize() Usage {
	out := x.Copy()
	if out.PromptTokens == nil || out.CompletionTokens == nil {
		return out
	}
	sum := *out.PromptTokens + *out.CompletionTokens
	if out.TotalTokens == nil || *out.TotalTokens != sum {
		out.TotalTokens = &sum
	}
	return out
}

// usageStrategy reads usage from one known response shape. An empty path
// means the shape does not carry that field.
type usageStrategy struct {
	name       string
	prompt     string
	completion string
	total      string
}

// usageStrategies are tried in order and the first one yielding any value wins
var usageStrategies = []usageStrategy{
	{name: "openai", prompt: "usage.prompt_tokens", completion: "usage.completion_tokens", total: "usage.total_tokens"},
	{name: "anthropic", prompt: "usage.input_tokens", completion: "usage.output_tokens"},
	{name: "groq", prompt: "x_groq.usage.prompt_tokens", completion: "x_groq.usage.completion_tokens", total: "x_groq.usage.total_tokens"},
	{name: "token_usage", prompt: "response_metadata.token_usage.prompt_tokens", completion: "response_metadata.token_usage.completion_tokens", total: "response_metadata.token_usage.total_tokens"},
	{name: "usage_metadata", prompt: "usage_metadata.input_tokens", completion: "usage_metadata.output_tokens", total: "usage_metadata.total_tokens"},
	{name: "gemini", prompt: "usageMetadata.promptTokenCount", completion: "usageMetadata.candidatesTokenCount", total: "usageMetadata.totalTokenCount"},
}

func (s usageStrategy) extract(raw []byte) (Usage, bool) {
	u := Usage{
		PromptTokens:     intAt(raw, s.prompt),
		CompletionTokens: intAt(raw, s.completion),
		TotalTokens:      intAt(raw, s.total),
	}
	return u, !u.IsEmpty()
}

// ExtractUsage reads token usage from a raw provider response or stream chunk
// and normalizes it. Unknown shapes produce an empty Usage.
func ExtractUsage(raw []byte) Usage {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Usage{}
	}
	for _, s := range usageStrategies {
		if u, ok := s.extract(raw); ok {
			return u.Normalize()
		}
	}
	return Usage{}
}

func intAt(raw []byte, path string) *int {
	if path == "" {
		return nil
	}
	r := gjson.GetBytes(raw, path)
	if r.Type != gjson.Number {
		return nil
	}
	v := int(r.Int())
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
