package chat_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
)

func ptr(v int) *int { return &v }

func TestExtractUsage(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected chat.Usage
	}{
		{
			name:     "openai",
			raw:      `{"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
			expected: chat.Usage{PromptTokens: ptr(10), CompletionTokens: ptr(5), TotalTokens: ptr(15)},
		},
		{
			name:     "inconsistent total is replaced",
			raw:      `{"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":99}}`,
			expected: chat.Usage{PromptTokens: ptr(10), CompletionTokens: ptr(5), TotalTokens: ptr(15)},
		},
		{
			name:     "zero total is replaced",
			raw:      `{"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":0}}`,
			expected: chat.Usage{PromptTokens: ptr(3), CompletionTokens: ptr(4), TotalTokens: ptr(7)},
		},
		{
			name:     "anthropic names",
			raw:      `{"usage":{"input_tokens":8,"output_tokens":2}}`,
			expected: chat.Usage{PromptTokens: ptr(8), CompletionTokens: ptr(2), TotalTokens: ptr(10)},
		},
		{
			name:     "groq extension",
			raw:      `{"choices":[],"x_groq":{"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}}`,
			expected: chat.Usage{PromptTokens: ptr(1), CompletionTokens: ptr(1), TotalTokens: ptr(2)},
		},
		{
			name:     "gemini",
			raw:      `{"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":6,"totalTokenCount":10}}`,
			expected: chat.Usage{PromptTokens: ptr(4), CompletionTokens: ptr(6), TotalTokens: ptr(10)},
		},
		{
			name:     "total only is kept",
			raw:      `{"usage":{"total_tokens":42}}`,
			expected: chat.Usage{TotalTokens: ptr(42)},
		},
		{
			name:     "null usage in stream chunk",
			raw:      `{"choices":[{"delta":{"content":"hi"}}],"usage":null}`,
			expected: chat.Usage{},
		},
		{
			name:     "not json",
			raw:      `data: oops`,
			expected: chat.Usage{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, chat.ExtractUsage([]byte(tc.raw)), tc.expected)
		})
	}
}

func TestNormalize(t *testing.T) {
	u := chat.Usage{PromptTokens: ptr(2)}.Normalize()
	gt.V(t, u.TotalTokens).Nil()

	u = chat.Usage{PromptTokens: ptr(2), CompletionTokens: ptr(3)}.Normalize()
	gt.Equal(t, *u.TotalTokens, 5)
}
