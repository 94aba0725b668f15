package chat

// Message is one entry of the model input sequence
type Message struct {
	Role    Role
	Content string
}

// Sampling holds the provider parameters that are forwarded. A nil pointer
// means the provider default is kept.
type Sampling struct {
	Temperature      *float64
	MaxTokens        int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
}

// CompletionRequest is a provider independent chat completion request
type CompletionRequest struct {
	Model    string
	APIKey   string `masq:"secret"`
	BaseURL  string
	Messages []Message
	Sampling Sampling
}

// Completion is the outcome of one model invocation
type Completion struct {
	Text  string
	Usage Usage
}

// BuildMessages assembles model input: system prompt, replayed history and the
// new user message, in that order.
func BuildMessages(systemPrompt string, history []*Turn, userMessage string) []Message {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	for _, t := range history {
		messages = append(messages, t.Message())
	}
	messages = append(messages, Message{Role: RoleUser, Content: userMessage})
	return messages
}
