package agent

import "slices"

// FieldDiff is one differing field between two versions
type FieldDiff struct {
	Field string `json:"field"`
	A     any    `json:"version_a"`
	B     any    `json:"version_b"`
}

// Compare lists the configuration fields that differ between a and b, in a
// fixed field order.
func Compare(a, b *AgentVersion) []FieldDiff {
	var diffs []FieldDiff
	add := func(field string, va, vb any, equal bool) {
		if !equal {
			diffs = append(diffs, FieldDiff{Field: field, A: va, B: vb})
		}
	}

	add("system_prompt", a.SystemPrompt, b.SystemPrompt, a.SystemPrompt == b.SystemPrompt)
	add("model_name", a.ModelName, b.ModelName, a.ModelName == b.ModelName)
	add("base_url", a.Credential.BaseURL, b.Credential.BaseURL, a.Credential.BaseURL == b.Credential.BaseURL)
	add("temperature", a.Params.Temperature, b.Params.Temperature, a.Params.Temperature == b.Params.Temperature)
	add("max_tokens", a.Params.MaxTokens, b.Params.MaxTokens, a.Params.MaxTokens == b.Params.MaxTokens)
	add("top_p", a.Params.TopP, b.Params.TopP, a.Params.TopP == b.Params.TopP)
	add("frequency_penalty", a.Params.FrequencyPenalty, b.Params.FrequencyPenalty, a.Params.FrequencyPenalty == b.Params.FrequencyPenalty)
	add("presence_penalty", a.Params.PresencePenalty, b.Params.PresencePenalty, a.Params.PresencePenalty == b.Params.PresencePenalty)
	add("stop_sequences", a.Params.StopSequences, b.Params.StopSequences, slices.Equal(a.Params.StopSequences, b.Params.StopSequences))
	add("notes", a.Notes, b.Notes, a.Notes == b.Notes)

	return diffs
}
