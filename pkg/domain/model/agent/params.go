package agent

import (
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

// Sampling parameter defaults applied when a version is created without them
const (
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 2048
	DefaultTopP             = 1.0
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0

	MaxMaxTokens = 128000
)

type SamplingParams struct {
	Temperature      float64  `json:"temperature"`
	MaxTokens        int      `json:"max_tokens"`
	TopP             float64  `json:"top_p"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
}

// DefaultSamplingParams returns the parameters a new version starts from
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature:      DefaultTemperature,
		MaxTokens:        DefaultMaxTokens,
		TopP:             DefaultTopP,
		FrequencyPenalty: DefaultFrequencyPenalty,
		PresencePenalty:  DefaultPresencePenalty,
	}
}

// Validate checks every parameter against its accepted range
func (x SamplingParams) Validate() error {
	checks := []struct {
		field    string
		value    float64
		min, max float64
	}{
		{"temperature", x.Temperature, 0, 2},
		{"max_tokens", float64(x.MaxTokens), 1, MaxMaxTokens},
		{"top_p", x.TopP, 0, 1},
		{"frequency_penalty", x.FrequencyPenalty, -2, 2},
		{"presence_penalty", x.PresencePenalty, -2, 2},
	}

	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return goerr.New(c.field+" is out of range",
				goerr.T(apperr.ErrTagValidation),
				goerr.TV(apperr.FieldKey, c.field),
				goerr.V("value", c.value),
				goerr.V("min", c.min),
				goerr.V("max", c.max),
			)
		}
	}
	return nil
}

// ForwardTopP reports whether top_p differs from the provider default
func (x SamplingParams) ForwardTopP() bool { return x.TopP != DefaultTopP }

// ForwardFrequencyPenalty reports whether the frequency penalty is set
func (x SamplingParams) ForwardFrequencyPenalty() bool { return x.FrequencyPenalty != 0 }

// ForwardPresencePenalty reports whether the presence penalty is set
func (x SamplingParams) ForwardPresencePenalty() bool { return x.PresencePenalty != 0 }

// Sampling converts the stored parameters into the forwarded form. Parameters
// equal to the provider default are left unset.
func (x SamplingParams) Sampling() chat.Sampling {
	temperature := x.Temperature
	s := chat.Sampling{
		Temperature: &temperature,
		MaxTokens:   x.MaxTokens,
	}
	if x.ForwardTopP() {
		v := x.TopP
		s.TopP = &v
	}
	if x.ForwardFrequencyPenalty() {
		v := x.FrequencyPenalty
		s.FrequencyPenalty = &v
	}
	if x.ForwardPresencePenalty() {
		v := x.PresencePenalty
		s.PresencePenalty = &v
	}
	if len(x.StopSequences) > 0 {
		s.Stop = slices.Clone(x.StopSequences)
	}
	return s
}
