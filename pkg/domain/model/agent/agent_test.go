package agent_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

func TestSamplingParamsValidate(t *testing.T) {
	gt.NoError(t, agent.DefaultSamplingParams().Validate())

	testCases := []struct {
		name   string
		modify func(p *agent.SamplingParams)
	}{
		{"temperature too high", func(p *agent.SamplingParams) { p.Temperature = 2.1 }},
		{"temperature negative", func(p *agent.SamplingParams) { p.Temperature = -0.1 }},
		{"max tokens zero", func(p *agent.SamplingParams) { p.MaxTokens = 0 }},
		{"max tokens too large", func(p *agent.SamplingParams) { p.MaxTokens = agent.MaxMaxTokens + 1 }},
		{"top_p above one", func(p *agent.SamplingParams) { p.TopP = 1.5 }},
		{"frequency penalty", func(p *agent.SamplingParams) { p.FrequencyPenalty = -2.5 }},
		{"presence penalty", func(p *agent.SamplingParams) { p.PresencePenalty = 3 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := agent.DefaultSamplingParams()
			tc.modify(&p)
			err := p.Validate()
			gt.Error(t, err)
			gt.True(t, goerr.HasTag(err, apperr.ErrTagValidation))
		})
	}
}

func TestForwardParams(t *testing.T) {
	p := agent.DefaultSamplingParams()
	gt.False(t, p.ForwardTopP())
	gt.False(t, p.ForwardFrequencyPenalty())
	gt.False(t, p.ForwardPresencePenalty())

	p.TopP = 0.9
	p.PresencePenalty = 0.5
	gt.True(t, p.ForwardTopP())
	gt.True(t, p.ForwardPresencePenalty())

	s := p.Sampling()
	gt.NotNil(t, s.Temperature)
	gt.Equal(t, *s.Temperature, agent.DefaultTemperature)
	gt.Equal(t, s.MaxTokens, agent.DefaultMaxTokens)
	gt.NotNil(t, s.TopP)
	gt.Equal(t, *s.TopP, 0.9)
	gt.Nil(t, s.FrequencyPenalty)
	gt.NotNil(t, s.PresencePenalty)
	gt.Nil(t, s.Stop)
}

func TestValidateName(t *testing.T) {
	gt.NoError(t, agent.ValidateName("support bot"))
	gt.Error(t, agent.ValidateName("   "))
	gt.Equal(t, agent.NameKey("  Support Bot "), "support bot")
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	a := agent.New(ctx, types.NewProjectID(ctx), "bot", "")
	cred := agent.Credential{EncryptedAPIKey: "x", BaseURL: "https://a.example.com"}

	v1 := agent.NewVersion(ctx, a, "You are $role", "gpt-4o", cred, agent.DefaultSamplingParams())
	v2 := v1.Copy()
	v2.ID = types.NewVersionID(ctx)
	v2.ModelName = "gpt-4o-mini"
	v2.Params.StopSequences = []string{"END"}

	gt.A(t, agent.Compare(v1, v1)).Length(0)

	diffs := agent.Compare(v1, v2)
	gt.A(t, diffs).Length(2)
	gt.Equal(t, diffs[0].Field, "model_name")
	gt.Equal(t, diffs[1].Field, "stop_sequences")
	gt.Equal(t, v1.Variables(), []string{"role"})
}

func TestVersionValidate(t *testing.T) {
	ctx := context.Background()
	a := agent.New(ctx, types.NewProjectID(ctx), "bot", "")

	v := agent.NewVersion(ctx, a, "", "gpt-4o", agent.Credential{}, agent.DefaultSamplingParams())
	gt.Error(t, v.Validate())

	v.Credential.EncryptedAPIKey = "cipher"
	gt.NoError(t, v.Validate())
	gt.False(t, v.IsActive)
}
