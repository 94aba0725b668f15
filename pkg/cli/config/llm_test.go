package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/cli/config"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/service/llm"
)

func TestLLM_Load(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		cfg := &config.LLM{ConfigFile: "testdata/valid_llm.yaml", Timeout: time.Minute}
		file, err := cfg.Load()
		gt.NoError(t, err)
		gt.Equal(t, file.DefaultBaseURL, "https://llm.example.com/v1")
		gt.Equal(t, len(file.Models), 2)
		gt.Equal(t, file.Models["llama-3.1-70b"].BaseURL, "http://localhost:11434/v1")
	})

	t.Run("flag overrides default base url", func(t *testing.T) {
		cfg := &config.LLM{ConfigFile: "testdata/valid_llm.yaml", DefaultBaseURL: "https://override.example.com/v1"}
		file, err := cfg.Load()
		gt.NoError(t, err)
		gt.Equal(t, file.DefaultBaseURL, "https://override.example.com/v1")
	})

	t.Run("embedded template", func(t *testing.T) {
		cfg := &config.LLM{}
		file, err := cfg.Load()
		gt.NoError(t, err)
		gt.Equal(t, file.DefaultBaseURL, "")
		gt.Equal(t, len(file.Models), 0)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := &config.LLM{ConfigFile: "testdata/no_such_file.yaml"}
		_, err := cfg.Load()
		gt.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		cfg := &config.LLM{ConfigFile: "testdata/invalid_llm.yaml"}
		_, err := cfg.Load()
		gt.Error(t, err)
	})

	t.Run("override without base url", func(t *testing.T) {
		cfg := &config.LLM{ConfigFile: "testdata/missing_base_url.yaml"}
		_, err := cfg.Load()
		gt.Error(t, err)
	})
}

func TestLLM_Configure(t *testing.T) {
	cfg := &config.LLM{ConfigFile: "testdata/valid_llm.yaml", Timeout: time.Minute}
	client, err := cfg.Configure()
	gt.NoError(t, err)

	gt.Equal(t, client.BaseURL(&chat.CompletionRequest{Model: "gpt-4o-mini"}), "https://openai.example.com/v1")
	gt.Equal(t, client.BaseURL(&chat.CompletionRequest{Model: "other"}), "https://llm.example.com/v1")
	gt.Equal(t, client.BaseURL(&chat.CompletionRequest{Model: "gpt-4o-mini", BaseURL: "https://own.example.com"}), "https://own.example.com")

	t.Run("timeout must be positive", func(t *testing.T) {
		_, err := (&config.LLM{}).Configure()
		gt.Error(t, err)
	})

	t.Run("default timeout", func(t *testing.T) {
		client, err := (&config.LLM{Timeout: llm.DefaultTimeout}).Configure()
		gt.NoError(t, err)
		gt.Equal(t, client.BaseURL(&chat.CompletionRequest{Model: "gpt-4o-mini"}), "https://api.openai.com/v1")
	})
}

func TestGenerateLLMConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "llm.yaml")
	gt.NoError(t, config.GenerateLLMConfigFile(path))

	cfg := &config.LLM{ConfigFile: path}
	file, err := cfg.Load()
	gt.NoError(t, err)
	gt.Equal(t, len(file.Models), 0)
}
