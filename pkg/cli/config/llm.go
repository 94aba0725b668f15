package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/service/llm"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

//go:embed templates/llm.yaml
var defaultLLMConfig string

// LLMModelConfig overrides the endpoint of one model name
type LLMModelConfig struct {
	BaseURL string `yaml:"base_url"`
}

// LLMFile is the layout of the YAML file given by --llm-config
type LLMFile struct {
	DefaultBaseURL string                    `yaml:"default_base_url"`
	Models         map[string]LLMModelConfig `yaml:"models"`
}

// LLM holds the provider client configuration
type LLM struct {
	ConfigFile     string
	Timeout        time.Duration
	DefaultBaseURL string
}

func (x *LLM) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-config",
			Category:    "llm",
			Sources:     cli.EnvVars("KITSUNE_LLM_CONFIG"),
			Usage:       "Path to a YAML file with per model base URL overrides",
			Destination: &x.ConfigFile,
		},
		&cli.DurationFlag{
			Name:        "llm-timeout",
			Category:    "llm",
			Sources:     cli.EnvVars("KITSUNE_LLM_TIMEOUT"),
			Usage:       "Timeout of one provider call",
			Value:       llm.DefaultTimeout,
			Destination: &x.Timeout,
		},
		&cli.StringFlag{
			Name:        "llm-default-base-url",
			Category:    "llm",
			Sources:     cli.EnvVars("KITSUNE_LLM_DEFAULT_BASE_URL"),
			Usage:       "Base URL used when neither the version nor the config file sets one (overrides config file)",
			Destination: &x.DefaultBaseURL,
		},
	}
}

func (x LLM) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("config_file", x.ConfigFile),
		slog.Duration("timeout", x.Timeout),
		slog.String("default_base_url", x.DefaultBaseURL),
	)
}

// Load reads the config file, or the embedded template when none is given,
// and applies flag overrides
func (x *LLM) Load() (*LLMFile, error) {
	raw := []byte(defaultLLMConfig)
	if x.ConfigFile != "" {
		data, err := os.ReadFile(filepath.Clean(x.ConfigFile))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read llm config file", goerr.V("file", x.ConfigFile))
		}
		raw = data
	}

	var file LLMFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse llm config", goerr.V("file", x.ConfigFile))
	}

	for model, m := range file.Models {
		if m.BaseURL == "" {
			return nil, goerr.New("base_url is required for a model override",
				goerr.V("file", x.ConfigFile), goerr.V("model", model))
		}
	}

	if x.DefaultBaseURL != "" {
		file.DefaultBaseURL = x.DefaultBaseURL
	}
	return &file, nil
}

// Configure builds the provider client
func (x *LLM) Configure() (*llm.Client, error) {
	if x.Timeout <= 0 {
		return nil, goerr.New("llm-timeout must be positive", goerr.V("timeout", x.Timeout))
	}

	file, err := x.Load()
	if err != nil {
		return nil, err
	}

	urls := make(map[string]string, len(file.Models))
	for model, m := range file.Models {
		urls[model] = m.BaseURL
	}

	opts := []llm.Option{
		llm.WithTimeout(x.Timeout),
		llm.WithModelBaseURLs(urls),
	}
	if file.DefaultBaseURL != "" {
		opts = append(opts, llm.WithDefaultBaseURL(file.DefaultBaseURL))
	}
	return llm.New(opts...), nil
}

// DefaultLLMConfig returns the embedded configuration template
func DefaultLLMConfig() string {
	return defaultLLMConfig
}

// GenerateLLMConfigFile writes the embedded template to outputPath
func GenerateLLMConfigFile(outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301
		return goerr.Wrap(err, "failed to create directory", goerr.V("dir", dir))
	}

	if err := os.WriteFile(outputPath, []byte(defaultLLMConfig), 0600); err != nil { // #nosec G306
		return goerr.Wrap(err, "failed to write config file", goerr.V("path", outputPath))
	}
	return nil
}
