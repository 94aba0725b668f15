package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/cli"
)

func TestToolGenerateLLMConfig(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "llm.yaml")

	args := []string{"kitsune", "--log-quiet", "tool", "generate-config", "llm", "--output", path}
	gt.NoError(t, cli.Run(ctx, args))

	raw, err := os.ReadFile(path)
	gt.NoError(t, err)
	gt.S(t, string(raw)).Contains("default_base_url")

	t.Run("existing file needs force", func(t *testing.T) {
		gt.Error(t, cli.Run(ctx, args))
		gt.NoError(t, cli.Run(ctx, append(args, "--force")))
	})
}
