package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/cli/config"
	"github.com/urfave/cli/v3"
)

// CmdGenerateConfig returns the generate-config command
func CmdGenerateConfig() *cli.Command {
	return &cli.Command{
		Name:    "generate-config",
		Aliases: []string{"g"},
		Usage:   "Generate configuration file templates",
		Commands: []*cli.Command{
			cmdGenerateLLMConfig(),
		},
	}
}

func cmdGenerateLLMConfig() *cli.Command {
	var (
		outputPath string
		force      bool
	)

	return &cli.Command{
		Name:    "llm",
		Aliases: []string{"l"},
		Usage:   "Generate the LLM endpoint configuration template",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "Output file path",
				Value:       "llm.yaml",
				Destination: &outputPath,
			},
			&cli.BoolFlag{
				Name:        "force",
				Aliases:     []string{"f"},
				Usage:       "Overwrite existing file",
				Destination: &force,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, err := os.Stat(outputPath); err == nil && !force {
				return goerr.New("file already exists, use --force to overwrite", goerr.V("path", outputPath))
			}

			if err := config.GenerateLLMConfigFile(outputPath); err != nil {
				return err
			}

			ctxlog.From(ctx).Info("LLM configuration template generated", "path", outputPath)
			fmt.Printf("LLM configuration template generated: %s\n", outputPath)
			fmt.Println("Pass it with --llm-config to apply per model base URLs.")
			return nil
		},
	}
}
