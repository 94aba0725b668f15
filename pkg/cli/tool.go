package cli

import (
	"github.com/m-mizutani/kitsune/pkg/cli/tools"
	"github.com/urfave/cli/v3"
)

func cmdTool() *cli.Command {
	return &cli.Command{
		Name:    "tool",
		Aliases: []string{"t"},
		Usage:   "Operator helpers for running kitsune",
		Description: "Helpers that do not touch the store or serve traffic, such as writing the\n" +
			"LLM endpoint template consumed by 'kitsune serve --llm-config'.",
		Commands: []*cli.Command{
			tools.CmdGenerateConfig(),
		},
	}
}
