package cli

import (
	"context"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/cli/config"
	"github.com/m-mizutani/kitsune/pkg/utils/errors"
	"github.com/urfave/cli/v3"
)

func Run(ctx context.Context, args []string) error {
	var (
		loggerCfg   config.Logger
		closeLogger = func() {}
	)
	app := &cli.Command{
		Name:  "kitsune",
		Usage: "Versioned agent registry and conversation engine",
		Flags: loggerCfg.Flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := loggerCfg.Configure()
			if err != nil {
				return ctx, err
			}
			closeLogger = closer

			ctx = ctxlog.With(ctx, logger)
			ctxlog.From(ctx).Debug("base options", "logger", loggerCfg)
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			closeLogger()
			return nil
		},
		Commands: []*cli.Command{
			cmdServe(),
			cmdKey(),
			cmdTool(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		errors.Handle(ctx, goerr.Wrap(err, "failed to run app"))
		return err
	}

	return nil
}
