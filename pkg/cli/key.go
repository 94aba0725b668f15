package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/cli/config"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/usecase"
	"github.com/m-mizutani/kitsune/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdKey() *cli.Command {
	return &cli.Command{
		Name:    "key",
		Aliases: []string{"k"},
		Usage:   "Provision projects and credentials",
		Commands: []*cli.Command{
			cmdKeyNew(),
			cmdKeyToken(),
		},
	}
}

func parseProjectID(raw string) (types.ProjectID, error) {
	id := types.ProjectID(raw)
	if !id.IsValid() {
		return "", goerr.New("invalid project-id", goerr.V("project_id", raw))
	}
	return id, nil
}

func warnEphemeral(ctx context.Context, cfg config.Database) {
	if cfg.Backend == config.BackendMemory || cfg.Backend == "" {
		ctxlog.From(ctx).Warn("memory backend does not persist, the key is usable only by this process")
	}
}

func cmdKeyNew() *cli.Command {
	var (
		databaseCfg config.Database
		name        string
		keyName     string
		projectID   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Name of the project to create",
			Destination: &name,
		},
		&cli.StringFlag{
			Name:        "project-id",
			Sources:     cli.EnvVars("KITSUNE_PROJECT_ID"),
			Usage:       "Add a key to this existing project instead of creating one",
			Destination: &projectID,
		},
		&cli.StringFlag{
			Name:        "key-name",
			Usage:       "Label of the new key when adding to an existing project",
			Value:       "cli",
			Destination: &keyName,
		},
	}
	flags = append(flags, databaseCfg.Flags()...)

	return &cli.Command{
		Name:  "new",
		Usage: "Create a project with a project key, or add a key to an existing project",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			warnEphemeral(ctx, databaseCfg)

			repo, err := databaseCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo)

			uc := usecase.NewProjectUseCases(repo, nil)

			if projectID != "" {
				id, err := parseProjectID(projectID)
				if err != nil {
					return err
				}
				key, raw, err := uc.CreateAPIKey(ctx, id, keyName)
				if err != nil {
					return err
				}
				fmt.Printf("project_id: %s\napi_key_id: %s\napi_key:    %s\n", key.ProjectID, key.ID, raw)
				return nil
			}

			project, key, raw, err := uc.CreateProject(ctx, name)
			if err != nil {
				return err
			}
			ctxlog.From(ctx).Info("project created", "project_id", project.ID, "api_key_id", key.ID)

			fmt.Printf("project_id: %s\napi_key_id: %s\napi_key:    %s\n", project.ID, key.ID, raw)
			fmt.Println("The key is shown only once. Send it as 'Authorization: Bearer <api_key>'.")
			return nil
		},
	}
}

func cmdKeyToken() *cli.Command {
	var (
		databaseCfg config.Database
		authCfg     config.Auth
		projectID   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "project-id",
			Sources:     cli.EnvVars("KITSUNE_PROJECT_ID"),
			Usage:       "Project the session token is issued for",
			Required:    true,
			Destination: &projectID,
		},
	}
	flags = append(flags, databaseCfg.Flags()...)
	flags = append(flags, authCfg.Flags()...)

	return &cli.Command{
		Name:  "token",
		Usage: "Sign a session token for a project",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := parseProjectID(projectID)
			if err != nil {
				return err
			}

			repo, err := databaseCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo)

			authService, err := authCfg.Configure(repo)
			if err != nil {
				return goerr.Wrap(err, "failed to configure authentication")
			}

			token, err := usecase.NewProjectUseCases(repo, authService).IssueSessionToken(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
