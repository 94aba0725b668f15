package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/repository/database/firestore"
	"github.com/m-mizutani/kitsune/pkg/repository/database/memory"
	"github.com/m-mizutani/kitsune/pkg/repository/database/sqlite"
	"github.com/urfave/cli/v3"
)

const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Database selects and configures the storage backend
type Database struct {
	Backend             string
	SQLitePath          string
	FirestoreProjectID  string
	FirestoreDatabaseID string
}

func (x *Database) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-backend",
			Category:    "database",
			Sources:     cli.EnvVars("KITSUNE_DB_BACKEND"),
			Usage:       "Storage backend [memory|sqlite|firestore]",
			Value:       BackendMemory,
			Destination: &x.Backend,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Category:    "database",
			Sources:     cli.EnvVars("KITSUNE_SQLITE_PATH"),
			Usage:       "Database file for the sqlite backend",
			Value:       "kitsune.db",
			Destination: &x.SQLitePath,
		},
		&cli.StringFlag{
			Name:        "firestore-project-id",
			Category:    "database",
			Sources:     cli.EnvVars("KITSUNE_FIRESTORE_PROJECT_ID"),
			Usage:       "Google Cloud project ID for the firestore backend",
			Destination: &x.FirestoreProjectID,
		},
		&cli.StringFlag{
			Name:        "firestore-database-id",
			Category:    "database",
			Sources:     cli.EnvVars("KITSUNE_FIRESTORE_DATABASE_ID"),
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Destination: &x.FirestoreDatabaseID,
		},
	}
}

func (x Database) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("backend", x.Backend)}
	switch x.Backend {
	case BackendSQLite:
		attrs = append(attrs, slog.String("sqlite_path", x.SQLitePath))
	case BackendFirestore:
		attrs = append(attrs,
			slog.String("firestore_project_id", x.FirestoreProjectID),
			slog.String("firestore_database_id", x.FirestoreDatabaseID),
		)
	}
	return slog.GroupValue(attrs...)
}

// Configure opens the selected backend. The caller closes it.
func (x *Database) Configure(ctx context.Context) (interfaces.Repository, error) {
	switch x.Backend {
	case BackendMemory, "":
		return memory.New(), nil

	case BackendSQLite:
		if x.SQLitePath == "" {
			return nil, goerr.New("sqlite-path is required for the sqlite backend")
		}
		repo, err := sqlite.New(ctx, x.SQLitePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", x.SQLitePath))
		}
		return repo, nil

	case BackendFirestore:
		if x.FirestoreProjectID == "" {
			return nil, goerr.New("firestore-project-id is required for the firestore backend")
		}
		databaseID := x.FirestoreDatabaseID
		if databaseID == "" {
			databaseID = "(default)"
		}
		repo, err := firestore.New(ctx, x.FirestoreProjectID, databaseID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to connect firestore",
				goerr.V("project_id", x.FirestoreProjectID),
				goerr.V("database_id", databaseID))
		}
		return repo, nil
	}

	return nil, goerr.New("unknown database backend",
		goerr.V("backend", x.Backend),
		goerr.V("valid_backends", []string{BackendMemory, BackendSQLite, BackendFirestore}))
}
