package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	_ "modernc.org/sqlite"
)

// Client is a SQLite implementation of interfaces.Repository. The pool is
// limited to one connection, so transactions are serialized and the
// read-then-write steps of version numbering and activation are atomic.
type Client struct {
	db *sql.DB
}

var _ interfaces.Repository = (*Client)(nil)

// New opens or creates the database at path and applies the schema
func New(ctx context.Context, path string) (*Client, error) {
	if path == "" {
		return nil, goerr.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to set pragma", goerr.V("pragma", pragma))
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	key_hash     TEXT NOT NULL UNIQUE,
	masked       TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	last_used_at INTEGER
);

CREATE TABLE IF NOT EXISTS agents (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	name                TEXT NOT NULL,
	name_key            TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	last_version_number INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	UNIQUE (project_id, name_key)
);

CREATE TABLE IF NOT EXISTS agent_versions (
	id                TEXT PRIMARY KEY,
	agent_id          TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	project_id        TEXT NOT NULL,
	version_number    INTEGER NOT NULL,
	system_prompt     TEXT NOT NULL,
	model_name        TEXT NOT NULL,
	encrypted_api_key TEXT NOT NULL,
	base_url          TEXT NOT NULL DEFAULT '',
	model_profile_id  TEXT,
	temperature       REAL NOT NULL,
	max_tokens        INTEGER NOT NULL,
	top_p             REAL NOT NULL,
	frequency_penalty REAL NOT NULL,
	presence_penalty  REAL NOT NULL,
	stop_sequences    TEXT NOT NULL DEFAULT '[]',
	notes             TEXT NOT NULL DEFAULT '',
	is_active         INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	UNIQUE (agent_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS agent_versions_one_active
	ON agent_versions (agent_id) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS model_profiles (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	name              TEXT NOT NULL,
	name_key          TEXT NOT NULL,
	encrypted_api_key TEXT NOT NULL,
	base_url          TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	UNIQUE (project_id, name_key)
);

CREATE TABLE IF NOT EXISTS sessions (
	project_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	last_seq   INTEGER NOT NULL,
	PRIMARY KEY (project_id, session_id)
);

CREATE TABLE IF NOT EXISTS turns (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	session_id        TEXT NOT NULL,
	agent_id          TEXT NOT NULL,
	agent_version_id  TEXT NOT NULL,
	version_number    INTEGER NOT NULL,
	model_name        TEXT NOT NULL,
	api_key_id        TEXT,
	role              TEXT NOT NULL,
	content           TEXT NOT NULL,
	tokens_used       INTEGER,
	prompt_tokens     INTEGER,
	completion_tokens INTEGER,
	seq               INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	UNIQUE (project_id, session_id, seq)
);

CREATE INDEX IF NOT EXISTS turns_project_created ON turns (project_id, created_at);
CREATE INDEX IF NOT EXISTS turns_version ON turns (agent_version_id);
`

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to migrate sqlite schema", goerr.V("statement", stmt))
		}
	}
	return nil
}

// withTx runs fn in a transaction and commits when fn succeeds
func (c *Client) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit transaction")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// Times are stored as unix nanoseconds so that ORDER BY follows time order
func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
