package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

func (c *Client) CreateProject(ctx context.Context, p *auth.Project) error {
	if _, err := c.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)",
		p.ID.String(), p.Name, toUnix(p.CreatedAt)); err != nil {
		return goerr.Wrap(err, "failed to insert project", goerr.TV(apperr.ProjectIDKey, p.ID))
	}
	return nil
}

func (c *Client) GetProject(ctx context.Context, id types.ProjectID) (*auth.Project, error) {
	var (
		p         auth.Project
		pid       string
		createdAt int64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM projects WHERE id = ?",
		id.String()).Scan(&pid, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(auth.ErrProjectNotFound, "project not found", goerr.TV(apperr.ProjectIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get project", goerr.TV(apperr.ProjectIDKey, id))
	}
	p.ID = types.ProjectID(pid)
	p.CreatedAt = fromUnix(createdAt)
	return &p, nil
}

func (c *Client) CreateAPIKey(ctx context.Context, key *auth.APIKey) error {
	if _, err := c.GetProject(ctx, key.ProjectID); err != nil {
		return err
	}

	var lastUsed sql.NullInt64
	if key.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toUnix(*key.LastUsedAt), Valid: true}
	}
	if _, err := c.db.ExecContext(ctx,
		"INSERT INTO api_keys (id, project_id, name, key_hash, masked, created_at, last_used_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		key.ID.String(), key.ProjectID.String(), key.Name, key.KeyHash, key.Masked,
		toUnix(key.CreatedAt), lastUsed); err != nil {
		return goerr.Wrap(err, "failed to insert api key", goerr.TV(apperr.APIKeyIDKey, key.ID))
	}
	return nil
}

func (c *Client) GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	var (
		key           auth.APIKey
		id, projectID string
		createdAt     int64
		lastUsed      sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT id, project_id, name, key_hash, masked, created_at, last_used_at FROM api_keys WHERE key_hash = ?",
		hash).Scan(&id, &projectID, &key.Name, &key.KeyHash, &key.Masked, &createdAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(auth.ErrAPIKeyNotFound, "no key matches the hash")
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get api key")
	}

	key.ID = types.APIKeyID(id)
	key.ProjectID = types.ProjectID(projectID)
	key.CreatedAt = fromUnix(createdAt)
	if lastUsed.Valid {
		at := fromUnix(lastUsed.Int64)
		key.LastUsedAt = &at
	}
	return &key, nil
}

func (c *Client) TouchAPIKey(ctx context.Context, id types.APIKeyID, at time.Time) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?",
		toUnix(at), id.String())
	if err != nil {
		return goerr.Wrap(err, "failed to touch api key", goerr.TV(apperr.APIKeyIDKey, id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(auth.ErrAPIKeyNotFound, "api key not found", goerr.TV(apperr.APIKeyIDKey, id))
	}
	return nil
}
