package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

const profileColumns = "id, project_id, name, encrypted_api_key, base_url, created_at, updated_at"

func scanProfile(row scanner) (*agent.ModelProfile, error) {
	var (
		p                    agent.ModelProfile
		id, projectID        string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &projectID, &p.Name, &p.EncryptedAPIKey, &p.BaseURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.ID = types.ProfileID(id)
	p.ProjectID = types.ProjectID(projectID)
	p.CreatedAt = fromUnix(createdAt)
	p.UpdatedAt = fromUnix(updatedAt)
	return &p, nil
}

func getProfile(ctx context.Context, q querier, projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM model_profiles WHERE id = ? AND project_id = ?",
		id.String(), projectID.String())
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(agent.ErrProfileNotFound, "profile not found",
			goerr.TV(apperr.ProjectIDKey, projectID),
			goerr.TV(apperr.ProfileIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.TV(apperr.ProfileIDKey, id))
	}
	return p, nil
}

func profileNameTaken(ctx context.Context, q querier, projectID types.ProjectID, name string, self types.ProfileID) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx,
		"SELECT id FROM model_profiles WHERE project_id = ? AND name_key = ? AND id != ?",
		projectID.String(), agent.NameKey(name), self.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check profile name", goerr.TV(apperr.ProfileNameKey, name))
	}
	return true, nil
}

func (c *Client) CreateModelProfile(ctx context.Context, p *agent.ModelProfile) error {
	if err := agent.ValidateName(p.Name); err != nil {
		return goerr.Wrap(err, "invalid profile")
	}

	return c.withTx(ctx, func(tx *sql.Tx) error {
		taken, err := profileNameTaken(ctx, tx, p.ProjectID, p.Name, p.ID)
		if err != nil {
			return err
		}
		if taken {
			return goerr.Wrap(agent.ErrProfileNameConflict, "duplicated profile name", goerr.TV(apperr.ProfileNameKey, p.Name))
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO model_profiles (id, project_id, name, name_key, encrypted_api_key, base_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			p.ID.String(), p.ProjectID.String(), p.Name, agent.NameKey(p.Name),
			p.EncryptedAPIKey, p.BaseURL, toUnix(p.CreatedAt), toUnix(p.UpdatedAt))
		if err != nil {
			return goerr.Wrap(err, "failed to insert profile", goerr.TV(apperr.ProfileIDKey, p.ID))
		}
		return nil
	})
}

func (c *Client) GetModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error) {
	return getProfile(ctx, c.db, projectID, id)
}

func (c *Client) GetModelProfileByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.ModelProfile, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM model_profiles WHERE project_id = ? AND name_key = ?",
		projectID.String(), agent.NameKey(name))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(agent.ErrProfileNotFound, "profile not found", goerr.TV(apperr.ProfileNameKey, name))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile by name", goerr.TV(apperr.ProfileNameKey, name))
	}
	return p, nil
}

func (c *Client) ListModelProfiles(ctx context.Context, projectID types.ProjectID) ([]*agent.ModelProfile, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+profileColumns+" FROM model_profiles WHERE project_id = ? ORDER BY created_at DESC",
		projectID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list profiles", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	defer rows.Close()

	var profiles []*agent.ModelProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan profile")
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate profiles")
	}
	return profiles, nil
}

func (c *Client) UpdateModelProfile(ctx context.Context, p *agent.ModelProfile) error {
	if err := agent.ValidateName(p.Name); err != nil {
		return goerr.Wrap(err, "invalid profile")
	}

	now := time.Now()
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProfile(ctx, tx, p.ProjectID, p.ID); err != nil {
			return err
		}
		taken, err := profileNameTaken(ctx, tx, p.ProjectID, p.Name, p.ID)
		if err != nil {
			return err
		}
		if taken {
			return goerr.Wrap(agent.ErrProfileNameConflict, "duplicated profile name", goerr.TV(apperr.ProfileNameKey, p.Name))
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE model_profiles SET name = ?, name_key = ?, encrypted_api_key = ?, base_url = ?, updated_at = ? WHERE id = ?",
			p.Name, agent.NameKey(p.Name), p.EncryptedAPIKey, p.BaseURL, toUnix(now), p.ID.String())
		if err != nil {
			return goerr.Wrap(err, "failed to update profile", goerr.TV(apperr.ProfileIDKey, p.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

func (c *Client) DeleteModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProfile(ctx, tx, projectID, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE agent_versions SET model_profile_id = NULL WHERE model_profile_id = ? AND project_id = ?",
			id.String(), projectID.String()); err != nil {
			return goerr.Wrap(err, "failed to detach profile", goerr.TV(apperr.ProfileIDKey, id))
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM model_profiles WHERE id = ?",
			id.String()); err != nil {
			return goerr.Wrap(err, "failed to delete profile", goerr.TV(apperr.ProfileIDKey, id))
		}
		return nil
	})
}
