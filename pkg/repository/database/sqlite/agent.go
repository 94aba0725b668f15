package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const agentColumns = "id, project_id, name, description, last_version_number, created_at, updated_at"

func scanAgent(row scanner) (*agent.Agent, error) {
	var (
		a                    agent.Agent
		id, projectID        string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &projectID, &a.Name, &a.Description, &a.LastVersionNumber, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.ID = types.AgentID(id)
	a.ProjectID = types.ProjectID(projectID)
	a.CreatedAt = fromUnix(createdAt)
	a.UpdatedAt = fromUnix(updatedAt)
	return &a, nil
}

func getAgent(ctx context.Context, q querier, projectID types.ProjectID, id types.AgentID) (*agent.Agent, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = ? AND project_id = ?",
		id.String(), projectID.String())
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(agent.ErrAgentNotFound, "agent not found",
			goerr.TV(apperr.ProjectIDKey, projectID),
			goerr.TV(apperr.AgentIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get agent", goerr.TV(apperr.AgentIDKey, id))
	}
	return a, nil
}

// agentNameTaken reports whether another agent of the project uses name
func agentNameTaken(ctx context.Context, q querier, projectID types.ProjectID, name string, self types.AgentID) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx,
		"SELECT id FROM agents WHERE project_id = ? AND name_key = ? AND id != ?",
		projectID.String(), agent.NameKey(name), self.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check agent name", goerr.TV(apperr.AgentNameKey, name))
	}
	return true, nil
}

func (c *Client) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent")
	}

	return c.withTx(ctx, func(tx *sql.Tx) error {
		taken, err := agentNameTaken(ctx, tx, a.ProjectID, a.Name, a.ID)
		if err != nil {
			return err
		}
		if taken {
			return goerr.Wrap(agent.ErrAgentNameConflict, "duplicated agent name", goerr.TV(apperr.AgentNameKey, a.Name))
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO agents (id, project_id, name, name_key, description, last_version_number, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			a.ID.String(), a.ProjectID.String(), a.Name, agent.NameKey(a.Name), a.Description,
			a.LastVersionNumber, toUnix(a.CreatedAt), toUnix(a.UpdatedAt))
		if err != nil {
			return goerr.Wrap(err, "failed to insert agent", goerr.TV(apperr.AgentIDKey, a.ID))
		}
		return nil
	})
}

func (c *Client) GetAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) (*agent.Agent, error) {
	return getAgent(ctx, c.db, projectID, id)
}

func (c *Client) GetAgentByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.Agent, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE project_id = ? AND name_key = ?",
		projectID.String(), agent.NameKey(name))
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(agent.ErrAgentNotFound, "agent not found",
			goerr.TV(apperr.ProjectIDKey, projectID),
			goerr.TV(apperr.AgentNameKey, name))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get agent by name", goerr.TV(apperr.AgentNameKey, name))
	}
	return a, nil
}

func (c *Client) ListAgents(ctx context.Context, projectID types.ProjectID) ([]*agent.Agent, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE project_id = ? ORDER BY created_at DESC",
		projectID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list agents", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan agent")
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate agents")
	}
	return agents, nil
}

func (c *Client) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent")
	}

	now := time.Now()
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getAgent(ctx, tx, a.ProjectID, a.ID); err != nil {
			return err
		}
		taken, err := agentNameTaken(ctx, tx, a.ProjectID, a.Name, a.ID)
		if err != nil {
			return err
		}
		if taken {
			return goerr.Wrap(agent.ErrAgentNameConflict, "duplicated agent name", goerr.TV(apperr.AgentNameKey, a.Name))
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE agents SET name = ?, name_key = ?, description = ?, updated_at = ? WHERE id = ?",
			a.Name, agent.NameKey(a.Name), a.Description, toUnix(now), a.ID.String())
		if err != nil {
			return goerr.Wrap(err, "failed to update agent", goerr.TV(apperr.AgentIDKey, a.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

func (c *Client) DeleteAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getAgent(ctx, tx, projectID, id); err != nil {
			return err
		}

		for _, stmt := range []string{
			"DELETE FROM turns WHERE agent_id = ? AND project_id = ?",
			"DELETE FROM agent_versions WHERE agent_id = ? AND project_id = ?",
			"DELETE FROM agents WHERE id = ? AND project_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, id.String(), projectID.String()); err != nil {
				return goerr.Wrap(err, "failed to delete agent", goerr.TV(apperr.AgentIDKey, id))
			}
		}
		return nil
	})
}

const versionColumns = "id, agent_id, project_id, version_number, system_prompt, model_name, encrypted_api_key, base_url, model_profile_id, temperature, max_tokens, top_p, frequency_penalty, presence_penalty, stop_sequences, notes, is_active, created_at"

func scanVersion(row scanner) (*agent.AgentVersion, error) {
	var (
		v                      agent.AgentVersion
		id, agentID, projectID string
		profileID              sql.NullString
		stopSequences          string
		isActive               int
		createdAt              int64
	)
	if err := row.Scan(&id, &agentID, &projectID, &v.VersionNumber, &v.SystemPrompt, &v.ModelName,
		&v.Credential.EncryptedAPIKey, &v.Credential.BaseURL, &profileID,
		&v.Params.Temperature, &v.Params.MaxTokens, &v.Params.TopP,
		&v.Params.FrequencyPenalty, &v.Params.PresencePenalty, &stopSequences,
		&v.Notes, &isActive, &createdAt); err != nil {
		return nil, err
	}

	v.ID = types.VersionID(id)
	v.AgentID = types.AgentID(agentID)
	v.ProjectID = types.ProjectID(projectID)
	v.IsActive = isActive != 0
	v.CreatedAt = fromUnix(createdAt)
	if profileID.Valid {
		pid := types.ProfileID(profileID.String)
		v.ModelProfileID = &pid
	}
	if err := json.Unmarshal([]byte(stopSequences), &v.Params.StopSequences); err != nil {
		return nil, goerr.Wrap(err, "failed to decode stop sequences", goerr.TV(apperr.VersionIDKey, v.ID))
	}
	if len(v.Params.StopSequences) == 0 {
		v.Params.StopSequences = nil
	}
	return &v, nil
}

func (c *Client) CreateAgentVersion(ctx context.Context, v *agent.AgentVersion) error {
	if err := v.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent version")
	}

	stop, err := json.Marshal(v.Params.StopSequences)
	if err != nil {
		return goerr.Wrap(err, "failed to encode stop sequences")
	}
	if v.Params.StopSequences == nil {
		stop = []byte("[]")
	}

	var number int
	err = c.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAgent(ctx, tx, v.ProjectID, v.AgentID)
		if err != nil {
			return err
		}
		number = a.LastVersionNumber + 1

		if _, err := tx.ExecContext(ctx,
			"UPDATE agents SET last_version_number = ? WHERE id = ?",
			number, a.ID.String()); err != nil {
			return goerr.Wrap(err, "failed to allocate version number", goerr.TV(apperr.AgentIDKey, a.ID))
		}

		var profileID *string
		if v.ModelProfileID != nil {
			s := v.ModelProfileID.String()
			profileID = &s
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO agent_versions ("+versionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			v.ID.String(), v.AgentID.String(), v.ProjectID.String(), number, v.SystemPrompt, v.ModelName,
			v.Credential.EncryptedAPIKey, v.Credential.BaseURL, nullString(profileID),
			v.Params.Temperature, v.Params.MaxTokens, v.Params.TopP,
			v.Params.FrequencyPenalty, v.Params.PresencePenalty, string(stop),
			v.Notes, boolToInt(v.IsActive), toUnix(v.CreatedAt))
		if err != nil {
			return goerr.Wrap(err, "failed to insert version", goerr.TV(apperr.VersionIDKey, v.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}

	v.VersionNumber = number
	return nil
}

func getVersion(ctx context.Context, q querier, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	if _, err := getAgent(ctx, q, projectID, agentID); err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM agent_versions WHERE id = ? AND agent_id = ?",
		id.String(), agentID.String())
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(agent.ErrVersionNotFound, "version not found",
			goerr.TV(apperr.AgentIDKey, agentID),
			goerr.TV(apperr.VersionIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get version", goerr.TV(apperr.VersionIDKey, id))
	}
	return v, nil
}

func (c *Client) GetAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	return getVersion(ctx, c.db, projectID, agentID, id)
}

func (c *Client) GetAgentVersionByNumber(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, number int) (*agent.AgentVersion, error) {
	if _, err := getAgent(ctx, c.db, projectID, agentID); err != nil {
		return nil, err
	}
	row := c.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM agent_versions WHERE agent_id = ? AND version_number = ?",
		agentID.String(), number)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(agent.ErrVersionNotFound, "version not found",
			goerr.TV(apperr.AgentIDKey, agentID),
			goerr.TV(apperr.VersionNumberKey, number))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get version", goerr.TV(apperr.VersionNumberKey, number))
	}
	return v, nil
}

func (c *Client) GetActiveAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) (*agent.AgentVersion, error) {
	if _, err := getAgent(ctx, c.db, projectID, agentID); err != nil {
		return nil, err
	}
	row := c.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM agent_versions WHERE agent_id = ? AND is_active = 1",
		agentID.String())
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get active version", goerr.TV(apperr.AgentIDKey, agentID))
	}
	return v, nil
}

func (c *Client) ListAgentVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) ([]*agent.AgentVersion, error) {
	if _, err := getAgent(ctx, c.db, projectID, agentID); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM agent_versions WHERE agent_id = ? ORDER BY version_number DESC",
		agentID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list versions", goerr.TV(apperr.AgentIDKey, agentID))
	}
	defer rows.Close()

	var versions []*agent.AgentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan version")
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate versions")
	}
	return versions, nil
}

// ActivateAgentVersion clears the current flag before setting the new one.
// The partial unique index rejects any state with two active versions.
func (c *Client) ActivateAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	var activated *agent.AgentVersion
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		v, err := getVersion(ctx, tx, projectID, agentID, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE agent_versions SET is_active = 0 WHERE agent_id = ? AND is_active = 1",
			agentID.String()); err != nil {
			return goerr.Wrap(err, "failed to deactivate versions", goerr.TV(apperr.AgentIDKey, agentID))
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE agent_versions SET is_active = 1 WHERE id = ?",
			id.String()); err != nil {
			return goerr.Wrap(err, "failed to activate version", goerr.TV(apperr.VersionIDKey, id))
		}
		v.IsActive = true
		activated = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

func (c *Client) DeleteAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getVersion(ctx, tx, projectID, agentID, id); err != nil {
			return err
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM agent_versions WHERE agent_id = ?",
			agentID.String()).Scan(&count); err != nil {
			return goerr.Wrap(err, "failed to count versions", goerr.TV(apperr.AgentIDKey, agentID))
		}
		if count <= 1 {
			return goerr.Wrap(agent.ErrLastVersion, "refused to delete the last version",
				goerr.TV(apperr.AgentIDKey, agentID),
				goerr.TV(apperr.VersionIDKey, id))
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM turns WHERE agent_version_id = ? AND project_id = ?",
			id.String(), projectID.String()); err != nil {
			return goerr.Wrap(err, "failed to delete turns of version", goerr.TV(apperr.VersionIDKey, id))
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM agent_versions WHERE id = ?",
			id.String()); err != nil {
			return goerr.Wrap(err, "failed to delete version", goerr.TV(apperr.VersionIDKey, id))
		}
		return nil
	})
}
