package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

const turnColumns = "id, project_id, session_id, agent_id, agent_version_id, version_number, model_name, api_key_id, role, content, tokens_used, prompt_tokens, completion_tokens, seq, created_at"

func scanTurn(row scanner) (*chat.Turn, error) {
	var (
		t                                                  chat.Turn
		id, projectID, sessionID, agentID, versionID, role string
		apiKeyID                                           sql.NullString
		total, prompt, completion                          sql.NullInt64
		createdAt                                          int64
	)
	if err := row.Scan(&id, &projectID, &sessionID, &agentID, &versionID, &t.VersionNumber, &t.ModelName,
		&apiKeyID, &role, &t.Content, &total, &prompt, &completion, &t.Seq, &createdAt); err != nil {
		return nil, err
	}

	t.ID = types.TurnID(id)
	t.ProjectID = types.ProjectID(projectID)
	t.SessionID = types.SessionID(sessionID)
	t.AgentID = types.AgentID(agentID)
	t.AgentVersionID = types.VersionID(versionID)
	t.Role = chat.Role(role)
	t.Usage = chat.Usage{
		TotalTokens:      intPtr(total),
		PromptTokens:     intPtr(prompt),
		CompletionTokens: intPtr(completion),
	}
	t.CreatedAt = fromUnix(createdAt)
	if apiKeyID.Valid {
		kid := types.APIKeyID(apiKeyID.String)
		t.APIKeyID = &kid
	}
	return &t, nil
}

func collectTurns(rows *sql.Rows) ([]*chat.Turn, error) {
	defer rows.Close()

	turns := []*chat.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan turn")
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate turns")
	}
	return turns, nil
}

// AppendTurn allocates the next sequence number from the session counter in
// the same transaction as the insert
func (c *Client) AppendTurn(ctx context.Context, t *chat.Turn) error {
	if !t.Role.IsValid() {
		return goerr.New("invalid role", goerr.T(apperr.ErrTagValidation), goerr.V("role", t.Role))
	}

	var seq int64
	var createdAt time.Time
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"INSERT INTO sessions (project_id, session_id, last_seq) VALUES (?, ?, 1) "+
				"ON CONFLICT (project_id, session_id) DO UPDATE SET last_seq = last_seq + 1 RETURNING last_seq",
			t.ProjectID.String(), t.SessionID.String()).Scan(&seq)
		if err != nil {
			return goerr.Wrap(err, "failed to allocate sequence", goerr.TV(apperr.SessionIDKey, t.SessionID))
		}

		createdAt = time.Now()
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			"SELECT MAX(created_at) FROM turns WHERE project_id = ? AND session_id = ?",
			t.ProjectID.String(), t.SessionID.String()).Scan(&last); err != nil {
			return goerr.Wrap(err, "failed to read last turn time", goerr.TV(apperr.SessionIDKey, t.SessionID))
		}
		if last.Valid && toUnix(createdAt) < last.Int64 {
			createdAt = fromUnix(last.Int64)
		}

		var apiKeyID *string
		if t.APIKeyID != nil {
			s := t.APIKeyID.String()
			apiKeyID = &s
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO turns ("+turnColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			t.ID.String(), t.ProjectID.String(), t.SessionID.String(), t.AgentID.String(),
			t.AgentVersionID.String(), t.VersionNumber, t.ModelName, nullString(apiKeyID),
			string(t.Role), t.Content,
			nullInt(t.Usage.TotalTokens), nullInt(t.Usage.PromptTokens), nullInt(t.Usage.CompletionTokens),
			seq, toUnix(createdAt))
		if err != nil {
			return goerr.Wrap(err, "failed to insert turn", goerr.TV(apperr.SessionIDKey, t.SessionID))
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.Seq = seq
	t.CreatedAt = createdAt
	return nil
}

func (c *Client) LoadHistory(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) ([]*chat.Turn, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+turnColumns+" FROM turns WHERE project_id = ? AND session_id = ? ORDER BY seq ASC",
		projectID.String(), sessionID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load history", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	return collectTurns(rows)
}

func (c *Client) SessionExists(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		"SELECT 1 FROM turns WHERE project_id = ? AND session_id = ? LIMIT 1",
		projectID.String(), sessionID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check session", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	return true, nil
}

var tokenColumns = map[chat.TokenField]string{
	chat.FieldTokensUsed:       "tokens_used",
	chat.FieldPromptTokens:     "prompt_tokens",
	chat.FieldCompletionTokens: "completion_tokens",
}

// SumTokens relies on SUM ignoring NULL and returning NULL when every value is NULL
func (c *Client) SumTokens(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID, field chat.TokenField) (*int, error) {
	column, ok := tokenColumns[field]
	if !ok {
		return nil, goerr.New("unknown token field", goerr.T(apperr.ErrTagValidation), goerr.V("field", field))
	}

	var sum sql.NullInt64
	if err := c.db.QueryRowContext(ctx,
		"SELECT SUM("+column+") FROM turns WHERE project_id = ? AND session_id = ?",
		projectID.String(), sessionID.String()).Scan(&sum); err != nil {
		return nil, goerr.Wrap(err, "failed to sum tokens", goerr.TV(apperr.SessionIDKey, sessionID), goerr.V("field", field))
	}
	return intPtr(sum), nil
}

func (c *Client) DeleteSession(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM turns WHERE project_id = ? AND session_id = ?",
			"DELETE FROM sessions WHERE project_id = ? AND session_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, projectID.String(), sessionID.String()); err != nil {
				return goerr.Wrap(err, "failed to delete session", goerr.TV(apperr.SessionIDKey, sessionID))
			}
		}
		return nil
	})
}

func (c *Client) ListTurns(ctx context.Context, projectID types.ProjectID, filter chat.TurnFilter) ([]*chat.Turn, error) {
	conds := []string{"project_id = ?"}
	args := []any{projectID.String()}
	if filter.AgentID != nil {
		conds = append(conds, "agent_id = ?")
		args = append(args, filter.AgentID.String())
	}
	if filter.VersionNumber != nil {
		conds = append(conds, "version_number = ?")
		args = append(args, *filter.VersionNumber)
	}
	if filter.APIKeyID != nil {
		conds = append(conds, "api_key_id = ?")
		args = append(args, filter.APIKeyID.String())
	}
	if filter.SessionID != nil {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID.String())
	}
	args = append(args, filter.ClampLimit())

	rows, err := c.db.QueryContext(ctx,
		"SELECT "+turnColumns+" FROM turns WHERE "+strings.Join(conds, " AND ")+
			" ORDER BY created_at DESC, seq DESC LIMIT ?",
		args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list turns", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	return collectTurns(rows)
}

const listSessionsQuery = `
SELECT t.session_id, t.agent_id, t.agent_version_id, t.version_number, s.turn_count, s.last_at
FROM (
	SELECT session_id, COUNT(*) AS turn_count, MAX(seq) AS last_seq, MAX(created_at) AS last_at
	FROM turns WHERE project_id = ? GROUP BY session_id
) s
JOIN turns t ON t.project_id = ? AND t.session_id = s.session_id AND t.seq = s.last_seq
WHERE (? = '' OR EXISTS (
	SELECT 1 FROM turns a WHERE a.project_id = t.project_id AND a.session_id = t.session_id AND a.agent_id = ?
))
ORDER BY s.last_at DESC
LIMIT ?`

func (c *Client) ListSessions(ctx context.Context, projectID types.ProjectID, agentID *types.AgentID, limit int) ([]*chat.SessionSummary, error) {
	var agentFilter string
	if agentID != nil {
		agentFilter = agentID.String()
	}

	rows, err := c.db.QueryContext(ctx, listSessionsQuery,
		projectID.String(), projectID.String(), agentFilter, agentFilter,
		chat.TurnFilter{Limit: limit}.ClampLimit())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	defer rows.Close()

	sessions := []*chat.SessionSummary{}
	for rows.Next() {
		var (
			s                             chat.SessionSummary
			sessionID, agentID, versionID string
			lastAt                        int64
		)
		if err := rows.Scan(&sessionID, &agentID, &versionID, &s.VersionNumber, &s.TurnCount, &lastAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan session")
		}
		s.SessionID = types.SessionID(sessionID)
		s.AgentID = types.AgentID(agentID)
		s.AgentVersionID = types.VersionID(versionID)
		s.LastMessageAt = fromUnix(lastAt)
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate sessions")
	}
	return sessions, nil
}
