package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

func (c *Client) AppendTurn(ctx context.Context, t *chat.Turn) error {
	if !t.Role.IsValid() {
		return goerr.New("invalid role", goerr.T(apperr.ErrTagValidation), goerr.V("role", t.Role))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey{projectID: t.ProjectID, sessionID: t.SessionID}
	turns := c.turns[key]

	c.lastSeq[key]++
	t.Seq = c.lastSeq[key]
	t.CreatedAt = time.Now()
	if len(turns) > 0 && t.CreatedAt.Before(turns[len(turns)-1].CreatedAt) {
		t.CreatedAt = turns[len(turns)-1].CreatedAt
	}

	c.turns[key] = append(turns, t.Copy())
	return nil
}

func (c *Client) LoadHistory(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) ([]*chat.Turn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stored := c.turns[sessionKey{projectID: projectID, sessionID: sessionID}]
	turns := make([]*chat.Turn, 0, len(stored))
	for _, t := range stored {
		turns = append(turns, t.Copy())
	}
	return turns, nil
}

func (c *Client) SessionExists(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.turns[sessionKey{projectID: projectID, sessionID: sessionID}]) > 0, nil
}

func (c *Client) SumTokens(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID, field chat.TokenField) (*int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total *int
	for _, t := range c.turns[sessionKey{projectID: projectID, sessionID: sessionID}] {
		v := field.Of(t.Usage)
		if v == nil {
			continue
		}
		if total == nil {
			total = new(int)
		}
		*total += *v
	}
	return total, nil
}

func (c *Client) DeleteSession(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey{projectID: projectID, sessionID: sessionID}
	delete(c.turns, key)
	delete(c.lastSeq, key)
	return nil
}

// deleteTurnsOfVersion must be called with the write lock held
func (c *Client) deleteTurnsOfVersion(projectID types.ProjectID, versionID types.VersionID) {
	for key, turns := range c.turns {
		if key.projectID != projectID {
			continue
		}
		kept := turns[:0]
		for _, t := range turns {
			if t.AgentVersionID != versionID {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(c.turns, key)
		} else {
			c.turns[key] = kept
		}
	}
}

func (c *Client) ListTurns(ctx context.Context, projectID types.ProjectID, filter chat.TurnFilter) ([]*chat.Turn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var turns []*chat.Turn
	for key, stored := range c.turns {
		if key.projectID != projectID {
			continue
		}
		for _, t := range stored {
			if filter.Match(t) {
				turns = append(turns, t.Copy())
			}
		}
	}

	sort.Slice(turns, func(i, j int) bool {
		if !turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].CreatedAt.After(turns[j].CreatedAt)
		}
		return turns[i].Seq > turns[j].Seq
	})

	if limit := filter.ClampLimit(); len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

func (c *Client) ListSessions(ctx context.Context, projectID types.ProjectID, agentID *types.AgentID, limit int) ([]*chat.SessionSummary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sessions []*chat.SessionSummary
	for key, turns := range c.turns {
		if key.projectID != projectID || len(turns) == 0 {
			continue
		}
		last := turns[len(turns)-1]
		if agentID != nil && !slices.ContainsFunc(turns, func(t *chat.Turn) bool { return t.AgentID == *agentID }) {
			continue
		}
		sessions = append(sessions, &chat.SessionSummary{
			SessionID:      key.sessionID,
			AgentID:        last.AgentID,
			AgentVersionID: last.AgentVersionID,
			VersionNumber:  last.VersionNumber,
			TurnCount:      len(turns),
			LastMessageAt:  last.CreatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastMessageAt.After(sessions[j].LastMessageAt)
	})

	limit = chat.TurnFilter{Limit: limit}.ClampLimit()
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
