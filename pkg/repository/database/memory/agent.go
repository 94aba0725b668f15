package memory

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

func (c *Client) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.findAgentByName(a.ProjectID, a.Name) != nil {
		return goerr.Wrap(agent.ErrAgentNameConflict, "duplicated agent name", goerr.TV(apperr.AgentNameKey, a.Name))
	}

	// Store a copy to avoid external modifications
	agentCopy := *a
	c.agents[a.ID] = &agentCopy
	c.versions[a.ID] = make(map[types.VersionID]*agent.AgentVersion)
	return nil
}

// lookupAgent must be called with the lock held
func (c *Client) lookupAgent(projectID types.ProjectID, id types.AgentID) (*agent.Agent, error) {
	a, ok := c.agents[id]
	if !ok || a.ProjectID != projectID {
		return nil, goerr.Wrap(agent.ErrAgentNotFound, "agent not found",
			goerr.TV(apperr.ProjectIDKey, projectID),
			goerr.TV(apperr.AgentIDKey, id))
	}
	return a, nil
}

func (c *Client) findAgentByName(projectID types.ProjectID, name string) *agent.Agent {
	key := agent.NameKey(name)
	for _, a := range c.agents {
		if a.ProjectID == projectID && agent.NameKey(a.Name) == key {
			return a
		}
	}
	return nil
}

func (c *Client) GetAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) (*agent.Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, err := c.lookupAgent(projectID, id)
	if err != nil {
		return nil, err
	}
	agentCopy := *a
	return &agentCopy, nil
}

func (c *Client) GetAgentByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a := c.findAgentByName(projectID, name)
	if a == nil {
		return nil, goerr.Wrap(agent.ErrAgentNotFound, "agent not found",
			goerr.TV(apperr.ProjectIDKey, projectID),
			goerr.TV(apperr.AgentNameKey, name))
	}
	agentCopy := *a
	return &agentCopy, nil
}

func (c *Client) ListAgents(ctx context.Context, projectID types.ProjectID) ([]*agent.Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var agents []*agent.Agent
	for _, a := range c.agents {
		if a.ProjectID == projectID {
			agentCopy := *a
			agents = append(agents, &agentCopy)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.After(agents[j].CreatedAt)
	})
	return agents, nil
}

func (c *Client) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.lookupAgent(a.ProjectID, a.ID)
	if err != nil {
		return err
	}
	if other := c.findAgentByName(a.ProjectID, a.Name); other != nil && other.ID != a.ID {
		return goerr.Wrap(agent.ErrAgentNameConflict, "duplicated agent name", goerr.TV(apperr.AgentNameKey, a.Name))
	}

	existing.Name = a.Name
	existing.Description = a.Description
	existing.UpdatedAt = time.Now()
	a.UpdatedAt = existing.UpdatedAt
	return nil
}

func (c *Client) DeleteAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lookupAgent(projectID, id); err != nil {
		return err
	}

	for versionID := range c.versions[id] {
		c.deleteTurnsOfVersion(projectID, versionID)
	}
	delete(c.versions, id)
	delete(c.agents, id)
	return nil
}

func (c *Client) CreateAgentVersion(ctx context.Context, v *agent.AgentVersion) error {
	if err := v.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent version")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.lookupAgent(v.ProjectID, v.AgentID)
	if err != nil {
		return err
	}

	a.LastVersionNumber++
	v.VersionNumber = a.LastVersionNumber
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	c.versions[a.ID][v.ID] = v.Copy()
	return nil
}

func (c *Client) lookupVersion(projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	if _, err := c.lookupAgent(projectID, agentID); err != nil {
		return nil, err
	}
	v, ok := c.versions[agentID][id]
	if !ok {
		return nil, goerr.Wrap(agent.ErrVersionNotFound, "version not found",
			goerr.TV(apperr.AgentIDKey, agentID),
			goerr.TV(apperr.VersionIDKey, id))
	}
	return v, nil
}

func (c *Client) GetAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, err := c.lookupVersion(projectID, agentID, id)
	if err != nil {
		return nil, err
	}
	return v.Copy(), nil
}

func (c *Client) GetAgentVersionByNumber(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, number int) (*agent.AgentVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.lookupAgent(projectID, agentID); err != nil {
		return nil, err
	}
	for _, v := range c.versions[agentID] {
		if v.VersionNumber == number {
			return v.Copy(), nil
		}
	}
	return nil, goerr.Wrap(agent.ErrVersionNotFound, "version not found",
		goerr.TV(apperr.AgentIDKey, agentID),
		goerr.TV(apperr.VersionNumberKey, number))
}

func (c *Client) GetActiveAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) (*agent.AgentVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.lookupAgent(projectID, agentID); err != nil {
		return nil, err
	}
	for _, v := range c.versions[agentID] {
		if v.IsActive {
			return v.Copy(), nil
		}
	}
	return nil, nil
}

func (c *Client) ListAgentVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) ([]*agent.AgentVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.lookupAgent(projectID, agentID); err != nil {
		return nil, err
	}

	versions := make([]*agent.AgentVersion, 0, len(c.versions[agentID]))
	for _, v := range c.versions[agentID] {
		versions = append(versions, v.Copy())
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionNumber > versions[j].VersionNumber
	})
	return versions, nil
}

func (c *Client) ActivateAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, err := c.lookupVersion(projectID, agentID, id)
	if err != nil {
		return nil, err
	}
	for _, v := range c.versions[agentID] {
		v.IsActive = false
	}
	target.IsActive = true
	return target.Copy(), nil
}

func (c *Client) DeleteAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lookupVersion(projectID, agentID, id); err != nil {
		return err
	}
	if len(c.versions[agentID]) <= 1 {
		return goerr.Wrap(agent.ErrLastVersion, "refused to delete the last version",
			goerr.TV(apperr.AgentIDKey, agentID),
			goerr.TV(apperr.VersionIDKey, id))
	}

	c.deleteTurnsOfVersion(projectID, id)
	delete(c.versions[agentID], id)
	return nil
}
