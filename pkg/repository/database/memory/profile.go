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

func (c *Client) findProfileByName(projectID types.ProjectID, name string) *agent.ModelProfile {
	key := agent.NameKey(name)
	for _, p := range c.profiles {
		if p.ProjectID == projectID && agent.NameKey(p.Name) == key {
			return p
		}
	}
	return nil
}

func (c *Client) lookupProfile(projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error) {
	p, ok := c.profiles[id]
	if !ok || p.ProjectID != projectID {
		return nil, goerr.Wrap(agent.ErrProfileNotFound, "profile not found",
			goerr.TV(apperr.ProjectIDKey, projectID),
			goerr.TV(apperr.ProfileIDKey, id))
	}
	return p, nil
}

func (c *Client) CreateModelProfile(ctx context.Context, p *agent.ModelProfile) error {
	if err := agent.ValidateName(p.Name); err != nil {
		return goerr.Wrap(err, "invalid profile")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.findProfileByName(p.ProjectID, p.Name) != nil {
		return goerr.Wrap(agent.ErrProfileNameConflict, "duplicated profile name", goerr.TV(apperr.ProfileNameKey, p.Name))
	}
	profileCopy := *p
	c.profiles[p.ID] = &profileCopy
	return nil
}

func (c *Client) GetModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, err := c.lookupProfile(projectID, id)
	if err != nil {
		return nil, err
	}
	profileCopy := *p
	return &profileCopy, nil
}

func (c *Client) GetModelProfileByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.ModelProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := c.findProfileByName(projectID, name)
	if p == nil {
		return nil, goerr.Wrap(agent.ErrProfileNotFound, "profile not found", goerr.TV(apperr.ProfileNameKey, name))
	}
	profileCopy := *p
	return &profileCopy, nil
}

func (c *Client) ListModelProfiles(ctx context.Context, projectID types.ProjectID) ([]*agent.ModelProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var profiles []*agent.ModelProfile
	for _, p := range c.profiles {
		if p.ProjectID == projectID {
			profileCopy := *p
			profiles = append(profiles, &profileCopy)
		}
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].CreatedAt.After(profiles[j].CreatedAt)
	})
	return profiles, nil
}

func (c *Client) UpdateModelProfile(ctx context.Context, p *agent.ModelProfile) error {
	if err := agent.ValidateName(p.Name); err != nil {
		return goerr.Wrap(err, "invalid profile")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.lookupProfile(p.ProjectID, p.ID)
	if err != nil {
		return err
	}
	if other := c.findProfileByName(p.ProjectID, p.Name); other != nil && other.ID != p.ID {
		return goerr.Wrap(agent.ErrProfileNameConflict, "duplicated profile name", goerr.TV(apperr.ProfileNameKey, p.Name))
	}

	existing.Name = p.Name
	existing.EncryptedAPIKey = p.EncryptedAPIKey
	existing.BaseURL = p.BaseURL
	existing.UpdatedAt = time.Now()
	p.UpdatedAt = existing.UpdatedAt
	return nil
}

func (c *Client) DeleteModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lookupProfile(projectID, id); err != nil {
		return err
	}

	for _, versions := range c.versions {
		for _, v := range versions {
			if v.ModelProfileID != nil && *v.ModelProfileID == id {
				v.ModelProfileID = nil
			}
		}
	}
	delete(c.profiles, id)
	return nil
}
