package memory

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

func (c *Client) CreateProject(ctx context.Context, p *auth.Project) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	projectCopy := *p
	c.projects[p.ID] = &projectCopy
	return nil
}

func (c *Client) GetProject(ctx context.Context, id types.ProjectID) (*auth.Project, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.projects[id]
	if !ok {
		return nil, goerr.Wrap(auth.ErrProjectNotFound, "project not found", goerr.TV(apperr.ProjectIDKey, id))
	}
	projectCopy := *p
	return &projectCopy, nil
}

func (c *Client) CreateAPIKey(ctx context.Context, key *auth.APIKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.projects[key.ProjectID]; !ok {
		return goerr.Wrap(auth.ErrProjectNotFound, "project not found", goerr.TV(apperr.ProjectIDKey, key.ProjectID))
	}
	keyCopy := *key
	c.apiKeys[key.ID] = &keyCopy
	return nil
}

func (c *Client) GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.apiKeys {
		if key.KeyHash == hash {
			keyCopy := *key
			return &keyCopy, nil
		}
	}
	return nil, goerr.Wrap(auth.ErrAPIKeyNotFound, "no key matches the hash")
}

func (c *Client) TouchAPIKey(ctx context.Context, id types.APIKeyID, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.apiKeys[id]
	if !ok {
		return goerr.Wrap(auth.ErrAPIKeyNotFound, "api key not found", goerr.TV(apperr.APIKeyIDKey, id))
	}
	touched := at
	key.LastUsedAt = &touched
	return nil
}
