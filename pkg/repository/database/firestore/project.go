package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (c *Client) CreateProject(ctx context.Context, p *auth.Project) error {
	doc := &projectDoc{
		ID:        p.ID.String(),
		Name:      p.Name,
		CreatedAt: p.CreatedAt,
	}
	if _, err := c.client.Collection(collectionProjects).Doc(p.ID.String()).Create(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to create project", goerr.TV(apperr.ProjectIDKey, p.ID))
	}
	return nil
}

func (c *Client) GetProject(ctx context.Context, id types.ProjectID) (*auth.Project, error) {
	snap, err := c.client.Collection(collectionProjects).Doc(id.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(auth.ErrProjectNotFound, "project not found", goerr.TV(apperr.ProjectIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get project", goerr.TV(apperr.ProjectIDKey, id))
	}

	var doc projectDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal project", goerr.TV(apperr.ProjectIDKey, id))
	}
	return &auth.Project{
		ID:        types.ProjectID(doc.ID),
		Name:      doc.Name,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (c *Client) CreateAPIKey(ctx context.Context, key *auth.APIKey) error {
	if _, err := c.GetProject(ctx, key.ProjectID); err != nil {
		return err
	}
	if _, err := c.client.Collection(collectionAPIKeys).Doc(key.ID.String()).Create(ctx, apiKeyToDoc(key)); err != nil {
		return goerr.Wrap(err, "failed to create api key", goerr.TV(apperr.APIKeyIDKey, key.ID))
	}
	return nil
}

func (c *Client) GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	iter := c.client.Collection(collectionAPIKeys).
		Where("key_hash", "==", hash).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(auth.ErrAPIKeyNotFound, "no key matches the hash")
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query api key")
	}

	var doc apiKeyDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal api key", goerr.V("doc_id", snap.Ref.ID))
	}
	return docToAPIKey(&doc), nil
}

func (c *Client) TouchAPIKey(ctx context.Context, id types.APIKeyID, at time.Time) error {
	_, err := c.client.Collection(collectionAPIKeys).Doc(id.String()).Update(ctx, []firestore.Update{
		{Path: "last_used_at", Value: at},
	})
	if status.Code(err) == codes.NotFound {
		return goerr.Wrap(auth.ErrAPIKeyNotFound, "api key not found", goerr.TV(apperr.APIKeyIDKey, id))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to touch api key", goerr.TV(apperr.APIKeyIDKey, id))
	}
	return nil
}
