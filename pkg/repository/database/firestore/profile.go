package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (c *Client) profileRef(id types.ProfileID) *firestore.DocumentRef {
	return c.client.Collection(collectionProfiles).Doc(id.String())
}

func (c *Client) profileNameQuery(projectID types.ProjectID, name string) firestore.Query {
	return c.client.Collection(collectionProfiles).
		Where("project_id", "==", projectID.String()).
		Where("name_key", "==", agent.NameKey(name)).
		Limit(2)
}

func (c *Client) getProfileDoc(ctx context.Context, tx *firestore.Transaction, projectID types.ProjectID, id types.ProfileID) (*profileDoc, error) {
	notFound := goerr.Wrap(agent.ErrProfileNotFound, "profile not found",
		goerr.TV(apperr.ProjectIDKey, projectID),
		goerr.TV(apperr.ProfileIDKey, id))
	if !id.IsValid() {
		return nil, notFound
	}

	var snap *firestore.DocumentSnapshot
	var err error
	if tx != nil {
		snap, err = tx.Get(c.profileRef(id))
	} else {
		snap, err = c.profileRef(id).Get(ctx)
	}
	if status.Code(err) == codes.NotFound {
		return nil, notFound
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.TV(apperr.ProfileIDKey, id))
	}

	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal profile", goerr.TV(apperr.ProfileIDKey, id))
	}
	if doc.ProjectID != projectID.String() {
		return nil, notFound
	}
	return &doc, nil
}

func (c *Client) CreateModelProfile(ctx context.Context, p *agent.ModelProfile) error {
	if err := agent.ValidateName(p.Name); err != nil {
		return goerr.Wrap(err, "invalid profile")
	}

	return c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(c.profileNameQuery(p.ProjectID, p.Name)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to query profiles by name", goerr.TV(apperr.ProfileNameKey, p.Name))
		}
		if len(docs) > 0 {
			return goerr.Wrap(agent.ErrProfileNameConflict, "duplicated profile name", goerr.TV(apperr.ProfileNameKey, p.Name))
		}
		return tx.Create(c.profileRef(p.ID), profileToDoc(p))
	})
}

func (c *Client) GetModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error) {
	doc, err := c.getProfileDoc(ctx, nil, projectID, id)
	if err != nil {
		return nil, err
	}
	return docToProfile(doc), nil
}

func (c *Client) GetModelProfileByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.ModelProfile, error) {
	docs, err := c.profileNameQuery(projectID, name).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query profiles by name", goerr.TV(apperr.ProfileNameKey, name))
	}
	if len(docs) == 0 {
		return nil, goerr.Wrap(agent.ErrProfileNotFound, "profile not found", goerr.TV(apperr.ProfileNameKey, name))
	}

	var doc profileDoc
	if err := docs[0].DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal profile", goerr.V("doc_id", docs[0].Ref.ID))
	}
	return docToProfile(&doc), nil
}

func (c *Client) ListModelProfiles(ctx context.Context, projectID types.ProjectID) ([]*agent.ModelProfile, error) {
	docs, err := c.client.Collection(collectionProfiles).
		Where("project_id", "==", projectID.String()).
		OrderBy("created_at", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list profiles", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	profiles := make([]*agent.ModelProfile, 0, len(docs))
	for _, snap := range docs {
		var doc profileDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal profile", goerr.V("doc_id", snap.Ref.ID))
		}
		profiles = append(profiles, docToProfile(&doc))
	}
	return profiles, nil
}

func (c *Client) UpdateModelProfile(ctx context.Context, p *agent.ModelProfile) error {
	if err := agent.ValidateName(p.Name); err != nil {
		return goerr.Wrap(err, "invalid profile")
	}

	now := time.Now()
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := c.getProfileDoc(ctx, tx, p.ProjectID, p.ID); err != nil {
			return err
		}
		docs, err := tx.Documents(c.profileNameQuery(p.ProjectID, p.Name)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to query profiles by name", goerr.TV(apperr.ProfileNameKey, p.Name))
		}
		for _, d := range docs {
			if d.Ref.ID != p.ID.String() {
				return goerr.Wrap(agent.ErrProfileNameConflict, "duplicated profile name", goerr.TV(apperr.ProfileNameKey, p.Name))
			}
		}

		return tx.Update(c.profileRef(p.ID), []firestore.Update{
			{Path: "name", Value: p.Name},
			{Path: "name_key", Value: agent.NameKey(p.Name)},
			{Path: "encrypted_api_key", Value: p.EncryptedAPIKey},
			{Path: "base_url", Value: p.BaseURL},
			{Path: "updated_at", Value: now},
		})
	})
	if err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

func (c *Client) DeleteModelProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) error {
	if _, err := c.getProfileDoc(ctx, nil, projectID, id); err != nil {
		return err
	}

	versions, err := c.client.CollectionGroup(collectionVersions).
		Where("project_id", "==", projectID.String()).
		Where("model_profile_id", "==", id.String()).
		Documents(ctx).GetAll()
	if err != nil {
		return goerr.Wrap(err, "failed to query versions of profile", goerr.TV(apperr.ProfileIDKey, id))
	}

	return c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, v := range versions {
			if err := tx.Update(v.Ref, []firestore.Update{{Path: "model_profile_id", Value: nil}}); err != nil {
				return goerr.Wrap(err, "failed to detach profile", goerr.V("doc_id", v.Ref.ID))
			}
		}
		return tx.Delete(c.profileRef(id))
	})
}
