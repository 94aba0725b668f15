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

func agentNotFound(projectID types.ProjectID, id types.AgentID) error {
	return goerr.Wrap(agent.ErrAgentNotFound, "agent not found",
		goerr.TV(apperr.ProjectIDKey, projectID),
		goerr.TV(apperr.AgentIDKey, id),
		goerr.TV(apperr.BackendKey, backendName))
}

// getAgentDoc reads an agent inside tx when tx is not nil. A document of
// another project is reported as not found.
func (c *Client) getAgentDoc(ctx context.Context, tx *firestore.Transaction, projectID types.ProjectID, id types.AgentID) (*agentDoc, error) {
	if !id.IsValid() {
		return nil, agentNotFound(projectID, id)
	}

	ref := c.agentRef(id.String())
	var snap *firestore.DocumentSnapshot
	var err error
	if tx != nil {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if status.Code(err) == codes.NotFound {
		return nil, agentNotFound(projectID, id)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get agent", goerr.TV(apperr.AgentIDKey, id))
	}

	var doc agentDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal agent", goerr.TV(apperr.AgentIDKey, id))
	}
	if doc.ProjectID != projectID.String() {
		return nil, agentNotFound(projectID, id)
	}
	return &doc, nil
}

func (c *Client) agentNameQuery(projectID types.ProjectID, name string) firestore.Query {
	return c.client.Collection(collectionAgents).
		Where("project_id", "==", projectID.String()).
		Where("name_key", "==", agent.NameKey(name)).
		Limit(2)
}

func (c *Client) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent")
	}

	return c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(c.agentNameQuery(a.ProjectID, a.Name)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to query agents by name", goerr.TV(apperr.AgentNameKey, a.Name))
		}
		if len(docs) > 0 {
			return goerr.Wrap(agent.ErrAgentNameConflict, "duplicated agent name", goerr.TV(apperr.AgentNameKey, a.Name))
		}
		if err := tx.Create(c.agentRef(a.ID.String()), agentToDoc(a)); err != nil {
			return goerr.Wrap(err, "failed to create agent", goerr.TV(apperr.AgentIDKey, a.ID))
		}
		return nil
	})
}

func (c *Client) GetAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) (*agent.Agent, error) {
	doc, err := c.getAgentDoc(ctx, nil, projectID, id)
	if err != nil {
		return nil, err
	}
	return docToAgent(doc), nil
}

func (c *Client) GetAgentByName(ctx context.Context, projectID types.ProjectID, name string) (*agent.Agent, error) {
	docs, err := c.agentNameQuery(projectID, name).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query agents by name", goerr.TV(apperr.AgentNameKey, name))
	}
	if len(docs) == 0 {
		return nil, goerr.Wrap(agent.ErrAgentNotFound, "agent not found",
			goerr.TV(apperr.ProjectIDKey, projectID),
			goerr.TV(apperr.AgentNameKey, name))
	}

	var doc agentDoc
	if err := docs[0].DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal agent", goerr.V("doc_id", docs[0].Ref.ID))
	}
	return docToAgent(&doc), nil
}

func (c *Client) ListAgents(ctx context.Context, projectID types.ProjectID) ([]*agent.Agent, error) {
	docs, err := c.client.Collection(collectionAgents).
		Where("project_id", "==", projectID.String()).
		OrderBy("created_at", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list agents", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	agents := make([]*agent.Agent, 0, len(docs))
	for _, snap := range docs {
		var doc agentDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal agent", goerr.V("doc_id", snap.Ref.ID))
		}
		agents = append(agents, docToAgent(&doc))
	}
	return agents, nil
}

func (c *Client) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent")
	}

	now := time.Now()
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := c.getAgentDoc(ctx, tx, a.ProjectID, a.ID); err != nil {
			return err
		}
		docs, err := tx.Documents(c.agentNameQuery(a.ProjectID, a.Name)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to query agents by name", goerr.TV(apperr.AgentNameKey, a.Name))
		}
		for _, d := range docs {
			if d.Ref.ID != a.ID.String() {
				return goerr.Wrap(agent.ErrAgentNameConflict, "duplicated agent name", goerr.TV(apperr.AgentNameKey, a.Name))
			}
		}

		return tx.Update(c.agentRef(a.ID.String()), []firestore.Update{
			{Path: "name", Value: a.Name},
			{Path: "name_key", Value: agent.NameKey(a.Name)},
			{Path: "description", Value: a.Description},
			{Path: "updated_at", Value: now},
		})
	})
	if err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

func (c *Client) DeleteAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) error {
	if _, err := c.getAgentDoc(ctx, nil, projectID, id); err != nil {
		return err
	}

	if err := c.deleteTurnsWhere(ctx, projectID, "agent_id", id.String()); err != nil {
		return err
	}

	versions, err := c.agentRef(id.String()).Collection(collectionVersions).Documents(ctx).GetAll()
	if err != nil {
		return goerr.Wrap(err, "failed to get agent versions for deletion", goerr.TV(apperr.AgentIDKey, id))
	}
	refs := make([]*firestore.DocumentRef, 0, len(versions)+1)
	for _, v := range versions {
		refs = append(refs, v.Ref)
	}
	refs = append(refs, c.agentRef(id.String()))
	return c.deleteRefs(ctx, refs)
}

func (c *Client) CreateAgentVersion(ctx context.Context, v *agent.AgentVersion) error {
	if err := v.Validate(); err != nil {
		return goerr.Wrap(err, "invalid agent version")
	}

	var number int
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := c.getAgentDoc(ctx, tx, v.ProjectID, v.AgentID)
		if err != nil {
			return err
		}

		number = doc.LastVersionNumber + 1
		stored := versionToDoc(v)
		stored.VersionNumber = number

		if err := tx.Update(c.agentRef(v.AgentID.String()), []firestore.Update{
			{Path: "last_version_number", Value: number},
		}); err != nil {
			return goerr.Wrap(err, "failed to allocate version number", goerr.TV(apperr.AgentIDKey, v.AgentID))
		}
		if err := tx.Create(c.versionRef(v.AgentID.String(), v.ID.String()), stored); err != nil {
			return goerr.Wrap(err, "failed to create version", goerr.TV(apperr.VersionIDKey, v.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}

	v.VersionNumber = number
	return nil
}

func (c *Client) GetAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	if _, err := c.getAgentDoc(ctx, nil, projectID, agentID); err != nil {
		return nil, err
	}

	snap, err := c.versionRef(agentID.String(), id.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(agent.ErrVersionNotFound, "version not found",
			goerr.TV(apperr.AgentIDKey, agentID),
			goerr.TV(apperr.VersionIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get version", goerr.TV(apperr.VersionIDKey, id))
	}

	var doc versionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal version", goerr.TV(apperr.VersionIDKey, id))
	}
	return docToVersion(&doc), nil
}

func (c *Client) findVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, field string, value any) (*agent.AgentVersion, error) {
	if _, err := c.getAgentDoc(ctx, nil, projectID, agentID); err != nil {
		return nil, err
	}

	docs, err := c.agentRef(agentID.String()).Collection(collectionVersions).
		Where(field, "==", value).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query versions", goerr.TV(apperr.AgentIDKey, agentID), goerr.V("field", field))
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var doc versionDoc
	if err := docs[0].DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal version", goerr.V("doc_id", docs[0].Ref.ID))
	}
	return docToVersion(&doc), nil
}

func (c *Client) GetAgentVersionByNumber(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, number int) (*agent.AgentVersion, error) {
	v, err := c.findVersion(ctx, projectID, agentID, "version_number", number)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, goerr.Wrap(agent.ErrVersionNotFound, "version not found",
			goerr.TV(apperr.AgentIDKey, agentID),
			goerr.TV(apperr.VersionNumberKey, number))
	}
	return v, nil
}

func (c *Client) GetActiveAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) (*agent.AgentVersion, error) {
	return c.findVersion(ctx, projectID, agentID, "is_active", true)
}

func (c *Client) ListAgentVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) ([]*agent.AgentVersion, error) {
	if _, err := c.getAgentDoc(ctx, nil, projectID, agentID); err != nil {
		return nil, err
	}

	docs, err := c.agentRef(agentID.String()).Collection(collectionVersions).
		OrderBy("version_number", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list versions", goerr.TV(apperr.AgentIDKey, agentID))
	}

	versions := make([]*agent.AgentVersion, 0, len(docs))
	for _, snap := range docs {
		var doc versionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal version", goerr.V("doc_id", snap.Ref.ID))
		}
		versions = append(versions, docToVersion(&doc))
	}
	return versions, nil
}

// ActivateAgentVersion reads every version of the agent in the transaction,
// so two concurrent activations are serialized by Firestore and exactly one
// version ends up active.
func (c *Client) ActivateAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	var activated *agent.AgentVersion
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		activated = nil
		if _, err := c.getAgentDoc(ctx, tx, projectID, agentID); err != nil {
			return err
		}

		docs, err := tx.Documents(c.agentRef(agentID.String()).Collection(collectionVersions)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to read versions", goerr.TV(apperr.AgentIDKey, agentID))
		}

		var updates []*firestore.DocumentSnapshot
		for _, snap := range docs {
			var doc versionDoc
			if err := snap.DataTo(&doc); err != nil {
				return goerr.Wrap(err, "failed to unmarshal version", goerr.V("doc_id", snap.Ref.ID))
			}
			if doc.ID == id.String() {
				doc.IsActive = true
				activated = docToVersion(&doc)
				updates = append(updates, snap)
			} else if doc.IsActive {
				updates = append(updates, snap)
			}
		}
		if activated == nil {
			return goerr.Wrap(agent.ErrVersionNotFound, "version not found",
				goerr.TV(apperr.AgentIDKey, agentID),
				goerr.TV(apperr.VersionIDKey, id))
		}

		for _, snap := range updates {
			active := snap.Ref.ID == id.String()
			if err := tx.Update(snap.Ref, []firestore.Update{{Path: "is_active", Value: active}}); err != nil {
				return goerr.Wrap(err, "failed to update version", goerr.V("doc_id", snap.Ref.ID))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

func (c *Client) DeleteAgentVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) error {
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := c.getAgentDoc(ctx, tx, projectID, agentID); err != nil {
			return err
		}

		docs, err := tx.Documents(c.agentRef(agentID.String()).Collection(collectionVersions)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to read versions", goerr.TV(apperr.AgentIDKey, agentID))
		}

		var target *firestore.DocumentRef
		for _, snap := range docs {
			if snap.Ref.ID == id.String() {
				target = snap.Ref
			}
		}
		if target == nil {
			return goerr.Wrap(agent.ErrVersionNotFound, "version not found",
				goerr.TV(apperr.AgentIDKey, agentID),
				goerr.TV(apperr.VersionIDKey, id))
		}
		if len(docs) <= 1 {
			return goerr.Wrap(agent.ErrLastVersion, "refused to delete the last version",
				goerr.TV(apperr.AgentIDKey, agentID),
				goerr.TV(apperr.VersionIDKey, id))
		}
		return tx.Delete(target)
	})
	if err != nil {
		return err
	}

	return c.deleteTurnsWhere(ctx, projectID, "agent_version_id", id.String())
}
