package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

const (
	collectionProjects = "projects"
	collectionAPIKeys  = "api_keys"
	collectionAgents   = "agents"
	collectionVersions = "versions"
	collectionProfiles = "profiles"
	collectionSessions = "sessions"
	collectionTurns    = "turns"

	backendName = "firestore"
)

// Client is a Firestore implementation of interfaces.Repository
type Client struct {
	client     *firestore.Client
	projectID  string
	databaseID string
}

var _ interfaces.Repository = (*Client)(nil)

// New creates a new Firestore client using Application Default Credentials
func New(ctx context.Context, projectID, databaseID string) (*Client, error) {
	if projectID == "" {
		return nil, goerr.New("project ID is required", goerr.T(apperr.ErrTagValidation))
	}
	if databaseID == "" {
		databaseID = "(default)"
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Client{
		client:     client,
		projectID:  projectID,
		databaseID: databaseID,
	}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) agentRef(id string) *firestore.DocumentRef {
	return c.client.Collection(collectionAgents).Doc(id)
}

func (c *Client) versionRef(agentID, id string) *firestore.DocumentRef {
	return c.agentRef(agentID).Collection(collectionVersions).Doc(id)
}

// sessionRef is keyed by project as well, so equal session IDs of two
// projects never share a document
func (c *Client) sessionRef(projectID, sessionID string) *firestore.DocumentRef {
	return c.client.Collection(collectionSessions).Doc(projectID + "_" + sessionID)
}

// deleteRefs removes documents in chunks below the transaction write limit
func (c *Client) deleteRefs(ctx context.Context, refs []*firestore.DocumentRef) error {
	const chunkSize = 400
	for start := 0; start < len(refs); start += chunkSize {
		end := min(start+chunkSize, len(refs))
		chunk := refs[start:end]
		err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, ref := range chunk {
				if err := tx.Delete(ref); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return goerr.Wrap(err, "failed to delete documents", goerr.TV(apperr.BackendKey, backendName))
		}
	}
	return nil
}
