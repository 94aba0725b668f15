package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// turnDocID keeps documents sorted by sequence in the console
func turnDocID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

// AppendTurn increments the session counter and stores the turn in one
// transaction. Concurrent appends to a session conflict on the session
// document and are retried by Firestore, so sequence numbers never repeat.
func (c *Client) AppendTurn(ctx context.Context, t *chat.Turn) error {
	if !t.Role.IsValid() {
		return goerr.New("invalid role", goerr.T(apperr.ErrTagValidation), goerr.V("role", t.Role))
	}

	sessionRef := c.sessionRef(t.ProjectID.String(), t.SessionID.String())
	var seq int64
	var createdAt time.Time

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		session := sessionDoc{
			ProjectID: t.ProjectID.String(),
			SessionID: t.SessionID.String(),
		}
		snap, err := tx.Get(sessionRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return goerr.Wrap(err, "failed to get session", goerr.TV(apperr.SessionIDKey, t.SessionID))
		default:
			if err := snap.DataTo(&session); err != nil {
				return goerr.Wrap(err, "failed to unmarshal session", goerr.TV(apperr.SessionIDKey, t.SessionID))
			}
		}

		seq = session.LastSeq + 1
		createdAt = time.Now()
		if createdAt.Before(session.LastMessageAt) {
			createdAt = session.LastMessageAt
		}

		session.LastSeq = seq
		session.TurnCount++
		session.LastMessageAt = createdAt
		session.AgentID = t.AgentID.String()
		session.AgentIDs = addAgentID(session.AgentIDs, session.AgentID)
		session.AgentVersionID = t.AgentVersionID.String()
		session.VersionNumber = t.VersionNumber

		stored := turnToDoc(t)
		stored.Seq = seq
		stored.CreatedAt = createdAt

		if err := tx.Set(sessionRef, &session); err != nil {
			return goerr.Wrap(err, "failed to update session", goerr.TV(apperr.SessionIDKey, t.SessionID))
		}
		if err := tx.Create(sessionRef.Collection(collectionTurns).Doc(turnDocID(seq)), stored); err != nil {
			return goerr.Wrap(err, "failed to create turn", goerr.TV(apperr.SessionIDKey, t.SessionID))
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
	docs, err := c.sessionRef(projectID.String(), sessionID.String()).Collection(collectionTurns).
		OrderBy("seq", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load history", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	return decodeTurns(docs)
}

func decodeTurns(docs []*firestore.DocumentSnapshot) ([]*chat.Turn, error) {
	turns := make([]*chat.Turn, 0, len(docs))
	for _, snap := range docs {
		var doc turnDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal turn", goerr.V("doc_id", snap.Ref.ID))
		}
		turns = append(turns, docToTurn(&doc))
	}
	return turns, nil
}

func (c *Client) SessionExists(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) (bool, error) {
	_, err := c.sessionRef(projectID.String(), sessionID.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to get session", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	return true, nil
}

// SumTokens adds up the field on the client. Firestore sum aggregation treats
// missing values as zero and cannot tell an empty total apart.
func (c *Client) SumTokens(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID, field chat.TokenField) (*int, error) {
	turns, err := c.LoadHistory(ctx, projectID, sessionID)
	if err != nil {
		return nil, err
	}

	var total *int
	for _, t := range turns {
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
	sessionRef := c.sessionRef(projectID.String(), sessionID.String())
	docs, err := sessionRef.Collection(collectionTurns).Documents(ctx).GetAll()
	if err != nil {
		return goerr.Wrap(err, "failed to list turns for deletion", goerr.TV(apperr.SessionIDKey, sessionID))
	}

	refs := make([]*firestore.DocumentRef, 0, len(docs)+1)
	for _, d := range docs {
		refs = append(refs, d.Ref)
	}
	refs = append(refs, sessionRef)
	return c.deleteRefs(ctx, refs)
}

// deleteTurnsWhere removes turns of the project matching field and refreshes
// the summaries of the sessions they belonged to
func (c *Client) deleteTurnsWhere(ctx context.Context, projectID types.ProjectID, field, value string) error {
	docs, err := c.client.CollectionGroup(collectionTurns).
		Where("project_id", "==", projectID.String()).
		Where(field, "==", value).
		Documents(ctx).GetAll()
	if err != nil {
		return goerr.Wrap(err, "failed to query turns", goerr.V("field", field))
	}

	refs := make([]*firestore.DocumentRef, 0, len(docs))
	sessions := make(map[string]*firestore.DocumentRef)
	for _, d := range docs {
		refs = append(refs, d.Ref)
		if parent := d.Ref.Parent.Parent; parent != nil {
			sessions[parent.ID] = parent
		}
	}
	if err := c.deleteRefs(ctx, refs); err != nil {
		return err
	}

	for _, ref := range sessions {
		if err := c.refreshSession(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// refreshSession recomputes the summary from the remaining turns. LastSeq is
// kept so that numbers are not handed out twice.
func (c *Client) refreshSession(ctx context.Context, ref *firestore.DocumentRef) error {
	return c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to get session", goerr.V("doc_id", ref.ID))
		}
		var session sessionDoc
		if err := snap.DataTo(&session); err != nil {
			return goerr.Wrap(err, "failed to unmarshal session", goerr.V("doc_id", ref.ID))
		}

		docs, err := tx.Documents(ref.Collection(collectionTurns).OrderBy("seq", firestore.Asc)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to read turns", goerr.V("doc_id", ref.ID))
		}
		if len(docs) == 0 {
			return tx.Delete(ref)
		}

		var last turnDoc
		if err := docs[len(docs)-1].DataTo(&last); err != nil {
			return goerr.Wrap(err, "failed to unmarshal turn", goerr.V("doc_id", docs[len(docs)-1].Ref.ID))
		}
		session.AgentIDs = nil
		for _, d := range docs {
			var turn turnDoc
			if err := d.DataTo(&turn); err != nil {
				return goerr.Wrap(err, "failed to unmarshal turn", goerr.V("doc_id", d.Ref.ID))
			}
			session.AgentIDs = addAgentID(session.AgentIDs, turn.AgentID)
		}
		session.TurnCount = len(docs)
		session.AgentID = last.AgentID
		session.AgentVersionID = last.AgentVersionID
		session.VersionNumber = last.VersionNumber
		session.LastMessageAt = last.CreatedAt
		return tx.Set(ref, &session)
	})
}

func (c *Client) ListTurns(ctx context.Context, projectID types.ProjectID, filter chat.TurnFilter) ([]*chat.Turn, error) {
	query := c.client.CollectionGroup(collectionTurns).Where("project_id", "==", projectID.String())
	if filter.SessionID != nil {
		query = query.Where("session_id", "==", filter.SessionID.String())
	}
	if filter.AgentID != nil {
		query = query.Where("agent_id", "==", filter.AgentID.String())
	}
	if filter.VersionNumber != nil {
		query = query.Where("version_number", "==", *filter.VersionNumber)
	}
	if filter.APIKeyID != nil {
		query = query.Where("api_key_id", "==", filter.APIKeyID.String())
	}

	docs, err := query.
		OrderBy("created_at", firestore.Desc).
		OrderBy("seq", firestore.Desc).
		Limit(filter.ClampLimit()).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list turns", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	return decodeTurns(docs)
}

func (c *Client) ListSessions(ctx context.Context, projectID types.ProjectID, agentID *types.AgentID, limit int) ([]*chat.SessionSummary, error) {
	query := c.client.Collection(collectionSessions).Where("project_id", "==", projectID.String())
	if agentID != nil {
		query = query.Where("agent_ids", "array-contains", agentID.String())
	}

	docs, err := query.
		OrderBy("last_message_at", firestore.Desc).
		Limit(chat.TurnFilter{Limit: limit}.ClampLimit()).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	sessions := make([]*chat.SessionSummary, 0, len(docs))
	for _, snap := range docs {
		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal session", goerr.V("doc_id", snap.Ref.ID))
		}
		sessions = append(sessions, docToSession(&doc))
	}
	return sessions, nil
}
