package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/model/prompt"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"golang.org/x/sync/errgroup"
)

// chatUseCaseImpl implements interfaces.ChatUseCases
type chatUseCaseImpl struct {
	repo     interfaces.Repository
	model    interfaces.ChatModel
	registry *registryUseCaseImpl
}

var errModelNotConfigured = goerr.New("chat model is not configured")

// turnPlan is everything resolved before the model is called
type turnPlan struct {
	agent   *agent.Agent
	version *agent.AgentVersion
	session chat.SessionResolution
	origin  chat.Origin
	request *chat.CompletionRequest
}

// resolveSession decides which session a turn belongs to. A caller supplied
// ID must be well formed and already hold turns of this project.
func (x *chatUseCaseImpl) resolveSession(ctx context.Context, projectID types.ProjectID, raw string) (chat.SessionResolution, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return chat.Generated(types.NewSessionID(ctx)), nil
	}

	id, ok := types.ParseSessionID(raw)
	if !ok {
		return chat.Rejected("invalid session_id format"), nil
	}

	exists, err := x.repo.SessionExists(ctx, projectID, id)
	if err != nil {
		return chat.SessionResolution{}, goerr.Wrap(err, "failed to look up session", goerr.TV(apperr.SessionIDKey, id))
	}
	if !exists {
		return chat.Rejected("session not found for this project"), nil
	}
	return chat.Existing(id), nil
}

func (x *chatUseCaseImpl) resolveVersion(ctx context.Context, projectID types.ProjectID, a *agent.Agent, number *int) (*agent.AgentVersion, error) {
	if number != nil {
		return x.registry.ResolveByNumber(ctx, projectID, a.ID, *number)
	}
	return x.registry.ResolveActive(ctx, projectID, a.ID)
}

// prepare runs every step up to the model call and persists the user turn
func (x *chatUseCaseImpl) prepare(ctx context.Context, principal *auth.Principal, req *interfaces.ChatRequest) (*turnPlan, error) {
	if x.model == nil {
		return nil, errModelNotConfigured
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, goerr.Wrap(chat.ErrEmptyMessage, "empty chat message")
	}

	projectID := principal.ProjectID
	a, err := x.repo.GetAgentByName(ctx, projectID, req.AgentName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve agent", goerr.TV(apperr.AgentNameKey, req.AgentName))
	}

	version, err := x.resolveVersion(ctx, projectID, a, req.Version)
	if err != nil {
		return nil, err
	}

	session, err := x.resolveSession(ctx, projectID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.Accepted() {
		return nil, goerr.New(session.Reason,
			goerr.T(apperr.ErrTagValidation),
			goerr.V("session_id", req.SessionID))
	}

	systemPrompt, err := prompt.Render(version.SystemPrompt, req.Variables, false)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to render system prompt", goerr.TV(apperr.VersionIDKey, version.ID))
	}

	history, err := x.repo.LoadHistory(ctx, projectID, session.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load history", goerr.TV(apperr.SessionIDKey, session.ID))
	}

	apiKey, err := x.registry.decrypt(version.Credential.EncryptedAPIKey)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve model credential", goerr.TV(apperr.VersionIDKey, version.ID))
	}

	plan := &turnPlan{
		agent:   a,
		version: version,
		session: session,
		origin: chat.Origin{
			ProjectID:      projectID,
			SessionID:      session.ID,
			AgentID:        a.ID,
			AgentVersionID: version.ID,
			VersionNumber:  version.VersionNumber,
			ModelName:      version.ModelName,
			APIKeyID:       principal.APIKeyID,
		},
		request: &chat.CompletionRequest{
			Model:    version.ModelName,
			APIKey:   apiKey,
			BaseURL:  version.Credential.BaseURL,
			Messages: chat.BuildMessages(systemPrompt, history, req.Message),
			Sampling: version.Params.Sampling(),
		},
	}

	// The user turn is kept even when the model call fails afterwards
	userTurn := chat.NewTurn(ctx, plan.origin, chat.RoleUser, req.Message, chat.Usage{})
	if err := x.repo.AppendTurn(ctx, userTurn); err != nil {
		return nil, goerr.Wrap(err, "failed to persist user turn", goerr.TV(apperr.SessionIDKey, session.ID))
	}

	ctxlog.From(ctx).Debug("chat turn prepared",
		"agent", a.Name,
		"version_number", version.VersionNumber,
		"session_id", session.ID,
		"session", session.Kind.String(),
		"history", len(history),
	)
	return plan, nil
}

func (x *chatUseCaseImpl) persistAssistant(ctx context.Context, plan *turnPlan, completion *chat.Completion) (*chat.Turn, error) {
	turn := chat.NewTurn(ctx, plan.origin, chat.RoleAssistant, completion.Text, completion.Usage.Normalize())
	if err := x.repo.AppendTurn(ctx, turn); err != nil {
		return nil, goerr.Wrap(err, "failed to persist assistant turn", goerr.TV(apperr.SessionIDKey, plan.session.ID))
	}
	return turn, nil
}

// sessionTotals sums the three usage columns of a session concurrently
func (x *chatUseCaseImpl) sessionTotals(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) (chat.Totals, error) {
	var totals chat.Totals
	eg, ctx := errgroup.WithContext(ctx)

	sum := func(field chat.TokenField, dst **int) {
		eg.Go(func() error {
			v, err := x.repo.SumTokens(ctx, projectID, sessionID, field)
			if err != nil {
				return goerr.Wrap(err, "failed to sum tokens", goerr.V("field", field))
			}
			*dst = v
			return nil
		})
	}
	sum(chat.FieldTokensUsed, &totals.TotalTokens)
	sum(chat.FieldPromptTokens, &totals.TotalPromptTokens)
	sum(chat.FieldCompletionTokens, &totals.TotalCompletionTokens)

	if err := eg.Wait(); err != nil {
		return chat.Totals{}, goerr.Wrap(err, "failed to aggregate session usage", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	return totals, nil
}

func (x *chatUseCaseImpl) SendMessage(ctx context.Context, principal *auth.Principal, req *interfaces.ChatRequest) (*interfaces.ChatResponse, error) {
	plan, err := x.prepare(ctx, principal, req)
	if err != nil {
		return nil, err
	}

	completion, err := x.model.Complete(ctx, plan.request)
	if err != nil {
		return nil, goerr.Wrap(err, "model invocation failed",
			goerr.TV(apperr.SessionIDKey, plan.session.ID),
			goerr.TV(apperr.ModelKey, plan.version.ModelName))
	}

	turn, err := x.persistAssistant(ctx, plan, completion)
	if err != nil {
		return nil, err
	}

	totals, err := x.sessionTotals(ctx, principal.ProjectID, plan.session.ID)
	if err != nil {
		return nil, err
	}

	return &interfaces.ChatResponse{
		Response:  completion.Text,
		SessionID: plan.session.ID,
		AgentName: plan.agent.Name,
		Version:   plan.version.VersionNumber,
		ModelName: plan.version.ModelName,
		Usage:     turn.Usage,
		Totals:    totals,
	}, nil
}

func (x *chatUseCaseImpl) StreamMessage(ctx context.Context, principal *auth.Principal, req *interfaces.ChatRequest, handler chat.EventHandler) error {
	plan, err := x.prepare(ctx, principal, req)
	if err != nil {
		return err
	}
	logger := ctxlog.From(ctx)

	if err := handler(&chat.Event{
		Type:      chat.EventStart,
		SessionID: plan.session.ID,
		AgentName: plan.agent.Name,
		Version:   plan.version.VersionNumber,
		ModelName: plan.version.ModelName,
	}); err != nil {
		return goerr.Wrap(err, "stream consumer gone before start", goerr.TV(apperr.SessionIDKey, plan.session.ID))
	}

	var consumerErr error
	completion, err := x.model.Stream(ctx, plan.request, func(delta string) error {
		if err := handler(&chat.Event{Type: chat.EventToken, Content: delta}); err != nil {
			consumerErr = err
			return err
		}
		return nil
	})

	if err != nil {
		if consumerErr != nil || ctx.Err() != nil {
			// Caller went away. Keep what was generated, the request context is
			// already done so persist with a detached one.
			if completion != nil && completion.Text != "" {
				if _, perr := x.persistAssistant(context.WithoutCancel(ctx), plan, completion); perr != nil {
					logger.Warn("failed to persist partial assistant turn", "error", perr, "session_id", plan.session.ID)
				}
			}
			return goerr.Wrap(errors.Join(consumerErr, ctx.Err(), err), "stream aborted",
				goerr.TV(apperr.SessionIDKey, plan.session.ID))
		}

		werr := goerr.Wrap(err, "model invocation failed",
			goerr.TV(apperr.SessionIDKey, plan.session.ID),
			goerr.TV(apperr.ModelKey, plan.version.ModelName))
		x.emitError(ctx, handler, werr)
		return werr
	}

	turn, err := x.persistAssistant(ctx, plan, completion)
	if err != nil {
		x.emitError(ctx, handler, err)
		return err
	}

	totals, err := x.sessionTotals(ctx, principal.ProjectID, plan.session.ID)
	if err != nil {
		x.emitError(ctx, handler, err)
		return err
	}

	usage := turn.Usage
	if err := handler(&chat.Event{Type: chat.EventDone, Usage: &usage, Totals: &totals}); err != nil {
		return goerr.Wrap(err, "failed to deliver done event", goerr.TV(apperr.SessionIDKey, plan.session.ID))
	}
	return nil
}

func (x *chatUseCaseImpl) emitError(ctx context.Context, handler chat.EventHandler, err error) {
	if herr := handler(&chat.Event{Type: chat.EventError, Message: apperr.Message(err)}); herr != nil {
		ctxlog.From(ctx).Debug("failed to deliver error event", "error", herr)
	}
}

func (x *chatUseCaseImpl) GetSessionHistory(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) ([]*chat.Turn, error) {
	turns, err := x.repo.LoadHistory(ctx, projectID, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load history", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	return turns, nil
}

func (x *chatUseCaseImpl) ListHistory(ctx context.Context, projectID types.ProjectID, filter chat.TurnFilter) ([]*interfaces.HistoryTurn, error) {
	filter.Limit = filter.ClampLimit()
	turns, err := x.repo.ListTurns(ctx, projectID, filter)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list turns", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	names := make(map[types.AgentID]string)
	out := make([]*interfaces.HistoryTurn, 0, len(turns))
	for _, t := range turns {
		name, ok := names[t.AgentID]
		if !ok {
			a, err := x.repo.GetAgent(ctx, projectID, t.AgentID)
			switch {
			case err == nil:
				name = a.Name
			case errors.Is(err, agent.ErrAgentNotFound):
			default:
				return nil, goerr.Wrap(err, "failed to get agent of turn", goerr.TV(apperr.AgentIDKey, t.AgentID))
			}
			names[t.AgentID] = name
		}
		out = append(out, &interfaces.HistoryTurn{Turn: t, AgentName: name})
	}
	return out, nil
}

func (x *chatUseCaseImpl) ListSessions(ctx context.Context, projectID types.ProjectID, agentID *types.AgentID, limit int) ([]*chat.SessionSummary, error) {
	sessions, err := x.repo.ListSessions(ctx, projectID, agentID, chat.TurnFilter{Limit: limit}.ClampLimit())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	return sessions, nil
}

func (x *chatUseCaseImpl) DeleteSession(ctx context.Context, projectID types.ProjectID, sessionID types.SessionID) error {
	exists, err := x.repo.SessionExists(ctx, projectID, sessionID)
	if err != nil {
		return goerr.Wrap(err, "failed to look up session", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	if !exists {
		return goerr.Wrap(chat.ErrSessionNotFound, "nothing to delete", goerr.TV(apperr.SessionIDKey, sessionID))
	}

	if err := x.repo.DeleteSession(ctx, projectID, sessionID); err != nil {
		return goerr.Wrap(err, "failed to delete session", goerr.TV(apperr.SessionIDKey, sessionID))
	}
	ctxlog.From(ctx).Info("session deleted", "session_id", sessionID)
	return nil
}
