package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/controller/http/middleware"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/utils/errors"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	var req interfaces.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := s.chat.SendMessage(ctx, principal, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func writeSSE(w http.ResponseWriter, ev *chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return goerr.Wrap(err, "failed to encode stream event", goerr.V("type", ev.Type))
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return goerr.Wrap(err, "failed to write stream event", goerr.V("type", ev.Type))
	}
	return nil
}

// handleChatStream serves one turn as Server-Sent Events. Failures before the
// start event get a plain JSON error response instead.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	var req interfaces.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, goerr.New("streaming is not supported by the response writer"))
		return
	}

	started := false
	err := s.chat.StreamMessage(ctx, principal, &req, func(ev *chat.Event) error {
		if !started {
			started = true
			h := w.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			h.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
		}
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return ctx.Err()
	})
	if err != nil {
		if !started {
			writeError(w, r, err)
			return
		}
		errors.Handle(ctx, err)
	}
}

// handleChatWebSocket reads one request frame and answers with the same
// event sequence as the SSE endpoint
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.wsOrigins,
	})
	if err != nil {
		errors.Handle(ctx, goerr.Wrap(err, "failed to accept websocket"))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	var req interfaces.ChatRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		errors.Handle(ctx, goerr.Wrap(err, "failed to read chat request frame"))
		_ = conn.Close(websocket.StatusUnsupportedData, "invalid request frame")
		return
	}

	// The connection context is cancelled once the client closes the socket
	streamCtx := conn.CloseRead(ctx)

	started := false
	err = s.chat.StreamMessage(streamCtx, principal, &req, func(ev *chat.Event) error {
		started = true
		return wsjson.Write(streamCtx, conn, ev)
	})
	if err != nil {
		errors.Handle(ctx, err)
		if !started {
			s.writeWebSocketError(streamCtx, conn, err)
		}
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		ctxlog.From(ctx).Debug("websocket close failed", "error", err)
	}
}

func (s *Server) writeWebSocketError(ctx context.Context, conn *websocket.Conn, err error) {
	ev := &chat.Event{Type: chat.EventError, Message: apperr.Message(err)}
	if werr := wsjson.Write(ctx, conn, ev); werr != nil {
		ctxlog.From(ctx).Debug("failed to send websocket error frame", "error", werr)
	}
}

func sessionIDParam(r *http.Request) (types.SessionID, error) {
	raw := chi.URLParam(r, "session_id")
	id, ok := types.ParseSessionID(raw)
	if !ok {
		return "", goerr.New("invalid session_id format", goerr.T(apperr.ErrTagValidation), goerr.V("session_id", raw))
	}
	return id, nil
}

func (s *Server) handleGetSessionHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	turns, err := s.chat.GetSessionHistory(ctx, principal.ProjectID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []*chat.Turn{}
	}
	writeJSON(ctx, w, http.StatusOK, turns)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.chat.DeleteSession(ctx, principal.ProjectID, sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string) (*int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, goerr.New("query parameter "+key+" must be an integer",
			goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.FieldKey, key), goerr.V("value", raw))
	}
	return &v, nil
}

// explicitLimit keeps a requested limit of zero or less from reading as unset
func explicitLimit(limit int) int {
	return max(limit, 1)
}

func queryAgentID(r *http.Request) (*types.AgentID, error) {
	raw := r.URL.Query().Get("agent_id")
	if raw == "" {
		return nil, nil
	}
	id := types.AgentID(raw)
	if !id.IsValid() {
		return nil, goerr.New("invalid agent_id", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.AgentIDKey, id))
	}
	return &id, nil
}

func parseTurnFilter(r *http.Request) (chat.TurnFilter, error) {
	var filter chat.TurnFilter
	q := r.URL.Query()

	agentID, err := queryAgentID(r)
	if err != nil {
		return filter, err
	}
	filter.AgentID = agentID

	if filter.VersionNumber, err = queryInt(r, "version_number"); err != nil {
		return filter, err
	}

	if raw := q.Get("api_key_id"); raw != "" {
		id := types.APIKeyID(raw)
		if !id.IsValid() {
			return filter, goerr.New("invalid api_key_id", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.APIKeyIDKey, id))
		}
		filter.APIKeyID = &id
	}

	if raw := q.Get("session_id"); raw != "" {
		id, ok := types.ParseSessionID(raw)
		if !ok {
			return filter, goerr.New("invalid session_id format", goerr.T(apperr.ErrTagValidation), goerr.V("session_id", raw))
		}
		filter.SessionID = &id
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		return filter, err
	}
	if limit != nil {
		filter.Limit = explicitLimit(*limit)
	}
	return filter, nil
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	filter, err := parseTurnFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	turns, err := s.chat.ListHistory(ctx, principal.ProjectID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, turns)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := queryAgentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n := 0
	if limit != nil {
		n = explicitLimit(*limit)
	}

	sessions, err := s.chat.ListSessions(ctx, principal.ProjectID, agentID, n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*chat.SessionSummary{}
	}
	writeJSON(ctx, w, http.StatusOK, sessions)
}
