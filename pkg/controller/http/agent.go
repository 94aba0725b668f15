package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/controller/http/middleware"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

type versionResponse struct {
	*agent.AgentVersion
	Variables        []string `json:"variables"`
	ModelProfileName string   `json:"model_profile_name,omitempty"`
}

type agentResponse struct {
	*agent.Agent
	Versions      []*versionResponse `json:"versions"`
	ActiveVersion *versionResponse   `json:"active_version,omitempty"`
}

type versionComparisonResponse struct {
	A           *versionResponse  `json:"version_1"`
	B           *versionResponse  `json:"version_2"`
	Differences []agent.FieldDiff `json:"differences"`
}

// profileNames maps profile IDs of the project to their names, so versions
// can show which profile they came from while it still exists
type profileNames map[types.ProfileID]string

func (s *Server) loadProfileNames(ctx context.Context, projectID types.ProjectID) (profileNames, error) {
	profiles, err := s.registry.ListProfiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	names := make(profileNames, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.Name
	}
	return names, nil
}

func (n profileNames) version(v *agent.AgentVersion) *versionResponse {
	if v == nil {
		return nil
	}
	resp := &versionResponse{AgentVersion: v, Variables: v.Variables()}
	if resp.Variables == nil {
		resp.Variables = []string{}
	}
	if v.ModelProfileID != nil {
		resp.ModelProfileName = n[*v.ModelProfileID]
	}
	return resp
}

func (n profileNames) versions(vs []*agent.AgentVersion) []*versionResponse {
	out := make([]*versionResponse, 0, len(vs))
	for _, v := range vs {
		out = append(out, n.version(v))
	}
	return out
}

func (n profileNames) agent(d *interfaces.AgentDetail) *agentResponse {
	return &agentResponse{
		Agent:         d.Agent,
		Versions:      n.versions(d.Versions),
		ActiveVersion: n.version(d.Active),
	}
}

func agentIDParam(r *http.Request) (types.AgentID, error) {
	id := types.AgentID(chi.URLParam(r, "agent_id"))
	if !id.IsValid() {
		return "", goerr.New("invalid agent_id", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.AgentIDKey, id))
	}
	return id, nil
}

func versionIDParam(r *http.Request) (types.VersionID, error) {
	id := types.VersionID(chi.URLParam(r, "version_id"))
	if !id.IsValid() {
		return "", goerr.New("invalid version_id", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.VersionIDKey, id))
	}
	return id, nil
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	var req interfaces.CreateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.registry.CreateAgent(ctx, principal.ProjectID, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, &agentResponse{Agent: a, Versions: []*versionResponse{}})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	details, err := s.registry.ListAgents(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.loadProfileNames(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]*agentResponse, 0, len(details))
	for _, d := range details {
		out = append(out, names.agent(d))
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	d, err := s.registry.GetAgent(ctx, principal.ProjectID, agentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.loadProfileNames(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, names.agent(d))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req interfaces.UpdateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.registry.UpdateAgent(ctx, principal.ProjectID, agentID, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s.handleGetAgent(w, r)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.registry.DeleteAgent(ctx, principal.ProjectID, agentID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req interfaces.CreateVersionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := s.registry.CreateVersion(ctx, principal.ProjectID, agentID, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.loadProfileNames(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, names.version(v))
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	versions, err := s.registry.ListVersions(ctx, principal.ProjectID, agentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.loadProfileNames(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, names.versions(versions))
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	versionID, err := versionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := s.registry.GetVersion(ctx, principal.ProjectID, agentID, versionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.loadProfileNames(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, names.version(v))
}

func (s *Server) handleActivateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	versionID, err := versionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := s.registry.ActivateVersion(ctx, principal.ProjectID, agentID, versionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.loadProfileNames(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, names.version(v))
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	versionID, err := versionIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.registry.DeleteVersion(ctx, principal.ProjectID, agentID, versionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func versionNumberQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, goerr.New("query parameter "+key+" must be a positive version number",
			goerr.T(apperr.ErrTagValidation),
			goerr.TV(apperr.FieldKey, key),
			goerr.V("value", raw))
	}
	return n, nil
}

func (s *Server) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := versionNumberQuery(r, "a")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := versionNumberQuery(r, "b")
	if err != nil {
		writeError(w, r, err)
		return
	}

	cmp, err := s.registry.CompareVersions(ctx, principal.ProjectID, agentID, a, b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.loadProfileNames(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, &versionComparisonResponse{
		A:           names.version(cmp.A),
		B:           names.version(cmp.B),
		Differences: cmp.Differences,
	})
}
