package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/controller/http/middleware"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

// profileResponse never carries the key itself, only its masked form
type profileResponse struct {
	*agent.ModelProfile
	MaskedAPIKey string `json:"masked_api_key"`
}

func (s *Server) profileResponse(ctx context.Context, p *agent.ModelProfile) (*profileResponse, error) {
	masked, err := s.registry.MaskAPIKey(ctx, p)
	if err != nil {
		return nil, err
	}
	return &profileResponse{ModelProfile: p, MaskedAPIKey: masked}, nil
}

func profileIDParam(r *http.Request) (types.ProfileID, error) {
	id := types.ProfileID(chi.URLParam(r, "profile_id"))
	if !id.IsValid() {
		return "", goerr.New("invalid profile_id", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.ProfileIDKey, id))
	}
	return id, nil
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	var req interfaces.CreateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.registry.CreateProfile(ctx, principal.ProjectID, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.profileResponse(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, resp)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	profiles, err := s.registry.ListProfiles(ctx, principal.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]*profileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp, err := s.profileResponse(ctx, p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	id, err := profileIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.registry.GetProfile(ctx, principal.ProjectID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.profileResponse(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	id, err := profileIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req interfaces.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.registry.UpdateProfile(ctx, principal.ProjectID, id, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.profileResponse(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.RequirePrincipalFromContext(ctx)

	id, err := profileIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.registry.DeleteProfile(ctx, principal.ProjectID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
