package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/repository/database/memory"
	authsvc "github.com/m-mizutani/kitsune/pkg/service/auth"
	"github.com/m-mizutani/kitsune/pkg/usecase"
	"github.com/m-mizutani/kitsune/pkg/utils/async"
)

func TestCreateProject(t *testing.T) {
	ctx := async.WithSyncMode(context.Background())
	repo := memory.New()
	tokens, err := authsvc.New(repo, "project-test-secret")
	gt.NoError(t, err)
	uc := usecase.NewProjectUseCases(repo, tokens)

	project, key, raw, err := uc.CreateProject(ctx, " acme ")
	gt.NoError(t, err)
	gt.Equal(t, project.Name, "acme")
	gt.True(t, auth.IsProjectKey(raw))
	gt.Equal(t, key.ProjectID, project.ID)
	gt.Equal(t, key.KeyHash, auth.HashProjectKey(raw))
	gt.NotEqual(t, key.Masked, raw)

	stored, err := repo.GetAPIKeyByHash(ctx, auth.HashProjectKey(raw))
	gt.NoError(t, err)
	gt.Equal(t, stored.ID, key.ID)

	principal, err := tokens.Authenticate(ctx, raw)
	gt.NoError(t, err)
	gt.Equal(t, principal.ProjectID, project.ID)
	gt.Equal(t, *principal.APIKeyID, key.ID)

	token, err := uc.IssueSessionToken(ctx, project.ID)
	gt.NoError(t, err)
	principal, err = tokens.Authenticate(ctx, token)
	gt.NoError(t, err)
	gt.Equal(t, principal.Method, auth.MethodSessionToken)
	gt.Equal(t, principal.ProjectID, project.ID)

	second, raw2, err := uc.CreateAPIKey(ctx, project.ID, "ci")
	gt.NoError(t, err)
	gt.NotEqual(t, raw2, raw)
	gt.Equal(t, second.Name, "ci")
}

func TestCreateProjectValidation(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	uc := usecase.NewProjectUseCases(repo, nil)

	_, _, _, err := uc.CreateProject(ctx, "")
	hasTag(t, err, apperr.ErrTagValidation)

	_, _, err = uc.CreateAPIKey(ctx, types.NewProjectID(ctx), "orphan")
	gt.True(t, errors.Is(err, auth.ErrProjectNotFound))

	project, _, _, err := uc.CreateProject(ctx, "acme")
	gt.NoError(t, err)
	_, err = uc.IssueSessionToken(ctx, project.ID)
	gt.Error(t, err)
}
