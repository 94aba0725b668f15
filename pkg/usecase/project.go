package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/service/crypto"
)

// projectUseCaseImpl implements interfaces.ProjectUseCases
type projectUseCaseImpl struct {
	repo   interfaces.ProjectRepository
	tokens TokenIssuer
}

// NewProjectUseCases creates the project provisioning use cases
func NewProjectUseCases(repo interfaces.ProjectRepository, tokens TokenIssuer) interfaces.ProjectUseCases {
	return &projectUseCaseImpl{repo: repo, tokens: tokens}
}

func (x *projectUseCaseImpl) CreateProject(ctx context.Context, name string) (*auth.Project, *auth.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, "", goerr.New("project name is required", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.FieldKey, "name"))
	}

	project := &auth.Project{
		ID:        types.NewProjectID(ctx),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := x.repo.CreateProject(ctx, project); err != nil {
		return nil, nil, "", goerr.Wrap(err, "failed to create project", goerr.TV(apperr.ProjectIDKey, project.ID))
	}

	key, raw, err := x.CreateAPIKey(ctx, project.ID, "default")
	if err != nil {
		return nil, nil, "", err
	}

	ctxlog.From(ctx).Info("project created", "project_id", project.ID, "name", project.Name)
	return project, key, raw, nil
}

func (x *projectUseCaseImpl) CreateAPIKey(ctx context.Context, projectID types.ProjectID, name string) (*auth.APIKey, string, error) {
	if _, err := x.repo.GetProject(ctx, projectID); err != nil {
		return nil, "", goerr.Wrap(err, "failed to get project", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	raw, err := auth.GenerateProjectKey()
	if err != nil {
		return nil, "", err
	}

	key := auth.NewAPIKey(ctx, projectID, strings.TrimSpace(name), raw, crypto.Mask(raw))
	if err := x.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, "", goerr.Wrap(err, "failed to store project key", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	ctxlog.From(ctx).Info("project key created", "project_id", projectID, "api_key_id", key.ID, "masked", key.Masked)
	return key, raw, nil
}

func (x *projectUseCaseImpl) IssueSessionToken(ctx context.Context, projectID types.ProjectID) (string, error) {
	if x.tokens == nil {
		return "", goerr.New("token issuer is not configured")
	}
	if _, err := x.repo.GetProject(ctx, projectID); err != nil {
		return "", goerr.Wrap(err, "failed to get project", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	token, err := x.tokens.IssueToken(projectID)
	if err != nil {
		return "", goerr.Wrap(err, "failed to issue session token", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	return token, nil
}
