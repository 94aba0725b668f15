package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/repository/database/memory"
	authsvc "github.com/m-mizutani/kitsune/pkg/service/auth"
	"github.com/m-mizutani/kitsune/pkg/utils/async"
)

func setup(t *testing.T, opts ...authsvc.Option) (*authsvc.Service, *memory.Client, *auth.Project) {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	project := &auth.Project{ID: types.NewProjectID(ctx), Name: "acme", CreatedAt: time.Now()}
	gt.NoError(t, repo.CreateProject(ctx, project))

	svc, err := authsvc.New(repo, "test-secret", opts...)
	gt.NoError(t, err)
	return svc, repo, project
}

func TestSessionToken(t *testing.T) {
	ctx := context.Background()
	svc, _, project := setup(t)

	token, err := svc.IssueToken(project.ID)
	gt.NoError(t, err)

	principal, err := svc.Authenticate(ctx, token)
	gt.NoError(t, err)
	gt.Equal(t, principal.ProjectID, project.ID)
	gt.Equal(t, principal.Method, auth.MethodSessionToken)
	gt.Nil(t, principal.APIKeyID)

	claims, err := svc.VerifyToken(token)
	gt.NoError(t, err)
	gt.Equal(t, claims.ExpiresAt.Sub(claims.IssuedAt), authsvc.DefaultTokenTTL)
}

func TestExpiredToken(t *testing.T) {
	ctx := context.Background()
	issuedAt := time.Now().Add(-2 * time.Hour)
	issuer, repo, project := setup(t, authsvc.WithTokenTTL(time.Hour), authsvc.WithClock(func() time.Time { return issuedAt }))

	token, err := issuer.IssueToken(project.ID)
	gt.NoError(t, err)

	verifier, err := authsvc.New(repo, "test-secret")
	gt.NoError(t, err)
	_, err = verifier.Authenticate(ctx, token)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, apperr.ErrTagUnauthorized))
	gt.Equal(t, apperr.Message(err), "session token expired")
}

func TestInvalidTokens(t *testing.T) {
	ctx := context.Background()
	svc, repo, project := setup(t)

	other, err := authsvc.New(repo, "another-secret")
	gt.NoError(t, err)
	forged, err := other.IssueToken(project.ID)
	gt.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   project.ID.String(),
		Issuer:    "kitsune",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	gt.NoError(t, err)

	unknownProject, err := svc.IssueToken(types.NewProjectID(ctx))
	gt.NoError(t, err)

	for name, credential := range map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"wrong secret":    forged,
		"none algorithm":  unsigned,
		"unknown project": unknownProject,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, credential)
			gt.Error(t, err)
			gt.True(t, goerr.HasTag(err, apperr.ErrTagUnauthorized))
		})
	}
}

func TestProjectKey(t *testing.T) {
	ctx := async.WithSyncMode(context.Background())
	svc, repo, project := setup(t)

	raw, err := auth.GenerateProjectKey()
	gt.NoError(t, err)
	key := auth.NewAPIKey(ctx, project.ID, "ci", raw, "pm_x....abcd")
	gt.NoError(t, repo.CreateAPIKey(ctx, key))

	principal, err := svc.Authenticate(ctx, raw)
	gt.NoError(t, err)
	gt.Equal(t, principal.ProjectID, project.ID)
	gt.Equal(t, principal.Method, auth.MethodProjectKey)
	gt.NotNil(t, principal.APIKeyID)
	gt.Equal(t, *principal.APIKeyID, key.ID)

	stored, err := repo.GetAPIKeyByHash(ctx, key.KeyHash)
	gt.NoError(t, err)
	gt.NotNil(t, stored.LastUsedAt)

	_, err = svc.Authenticate(ctx, "pm_unknownunknownunknown")
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, apperr.ErrTagUnauthorized))
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := authsvc.New(memory.New(), "")
	gt.Error(t, err)
}
