package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/utils/async"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	tokenIssuer     = "kitsune"
)

// Service authenticates callers with signed session tokens or project keys
type Service struct {
	repo   interfaces.ProjectRepository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ interfaces.Authenticator = (*Service)(nil)

type Option func(*Service)

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithClock replaces time.Now for token issue and verification
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(repo interfaces.ProjectRepository, secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, goerr.New("jwt secret is required")
	}

	s := &Service{
		repo:   repo,
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueToken signs a session token for the project
func (s *Service) IssueToken(projectID types.ProjectID) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   projectID.String(),
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", goerr.Wrap(err, "failed to sign session token")
	}
	return signed, nil
}

// VerifyToken checks the signature and expiry of a session token
func (s *Service) VerifyToken(tokenString string) (*auth.SessionClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, goerr.Wrap(auth.ErrSessionExpired, "session token expired")
	}
	if err != nil {
		return nil, goerr.Wrap(auth.ErrInvalidCredential, "invalid session token", goerr.V("reason", err.Error()))
	}

	projectID := types.ProjectID(claims.Subject)
	if !projectID.IsValid() {
		return nil, goerr.Wrap(auth.ErrInvalidCredential, "invalid subject in session token")
	}

	out := &auth.SessionClaims{ProjectID: projectID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Authenticate resolves a bearer credential. Project keys are recognized by
// their prefix, anything else is treated as a session token.
func (s *Service) Authenticate(ctx context.Context, credential string) (*auth.Principal, error) {
	if credential == "" {
		return nil, goerr.Wrap(auth.ErrMissingCredential, "empty credential")
	}

	if auth.IsProjectKey(credential) {
		return s.authenticateProjectKey(ctx, credential)
	}

	claims, err := s.VerifyToken(credential)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetProject(ctx, claims.ProjectID); err != nil {
		return nil, goerr.Wrap(auth.ErrInvalidCredential, "project of session token is unavailable",
			goerr.V("project_id", claims.ProjectID), goerr.V("reason", err.Error()))
	}

	return &auth.Principal{
		ProjectID: claims.ProjectID,
		Method:    auth.MethodSessionToken,
	}, nil
}

func (s *Service) authenticateProjectKey(ctx context.Context, raw string) (*auth.Principal, error) {
	key, err := s.repo.GetAPIKeyByHash(ctx, auth.HashProjectKey(raw))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to authenticate project key")
	}

	keyID := key.ID
	usedAt := s.now()
	async.Dispatch(ctx, func(ctx context.Context) error {
		if err := s.repo.TouchAPIKey(ctx, keyID, usedAt); err != nil {
			return goerr.Wrap(err, "failed to update last used time of project key", goerr.V("api_key_id", keyID))
		}
		ctxlog.From(ctx).Debug("project key used", "api_key_id", keyID)
		return nil
	})

	return &auth.Principal{
		ProjectID: key.ProjectID,
		APIKeyID:  &keyID,
		Method:    auth.MethodProjectKey,
	}, nil
}
