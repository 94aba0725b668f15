package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	authsvc "github.com/m-mizutani/kitsune/pkg/service/auth"
	"github.com/urfave/cli/v3"
)

// Auth holds the session token configuration
type Auth struct {
	JWTSecret string `masq:"secret"`
	TokenTTL  time.Duration
}

func (x *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "jwt-secret",
			Category:    "auth",
			Sources:     cli.EnvVars("KITSUNE_JWT_SECRET"),
			Usage:       "Secret used to sign session tokens",
			Destination: &x.JWTSecret,
		},
		&cli.DurationFlag{
			Name:        "token-ttl",
			Category:    "auth",
			Sources:     cli.EnvVars("KITSUNE_TOKEN_TTL"),
			Usage:       "Lifetime of issued session tokens",
			Value:       authsvc.DefaultTokenTTL,
			Destination: &x.TokenTTL,
		},
	}
}

func (x Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("jwt_secret_set", x.JWTSecret != ""),
		slog.Duration("token_ttl", x.TokenTTL),
	)
}

// Configure builds the authenticator over repo
func (x *Auth) Configure(repo interfaces.ProjectRepository) (*authsvc.Service, error) {
	if x.JWTSecret == "" {
		return nil, goerr.New("jwt-secret is required")
	}
	if x.TokenTTL <= 0 {
		return nil, goerr.New("token-ttl must be positive", goerr.V("token_ttl", x.TokenTTL))
	}
	return authsvc.New(repo, x.JWTSecret, authsvc.WithTokenTTL(x.TokenTTL))
}
