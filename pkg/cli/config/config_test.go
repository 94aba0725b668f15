package config_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/cli/config"
	"github.com/m-mizutani/kitsune/pkg/repository/database/memory"
	"github.com/m-mizutani/kitsune/pkg/repository/database/sqlite"
	"github.com/m-mizutani/kitsune/pkg/utils/safe"
)

func TestDatabase_Configure(t *testing.T) {
	ctx := context.Background()

	t.Run("memory by default", func(t *testing.T) {
		repo, err := (&config.Database{}).Configure(ctx)
		gt.NoError(t, err)
		defer safe.Close(ctx, repo)
		_, ok := repo.(*memory.Client)
		gt.True(t, ok)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config.Database{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "kitsune.db")}
		repo, err := cfg.Configure(ctx)
		gt.NoError(t, err)
		defer safe.Close(ctx, repo)
		_, ok := repo.(*sqlite.Client)
		gt.True(t, ok)
	})

	t.Run("firestore requires project", func(t *testing.T) {
		_, err := (&config.Database{Backend: config.BackendFirestore}).Configure(ctx)
		gt.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := (&config.Database{Backend: "redis"}).Configure(ctx)
		gt.Error(t, err)
	})
}

func TestAuth_Configure(t *testing.T) {
	repo := memory.New()

	_, err := (&config.Auth{TokenTTL: 0, JWTSecret: "secret"}).Configure(repo)
	gt.Error(t, err)

	_, err = (&config.Auth{TokenTTL: time.Hour}).Configure(repo)
	gt.Error(t, err)

	svc, err := (&config.Auth{TokenTTL: time.Hour, JWTSecret: "secret"}).Configure(repo)
	gt.NoError(t, err)
	gt.NotNil(t, svc)
}

func TestCrypto_Configure(t *testing.T) {
	_, err := (&config.Crypto{}).Configure()
	gt.Error(t, err)

	codec, err := (&config.Crypto{EncryptionKey: "local-key"}).Configure()
	gt.NoError(t, err)
	sealed, err := codec.Encrypt("sk-value")
	gt.NoError(t, err)
	opened, err := codec.Decrypt(sealed)
	gt.NoError(t, err)
	gt.Equal(t, opened, "sk-value")
}

func TestRateLimit_Configure(t *testing.T) {
	gt.True(t, (&config.RateLimit{}).Configure() == nil)
	gt.True(t, (&config.RateLimit{PerMinute: 60, Burst: 5}).Configure() != nil)
}
