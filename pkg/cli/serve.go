package cli

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/cli/config"
	server "github.com/m-mizutani/kitsune/pkg/controller/http"
	"github.com/m-mizutani/kitsune/pkg/usecase"
	"github.com/m-mizutani/kitsune/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		serverCfg    config.Server
		databaseCfg  config.Database
		authCfg      config.Auth
		cryptoCfg    config.Crypto
		llmCfg       config.LLM
		rateLimitCfg config.RateLimit
	)

	var flags []cli.Flag
	flags = append(flags, serverCfg.Flags()...)
	flags = append(flags, databaseCfg.Flags()...)
	flags = append(flags, authCfg.Flags()...)
	flags = append(flags, cryptoCfg.Flags()...)
	flags = append(flags, llmCfg.Flags()...)
	flags = append(flags, rateLimitCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run server",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctxlog.From(ctx).Info("starting server",
				"server", serverCfg,
				"database", databaseCfg,
				"auth", authCfg,
				"llm", llmCfg,
				"rate_limit", rateLimitCfg,
			)

			repo, err := databaseCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo)

			codec, err := cryptoCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to configure secret codec")
			}
			authService, err := authCfg.Configure(repo)
			if err != nil {
				return goerr.Wrap(err, "failed to configure authentication")
			}
			llmClient, err := llmCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to configure llm client")
			}

			uc := usecase.New(repo,
				usecase.WithSecretCodec(codec),
				usecase.WithChatModel(llmClient),
				usecase.WithTokenIssuer(authService),
			)

			serverOptions := []server.Options{
				server.WithRegistry(uc.Registry()),
				server.WithChat(uc.Chat()),
				server.WithAuthenticator(authService),
				server.WithWebSocketOrigins(serverCfg.WebSocketOrigins),
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			if limiter := rateLimitCfg.Configure(); limiter != nil {
				go limiter.Run(ctx)
				serverOptions = append(serverOptions, server.WithRateLimiter(limiter))
			}

			httpServer := http.Server{
				Addr:              serverCfg.Addr,
				Handler:           server.New(serverOptions...),
				ReadTimeout:       serverCfg.ReadTimeout,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      serverCfg.WriteTimeout,
				BaseContext: func(l net.Listener) context.Context {
					return ctx
				},
			}

			errCh := make(chan error, 1)
			go func() {
				defer close(errCh)
				ctxlog.From(ctx).Info("server started", "addr", serverCfg.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err == nil {
					return nil
				}
				return goerr.Wrap(err, "server stopped", goerr.V("addr", serverCfg.Addr))
			case <-sigCh:
				ctxlog.From(ctx).Info("shutting down server...")
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
				defer cancelShutdown()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}
}
