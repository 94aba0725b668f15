package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/kitsune/pkg/controller/http/middleware"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/utils/safe"
)

// Server represents the HTTP server
type Server struct {
	router        *chi.Mux
	registry      interfaces.RegistryUseCases
	chat          interfaces.ChatUseCases
	authenticator interfaces.Authenticator
	limiter       *middleware.RateLimiter
	wsOrigins     []string
}

// Options is a functional option for Server
type Options func(*Server)

// WithRegistry sets the agent, version and profile use cases
func WithRegistry(uc interfaces.RegistryUseCases) Options {
	return func(s *Server) {
		s.registry = uc
	}
}

// WithChat sets the conversation use cases
func WithChat(uc interfaces.ChatUseCases) Options {
	return func(s *Server) {
		s.chat = uc
	}
}

// WithAuthenticator sets the bearer credential resolver
func WithAuthenticator(authenticator interfaces.Authenticator) Options {
	return func(s *Server) {
		s.authenticator = authenticator
	}
}

// WithRateLimiter enables per principal rate limiting
func WithRateLimiter(limiter *middleware.RateLimiter) Options {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithWebSocketOrigins sets the origin patterns accepted by the chat websocket.
// Same origin requests are always accepted.
func WithWebSocketOrigins(patterns []string) Options {
	return func(s *Server) {
		s.wsOrigins = patterns
	}
}

// New creates a new HTTP server
func New(opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(loggingMiddleware)
	r.Use(panicRecoveryMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		safe.Write(r.Context(), w, []byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		if s.authenticator != nil {
			r.Use(middleware.Auth(s.authenticator))
		}
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		if s.chat != nil {
			r.Route("/chat", func(r chi.Router) {
				r.Post("/", s.handleChat)
				r.Post("/stream", s.handleChatStream)
				r.Get("/ws", s.handleChatWebSocket)
				r.Get("/history", s.handleListHistory)
				r.Get("/history/{session_id}", s.handleGetSessionHistory)
				r.Delete("/history/{session_id}", s.handleDeleteSession)
				r.Get("/sessions", s.handleListSessions)
			})
		}

		if s.registry != nil {
			r.Route("/agents", func(r chi.Router) {
				r.Post("/", s.handleCreateAgent)
				r.Get("/", s.handleListAgents)
				r.Route("/{agent_id}", func(r chi.Router) {
					r.Get("/", s.handleGetAgent)
					r.Put("/", s.handleUpdateAgent)
					r.Delete("/", s.handleDeleteAgent)

					r.Route("/versions", func(r chi.Router) {
						r.Post("/", s.handleCreateVersion)
						r.Get("/", s.handleListVersions)
						r.Get("/compare", s.handleCompareVersions)
						r.Get("/{version_id}", s.handleGetVersion)
						r.Delete("/{version_id}", s.handleDeleteVersion)
						r.Post("/{version_id}/activate", s.handleActivateVersion)
					})
				})
			})

			r.Route("/profiles", func(r chi.Router) {
				r.Post("/", s.handleCreateProfile)
				r.Get("/", s.handleListProfiles)
				r.Get("/{profile_id}", s.handleGetProfile)
				r.Put("/{profile_id}", s.handleUpdateProfile)
				r.Delete("/{profile_id}", s.handleDeleteProfile)
			})
		}
	})

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
