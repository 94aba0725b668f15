package usecase

import (
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

// TokenIssuer signs session tokens for a project
type TokenIssuer interface {
	IssueToken(projectID types.ProjectID) (string, error)
}

// UseCases holds all use cases served by the controllers
type UseCases struct {
	repo   interfaces.Repository
	codec  interfaces.SecretCodec
	model  interfaces.ChatModel
	tokens TokenIssuer

	registry *registryUseCaseImpl
}

// Option is a functional option for UseCases
type Option func(*UseCases)

// WithSecretCodec sets the codec used for stored model credentials
func WithSecretCodec(codec interfaces.SecretCodec) Option {
	return func(uc *UseCases) {
		uc.codec = codec
	}
}

// WithChatModel sets the model invocation adapter
func WithChatModel(model interfaces.ChatModel) Option {
	return func(uc *UseCases) {
		uc.model = model
	}
}

// WithTokenIssuer sets the session token issuer
func WithTokenIssuer(tokens TokenIssuer) Option {
	return func(uc *UseCases) {
		uc.tokens = tokens
	}
}

// New creates a new UseCases instance
func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{repo: repo}
	for _, opt := range opts {
		opt(uc)
	}
	uc.registry = newRegistry(repo, uc.codec)
	return uc
}

func (uc *UseCases) Registry() interfaces.RegistryUseCases {
	return uc.registry
}

func (uc *UseCases) Chat() interfaces.ChatUseCases {
	return &chatUseCaseImpl{
		repo:     uc.repo,
		model:    uc.model,
		registry: uc.registry,
	}
}

func (uc *UseCases) Project() interfaces.ProjectUseCases {
	return &projectUseCaseImpl{
		repo:   uc.repo,
		tokens: uc.tokens,
	}
}
