package interfaces

import (
	"context"

	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
)

// ChatModel invokes a chat completion provider. Failures are reported with
// the provider tag and are never retried.
type ChatModel interface {
	Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.Completion, error)
	// Stream calls onDelta for each text fragment in order. When onDelta
	// returns an error or ctx is canceled the provider connection is closed
	// and the error is returned.
	Stream(ctx context.Context, req *chat.CompletionRequest, onDelta func(delta string) error) (*chat.Completion, error)
}

// SecretCodec encrypts credentials at rest
type SecretCodec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Authenticator resolves a bearer credential into a principal
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*auth.Principal, error)
}
