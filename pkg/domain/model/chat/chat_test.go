package chat_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

func TestBuildMessages(t *testing.T) {
	ctx := context.Background()
	origin := chat.Origin{ProjectID: types.NewProjectID(ctx), SessionID: types.NewSessionID(ctx)}
	history := []*chat.Turn{
		chat.NewTurn(ctx, origin, chat.RoleUser, "hello", chat.Usage{}),
		chat.NewTurn(ctx, origin, chat.RoleAssistant, "hi there", chat.Usage{}),
	}

	messages := chat.BuildMessages("be nice", history, "how are you")
	gt.A(t, messages).Length(4)
	gt.Equal(t, messages[0], chat.Message{Role: chat.RoleSystem, Content: "be nice"})
	gt.Equal(t, messages[1], chat.Message{Role: chat.RoleUser, Content: "hello"})
	gt.Equal(t, messages[2], chat.Message{Role: chat.RoleAssistant, Content: "hi there"})
	gt.Equal(t, messages[3], chat.Message{Role: chat.RoleUser, Content: "how are you"})
}

func TestTurnFilter(t *testing.T) {
	ctx := context.Background()
	keyID := types.NewAPIKeyID(ctx)
	version := 2
	turn := &chat.Turn{VersionNumber: 2, APIKeyID: &keyID}

	gt.True(t, chat.TurnFilter{}.Match(turn))
	gt.True(t, chat.TurnFilter{VersionNumber: &version, APIKeyID: &keyID}.Match(turn))

	other := types.NewAPIKeyID(ctx)
	gt.False(t, chat.TurnFilter{APIKeyID: &other}.Match(turn))
	gt.False(t, chat.TurnFilter{APIKeyID: &keyID}.Match(&chat.Turn{}))

	gt.Equal(t, chat.TurnFilter{}.ClampLimit(), chat.DefaultHistoryLimit)
	gt.Equal(t, chat.TurnFilter{Limit: 10000}.ClampLimit(), chat.MaxHistoryLimit)
	gt.Equal(t, chat.TurnFilter{Limit: 7}.ClampLimit(), 7)
	gt.Equal(t, chat.TurnFilter{Limit: -3}.ClampLimit(), 1)
}

func TestSessionResolution(t *testing.T) {
	ctx := context.Background()
	id := types.NewSessionID(ctx)

	gt.True(t, chat.Generated(id).Accepted())
	gt.True(t, chat.Existing(id).Accepted())

	rejected := chat.Rejected("session not found")
	gt.False(t, rejected.Accepted())
	gt.Equal(t, rejected.Kind.String(), "rejected")
}
