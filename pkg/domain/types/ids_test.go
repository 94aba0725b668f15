package types_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

func TestNewIDs(t *testing.T) {
	ctx := context.Background()

	gt.True(t, types.NewProjectID(ctx).IsValid())
	gt.True(t, types.NewAgentID(ctx).IsValid())
	gt.True(t, types.NewVersionID(ctx).IsValid())
	gt.True(t, types.NewProfileID(ctx).IsValid())
	gt.True(t, types.NewTurnID(ctx).IsValid())
	gt.True(t, types.NewAPIKeyID(ctx).IsValid())
	gt.True(t, types.NewSessionID(ctx).IsValid())

	gt.False(t, types.AgentID("").IsValid())
	gt.False(t, types.AgentID("not-a-uuid").IsValid())
}

func TestParseSessionID(t *testing.T) {
	ctx := context.Background()
	id := types.NewSessionID(ctx)

	t.Run("canonical form", func(t *testing.T) {
		parsed, ok := types.ParseSessionID(id.String())
		gt.True(t, ok)
		gt.Equal(t, parsed, id)
	})

	t.Run("upper case is normalized", func(t *testing.T) {
		parsed, ok := types.ParseSessionID(strings.ToUpper(id.String()))
		gt.True(t, ok)
		gt.Equal(t, parsed, id)
	})

	t.Run("malformed", func(t *testing.T) {
		_, ok := types.ParseSessionID("session-1")
		gt.False(t, ok)
	})
}
