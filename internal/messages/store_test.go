package messages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

func TestMemStoreListReturnsOldestFirstCappedAtLimit(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, axismsg.ConversationMessage{
			ConversationID: "conv-1",
			Role:           "user",
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	out, err := s.List(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].Content)
	assert.Equal(t, "e", out[2].Content)
}

func TestMemStoreListIsolatesByConversation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, axismsg.ConversationMessage{ConversationID: "conv-1", Content: "a"}))
	require.NoError(t, s.Append(ctx, axismsg.ConversationMessage{ConversationID: "conv-2", Content: "b"}))

	out, err := s.List(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Content)
}
