package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journey/pkg/types"
)

func TestMessages_StrictOrderWithinThread(t *testing.T) {
	b := setupBackend(t)
	threadID, _ := seedMessage(t, b, "u1")
	ctx := context.Background()

	// Pin every message to the same instant; the store must still order them.
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.Update(ctx, func(tx types.Tx) error {
		for i := 0; i < 5; i++ {
			m := &types.Message{ThreadID: threadID, Role: types.RoleAssistant, Content: "x", CreatedAt: fixed}
			if err := tx.Messages().Append(m); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, b.View(ctx, func(tx types.Tx) error {
		msgs, err := tx.Messages().ListActive(threadID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 6)
		for i := 1; i < len(msgs); i++ {
			assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt), "message %d not after %d", i, i-1)
		}
		return nil
	}))
}

func TestMessages_ListActiveLimitKeepsTail(t *testing.T) {
	b := setupBackend(t)
	threadID, _ := seedMessage(t, b, "u1")
	ctx := context.Background()

	require.NoError(t, b.Update(ctx, func(tx types.Tx) error {
		for _, c := range []string{"a", "b", "c"} {
			if err := tx.Messages().Append(&types.Message{ThreadID: threadID, Role: types.RoleUser, Content: c}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, b.View(ctx, func(tx types.Tx) error {
		msgs, err := tx.Messages().ListActive(threadID, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "b", msgs[0].Content)
		assert.Equal(t, "c", msgs[1].Content)
		return nil
	}))
}

func TestMessages_SoftDeleteFrom(t *testing.T) {
	b := setupBackend(t)
	threadID, firstID := seedMessage(t, b, "u1")
	ctx := context.Background()

	var second *types.Message
	require.NoError(t, b.Update(ctx, func(tx types.Tx) error {
		second = &types.Message{ThreadID: threadID, Role: types.RoleUser, Content: "second"}
		if err := tx.Messages().Append(second); err != nil {
			return err
		}
		return tx.Messages().Append(&types.Message{ThreadID: threadID, Role: types.RoleAssistant, Content: "reply"})
	}))

	require.NoError(t, b.Update(ctx, func(tx types.Tx) error {
		ids, err := tx.Messages().SoftDeleteFrom(threadID, second.CreatedAt, time.Now())
		require.NoError(t, err)
		assert.Len(t, ids, 2)
		assert.Equal(t, second.ID, ids[0])

		active, err := tx.Messages().ListActive(threadID, 0)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, firstID, active[0].ID)

		deleted, err := tx.Messages().Get(second.ID)
		require.NoError(t, err)
		assert.False(t, deleted.Active())
		return nil
	}))
}
