package objects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journey/pkg/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_TrashAndRestore(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	require.NoError(t, s.Put(ctx, "f1", []byte("hello")))
	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, s.Trash(ctx, "f1"))
	_, err = s.Get(ctx, "f1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.Restore(ctx, "f1"))
	got, err = s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestStore_MissingKeys(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	assert.NoError(t, s.Trash(ctx, "absent"))
	assert.NoError(t, s.Restore(ctx, "absent"))
	assert.ErrorIs(t, s.Put(ctx, "", []byte("x")), types.ErrInvalidID)

	require.NoError(t, s.Put(ctx, "f2", []byte("x")))
	require.NoError(t, s.Trash(ctx, "f2"))
	require.NoError(t, s.Remove(ctx, "f2"))
	require.NoError(t, s.Restore(ctx, "f2"))
	_, err := s.Get(ctx, "f2")
	assert.ErrorIs(t, err, types.ErrNotFound, "removed payloads cannot be restored")
}
