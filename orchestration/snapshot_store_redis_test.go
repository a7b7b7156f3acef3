package orchestration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisSnapshotStore(t *testing.T) *RedisSnapshotStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisSnapshotStore(fmt.Sprintf("redis://%s", mr.Addr()), "snap-test:", time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisSnapshotStore_SaveAndLoad(t *testing.T) {
	store := newTestRedisSnapshotStore(t)

	m := NewMachine("card-1")
	_, _ = m.Transition(EventStart, "kickoff", nil)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, m.Snapshot()))

	snap, found, err := store.Load(ctx, "card-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateInitializing, snap.State)
	assert.Len(t, snap.History, 1)
}

func TestRedisSnapshotStore_LoadMissingIsNotFound(t *testing.T) {
	store := newTestRedisSnapshotStore(t)

	_, found, err := store.Load(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisSnapshotStore_CorruptValueTreatedAsAbsent(t *testing.T) {
	store := newTestRedisSnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, store.client.Set(ctx, store.key("card-2"), "{not valid json", 0).Err())

	snap, found, err := store.Load(ctx, "card-2")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Snapshot{}, snap)
}

func TestRedisSnapshotStore_Delete(t *testing.T) {
	store := newTestRedisSnapshotStore(t)
	ctx := context.Background()

	m := NewMachine("card-3")
	require.NoError(t, store.Save(ctx, m.Snapshot()))

	require.NoError(t, store.Delete(ctx, "card-3"))
	_, found, err := store.Load(ctx, "card-3")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an already-absent snapshot is not an error.
	require.NoError(t, store.Delete(ctx, "card-3"))
}

func TestNewRedisSnapshotStore_InvalidURL(t *testing.T) {
	_, err := NewRedisSnapshotStore("not-a-redis-url", "snap-test:", time.Minute, nil)
	assert.Error(t, err)
}
