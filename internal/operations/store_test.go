package operations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deleteItems(ids ...string) []*Item {
	items := make([]*Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, newItem(map[string]interface{}{"invoice_id": id}))
	}
	return items
}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore()

	id := store.Create("user-1", KindDelete, deleteItems("a", "b"), map[string]interface{}{"source": "api"})
	require.NotEmpty(t, id)

	snap, err := store.Get(id)
	require.NoError(t, err)

	assert.Equal(t, id, snap.ID)
	assert.Equal(t, "user-1", snap.UserID)
	assert.Equal(t, KindDelete, snap.Kind)
	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, 2, snap.Progress.Total)
	assert.Equal(t, 0, snap.Progress.Processed)
	assert.Equal(t, 2, snap.ItemsSummary.Pending)
	assert.Equal(t, "api", snap.Metadata["source"])
}

func TestStore_GetUnknownOperation(t *testing.T) {
	store := NewStore()

	_, err := store.Get("no-such-id")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	store := NewStore()
	id := store.Create("user-1", KindDelete, deleteItems("a"), nil)

	snap, err := store.Get(id)
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the store
	snap.Metadata["injected"] = true
	snap.Progress.Processed = 99

	fresh, err := store.Get(id)
	require.NoError(t, err)
	assert.NotContains(t, fresh.Metadata, "injected")
	assert.Equal(t, 0, fresh.Progress.Processed)
}

func TestStore_MutateSerializesCounters(t *testing.T) {
	store := NewStore()
	id := store.Create("user-1", KindDelete, deleteItems("a", "b", "c"), nil)

	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				store.Mutate(id, func(op *Operation) {
					op.Progress.Processed++
				})
			}
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}

	snap, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 300, snap.Progress.Processed)
}

func TestStore_ListItemsPagination(t *testing.T) {
	store := NewStore()
	id := store.Create("user-1", KindDelete, deleteItems("a", "b", "c", "d", "e"), nil)

	tests := []struct {
		name      string
		limit     int
		offset    int
		wantCount int
		wantFirst string
	}{
		{name: "first page", limit: 2, offset: 0, wantCount: 2, wantFirst: "a"},
		{name: "second page", limit: 2, offset: 2, wantCount: 2, wantFirst: "c"},
		{name: "trailing page", limit: 2, offset: 4, wantCount: 1, wantFirst: "e"},
		{name: "offset past end", limit: 2, offset: 10, wantCount: 0},
		{name: "no limit returns all", limit: 0, offset: 0, wantCount: 5, wantFirst: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := store.ListItems(id, tt.limit, tt.offset)
			require.NoError(t, err)
			require.Len(t, items, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, tt.wantFirst, items[0].Data["invoice_id"])
			}
		})
	}
}

func TestStore_ListForUserNewestFirst(t *testing.T) {
	store := NewStore()

	first := store.Create("user-1", KindDelete, deleteItems("a"), nil)
	store.Mutate(first, func(op *Operation) {
		op.CreatedAt = time.Now().UTC().Add(-time.Hour)
	})
	second := store.Create("user-1", KindDelete, deleteItems("b"), nil)
	store.Create("user-2", KindDelete, deleteItems("c"), nil)

	result := store.ListForUser("user-1", 0)
	require.Len(t, result, 2)
	assert.Equal(t, second, result[0].ID)
	assert.Equal(t, first, result[1].ID)

	limited := store.ListForUser("user-1", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, second, limited[0].ID)

	assert.Empty(t, store.ListForUser("user-3", 0))
}

func TestStore_RemoveRequiresTerminalStatus(t *testing.T) {
	store := NewStore()
	id := store.Create("user-1", KindDelete, deleteItems("a"), nil)

	err := store.Remove(id)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))

	store.Mutate(id, func(op *Operation) {
		op.Status = StatusCompleted
	})
	require.NoError(t, store.Remove(id))

	_, err = store.Get(id)
	assert.True(t, IsNotFound(err))
}

func TestStore_CleanupCompleted(t *testing.T) {
	store := NewStore()

	old := store.Create("user-1", KindDelete, deleteItems("a"), nil)
	stale := time.Now().UTC().Add(-2 * time.Hour)
	store.Mutate(old, func(op *Operation) {
		op.Status = StatusCompleted
		op.CompletedAt = &stale
	})

	fresh := store.Create("user-1", KindDelete, deleteItems("b"), nil)
	now := time.Now().UTC()
	store.Mutate(fresh, func(op *Operation) {
		op.Status = StatusPartial
		op.CompletedAt = &now
	})

	running := store.Create("user-1", KindDelete, deleteItems("c"), nil)
	store.Mutate(running, func(op *Operation) {
		op.Status = StatusRunning
	})

	removed := store.CleanupCompleted(time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Count())

	_, err := store.Get(old)
	assert.True(t, IsNotFound(err))
	_, err = store.Get(fresh)
	assert.NoError(t, err)
}
