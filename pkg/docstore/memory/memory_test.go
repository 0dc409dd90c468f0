package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfolio/agentfolio/pkg/docstore"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Set(ctx, "users/u1/site/profile", docstore.Document{
		"name":  "Ada",
		"score": int64(42),
	}, false)
	require.NoError(t, err)

	doc, err := store.Get(ctx, "users/u1/site/profile")
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc["name"])
	assert.Equal(t, int64(42), doc["score"])
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := New()

	_, err := store.Get(context.Background(), "users/u1/site/profile")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestMemoryStore_MergePreservesFields(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{"a": 1, "b": 2}, false))
	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{"b": 3}, true))

	doc, err := store.Get(ctx, "d/1")
	require.NoError(t, err)
	assert.Equal(t, 1, doc["a"])
	assert.Equal(t, 3, doc["b"])
}

func TestMemoryStore_ReplaceDropsFields(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{"a": 1, "b": 2}, false))
	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{"b": 3}, false))

	doc, err := store.Get(ctx, "d/1")
	require.NoError(t, err)
	assert.NotContains(t, doc, "a")
	assert.Equal(t, 3, doc["b"])
}

func TestMemoryStore_ServerTimestamp(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{"updatedAt": docstore.ServerTimestamp}, false))
	doc, err := store.Get(ctx, "d/1")
	require.NoError(t, err)

	first, ok := doc["updatedAt"].(time.Time)
	require.True(t, ok, "updatedAt should be a time.Time, got %T", doc["updatedAt"])

	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{"updatedAt": docstore.ServerTimestamp}, true))
	doc, err = store.Get(ctx, "d/1")
	require.NoError(t, err)

	second, ok := doc["updatedAt"].(time.Time)
	require.True(t, ok)
	assert.True(t, second.After(first), "server timestamps must be strictly increasing")
}

func TestMemoryStore_Increment(t *testing.T) {
	store := New()
	ctx := context.Background()

	// Increment creates the document when absent.
	require.NoError(t, store.Increment(ctx, "d/1", "count", 3))
	require.NoError(t, store.Increment(ctx, "d/1", "count", 4))

	doc, err := store.Get(ctx, "d/1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), doc["count"])
}

func TestMemoryStore_IncrementConcurrent(t *testing.T) {
	store := New()
	ctx := context.Background()

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = store.Increment(ctx, "d/1", "count", 1)
			}
		}()
	}
	wg.Wait()

	doc, err := store.Get(ctx, "d/1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), doc["count"])
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{
		"nested": map[string]any{"k": "v"},
	}, false))

	doc, err := store.Get(ctx, "d/1")
	require.NoError(t, err)
	doc["nested"].(map[string]any)["k"] = "mutated"

	fresh, err := store.Get(ctx, "d/1")
	require.NoError(t, err)
	assert.Equal(t, "v", fresh["nested"].(map[string]any)["k"])
}

func TestMemoryStore_Closed(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "d/1", docstore.Document{"a": 1}, false))
	require.NoError(t, store.Close())

	_, err := store.Get(ctx, "d/1")
	assert.ErrorIs(t, err, docstore.ErrStoreClosed)
	assert.ErrorIs(t, store.Set(ctx, "d/1", docstore.Document{"a": 2}, true), docstore.ErrStoreClosed)
	assert.ErrorIs(t, store.Increment(ctx, "d/1", "a", 1), docstore.ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(ctx), docstore.ErrStoreClosed)
}

func TestMemoryStore_ManyDocuments(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		path := fmt.Sprintf("users/u1/analytics/doc%d", i)
		require.NoError(t, store.Set(ctx, path, docstore.Document{"i": i}, false))
	}

	doc, err := store.Get(ctx, "users/u1/analytics/doc42")
	require.NoError(t, err)
	assert.Equal(t, 42, doc["i"])
}
