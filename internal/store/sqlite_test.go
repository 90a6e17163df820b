// ABOUTME: Tests for the SQLite store implementation.
// ABOUTME: Validates path CRUD, subtree snapshots, push key uniqueness, and claim contention.

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_GetSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "tenants/acme", Tenant{ID: "t-1", Name: "Acme"}))

	var got Tenant
	require.NoError(t, s.Get(ctx, "tenants/acme", &got))
	assert.Equal(t, "t-1", got.ID)
	assert.Equal(t, "Acme", got.Name)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	s := newTestStore(t)

	var got Tenant
	err := s.Get(context.Background(), "tenants/missing", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Set_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "user_index/conv-1", "user-a"))
	require.NoError(t, s.Set(ctx, "user_index/conv-1", "user-b"))

	var got string
	require.NoError(t, s.Get(ctx, "user_index/conv-1", &got))
	assert.Equal(t, "user-b", got)
}

func TestSQLiteStore_Update_MergesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "hi", CreatedAt: 100}))
	require.NoError(t, s.Update(ctx, "responses/acme/c1/r1", map[string]any{"sent": true}))

	var got PendingResponse
	require.NoError(t, s.Get(ctx, "responses/acme/c1/r1", &got))
	assert.Equal(t, "hi", got.Text)
	assert.Equal(t, int64(100), got.CreatedAt)
	assert.True(t, got.Sent)
}

func TestSQLiteStore_Update_CreatesMissingObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "sessions/t-1/u-1", map[string]any{"started_at": int64(42)}))

	var got Session
	require.NoError(t, s.Get(ctx, "sessions/t-1/u-1", &got))
	assert.Equal(t, int64(42), got.StartedAt)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "hi"}))
	require.NoError(t, s.Delete(ctx, "responses/acme/c1/r1"))

	var got PendingResponse
	assert.ErrorIs(t, s.Get(ctx, "responses/acme/c1/r1", &got), ErrNotFound)

	// Deleting an absent path is a no-op
	assert.NoError(t, s.Delete(ctx, "responses/acme/c1/r1"))
}

func TestSQLiteStore_Delete_RemovesDescendants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "a"}))
	require.NoError(t, s.Set(ctx, "responses/acme/c1/r2", PendingResponse{Text: "b"}))
	require.NoError(t, s.Set(ctx, "responses/acme/c2/r3", PendingResponse{Text: "c"}))

	require.NoError(t, s.Delete(ctx, "responses/acme/c1"))

	entries, err := s.Subtree(ctx, "responses")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, "acme/c2/r3")
}

func TestSQLiteStore_Push_UniqueKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	k1, err := s.Push(ctx, "messages/acme/c1", Message{Role: "user", Content: "one"})
	require.NoError(t, err)
	k2, err := s.Push(ctx, "messages/acme/c1", Message{Role: "user", Content: "two"})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)

	entries, err := s.Subtree(ctx, "messages/acme/c1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLiteStore_Subtree_RelativeKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "a"}))
	require.NoError(t, s.Set(ctx, "responses/beta/c9/r2", PendingResponse{Text: "b"}))
	require.NoError(t, s.Set(ctx, "messages/acme/c1/m1", Message{Role: "user"}))

	entries, err := s.Subtree(ctx, "responses")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "acme/c1/r1")
	assert.Contains(t, entries, "beta/c9/r2")
}

func TestSQLiteStore_Subtree_Empty(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.Subtree(context.Background(), "responses")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteStore_Claim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "hi", CreatedAt: 100}))

	ok, err := s.Claim(ctx, "responses/acme/c1/r1", "sent")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim must lose
	ok, err = s.Claim(ctx, "responses/acme/c1/r1", "sent")
	require.NoError(t, err)
	assert.False(t, ok)

	var got PendingResponse
	require.NoError(t, s.Get(ctx, "responses/acme/c1/r1", &got))
	assert.True(t, got.Sent)
	assert.Equal(t, "hi", got.Text)
}

func TestSQLiteStore_Claim_MissingPath(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Claim(context.Background(), "responses/acme/c1/gone", "sent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_Claim_ExplicitFalse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "responses/acme/c1/r1", map[string]any{"text": "hi", "sent": false}))

	ok, err := s.Claim(ctx, "responses/acme/c1/r1", "sent")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_Claim_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "hi"}))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, "responses/acme/c1/r1", "sent")
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent claim must commit")
}
