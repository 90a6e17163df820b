// ABOUTME: Tests for the in-memory mock store.
// ABOUTME: Verifies behavior parity with the SQLite implementation, especially for Claim.

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_GetSetDelete(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "tenants/acme", Tenant{ID: "t-1"}))

	var got Tenant
	require.NoError(t, m.Get(ctx, "tenants/acme", &got))
	assert.Equal(t, "t-1", got.ID)

	require.NoError(t, m.Delete(ctx, "tenants/acme"))
	assert.ErrorIs(t, m.Get(ctx, "tenants/acme", &got), ErrNotFound)
}

func TestMockStore_Update_Merges(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "hi", CreatedAt: 7}))
	require.NoError(t, m.Update(ctx, "responses/acme/c1/r1", map[string]any{"sent": true}))

	var got PendingResponse
	require.NoError(t, m.Get(ctx, "responses/acme/c1/r1", &got))
	assert.Equal(t, "hi", got.Text)
	assert.True(t, got.Sent)
}

func TestMockStore_Subtree(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "a"}))
	require.NoError(t, m.Set(ctx, "responses/acme/c1/r2", PendingResponse{Text: "b"}))
	require.NoError(t, m.Set(ctx, "messages/acme/c1/m1", Message{Role: "user"}))

	entries, err := m.Subtree(ctx, "responses")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "acme/c1/r1")
	assert.Contains(t, entries, "acme/c1/r2")
}

func TestMockStore_Claim_SingleWinner(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "hi"}))

	ok, err := m.Claim(ctx, "responses/acme/c1/r1", "sent")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Claim(ctx, "responses/acme/c1/r1", "sent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockStore_Claim_MissingPath(t *testing.T) {
	m := NewMockStore()

	ok, err := m.Claim(context.Background(), "responses/acme/c1/gone", "sent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockStore_Claim_Concurrent(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "responses/acme/c1/r1", PendingResponse{Text: "hi"}))

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Claim(ctx, "responses/acme/c1/r1", "sent")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}

func TestSplitResponseKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		wantOK bool
	}{
		{"valid", "acme/5511999@s.whatsapp.net/r-1", true},
		{"too few segments", "acme/r-1", false},
		{"too many segments", "acme/c1/r1/extra", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slug, conv, id, ok := SplitResponseKey(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "acme", slug)
				assert.Equal(t, "5511999@s.whatsapp.net", conv)
				assert.Equal(t, "r-1", id)
			}
		})
	}
}
