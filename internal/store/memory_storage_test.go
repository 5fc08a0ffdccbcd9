package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	storage := NewMemoryStorage()
	defer storage.Close()
	ctx := context.Background()

	entries := New[testEntry](storage, "e:")
	want := testEntry{Name: "alice", Count: 3}
	require.NoError(t, entries.Set(ctx, "k1", want, time.Minute))

	got, err := entries.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = entries.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorageExpiry(t *testing.T) {
	storage := NewMemoryStorage()
	defer storage.Close()
	ctx := context.Background()

	entries := New[testEntry](storage, "e:")
	require.NoError(t, entries.Set(ctx, "k1", testEntry{Name: "bob"}, 30*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	_, err := entries.Get(ctx, "k1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoragePrefixIsolation(t *testing.T) {
	storage := NewMemoryStorage()
	defer storage.Close()
	ctx := context.Background()

	a := New[testEntry](storage, "a:")
	b := New[testEntry](storage, "b:")
	require.NoError(t, a.Set(ctx, "k", testEntry{Name: "a"}, time.Minute))

	_, err := b.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}
