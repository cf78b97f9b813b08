package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigia/internal/core/domain"
)

func TestHintStoreRoundTrip(t *testing.T) {
	store := NewHintStore(time.Minute)
	defer store.Close()

	hint := domain.WatchingHint{
		Category:  42,
		SocketIDs: []domain.SocketID{"sock-1", "sock-2"},
		SavedAt:   time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), hint))

	got, err := store.Load(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hint.SocketIDs, got.SocketIDs)
}

func TestHintStoreMissAndCategoryMismatch(t *testing.T) {
	store := NewHintStore(time.Minute)
	defer store.Close()

	got, err := store.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(context.Background(), domain.WatchingHint{
		Category:  1,
		SocketIDs: []domain.SocketID{"sock-1"},
		SavedAt:   time.Now(),
	}))

	got, err = store.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHintStoreExpiry(t *testing.T) {
	store := NewHintStore(50 * time.Millisecond)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), domain.WatchingHint{
		Category:  7,
		SocketIDs: []domain.SocketID{"sock-1"},
		SavedAt:   time.Now().Add(-time.Second),
	}))

	got, err := store.Load(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, got, "stale hints must be ignored")
}
