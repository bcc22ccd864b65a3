package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, store Store) {
	t.Helper()

	// Missing keys report absence, not errors.
	_, found, err := store.GetString("acc1", "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetString("acc1", "thread:order:100", "abc"))
	s, found, err := store.GetString("acc1", "thread:order:100")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", s)

	require.NoError(t, store.SetInt64("acc1", "cb:stopped", 1))
	n, found, err := store.GetInt64("acc1", "cb:stopped")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.SetFloat64("acc1", "cb:daily_high_equity", 10234.56))
	f, found, err := store.GetFloat64("acc1", "cb:daily_high_equity")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 10234.56, f)

	// Keys are scoped per account.
	_, found, err = store.GetInt64("acc2", "cb:stopped")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	roundTrip(t, store)
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	roundTrip(t, store)
}

// TestBadgerStore_SurvivesReopen tests durability across a close and reopen
func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SetInt64("acc1", "thread:order:7", 42))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.GetInt64("acc1", "thread:order:7")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), v)
}
