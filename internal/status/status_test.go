package status_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/status"
)

func TestCountersRecord(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	c := status.NewCounters()
	c.Record(api.RunResult{Status: api.StatusNoFailure})
	c.Record(api.RunResult{Status: api.StatusFailure})
	c.Record(api.RunResult{Status: api.StatusFailure})
	c.Record(api.RunResult{Status: api.StatusIgnored})
	c.Record(api.RunResult{Status: api.StatusError})

	store, err := status.NewStore(c)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Publish())

	snaps, err := status.ReadAll()
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snap := snaps[0]
	require.Equal(t, int64(5), snap.Iterations)
	require.Equal(t, int64(2), snap.Results)
	require.Equal(t, int64(1), snap.Ignored)
	require.Equal(t, int64(1), snap.Errors)
	require.NotZero(t, snap.PID)
}

func TestPublishOverwrites(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	c := status.NewCounters()
	store, err := status.NewStore(c)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Publish())
	c.Record(api.RunResult{Status: api.StatusNoFailure})
	require.NoError(t, store.Publish())

	snaps, err := status.ReadAll()
	require.NoError(t, err)
	require.Len(t, snaps, 1, "republishing never duplicates the instance")
	require.Equal(t, int64(1), snaps[0].Iterations)
}

func TestCloseRemovesStatusFile(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	store, err := status.NewStore(status.NewCounters())
	require.NoError(t, err)
	require.NoError(t, store.Publish())
	require.NoError(t, store.Close())

	snaps, err := status.ReadAll()
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestCloseKeepsLockFile(t *testing.T) {
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)

	store, err := status.NewStore(status.NewCounters())
	require.NoError(t, err)
	require.NoError(t, store.Publish())
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is repeatable")

	// the lock file stays behind so a concurrent locker never sees its
	// path vanish, and aggregation skips it
	entries, err := os.ReadDir(filepath.Join(cache, "grizzly"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasSuffix(entries[0].Name(), ".lock"))

	snaps, err := status.ReadAll()
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestSnapshotRate(t *testing.T) {
	now := time.Now()
	snap := status.Snapshot{
		StartedAt:  now.Add(-2 * time.Minute),
		UpdatedAt:  now,
		Iterations: 10,
	}
	require.InDelta(t, 5.0, snap.Rate(), 0.01)

	snap.UpdatedAt = snap.StartedAt
	require.Zero(t, snap.Rate())
}
