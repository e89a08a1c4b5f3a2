package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureHouse_Idempotent(t *testing.T) {
	ws := t.TempDir()

	require.NoError(t, EnsureHouse(ws))
	require.NoError(t, EnsureHouse(ws))

	info, err := os.Stat(filepath.Join(ws, ".harvest"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestAcquireLock_ExcludesSecondHolder(t *testing.T) {
	ws := t.TempDir()

	held, err := AcquireLock(ws)
	require.NoError(t, err)

	_, err = AcquireLock(ws)
	require.ErrorIs(t, err, ErrWorkspaceLocked)

	_, err = AcquireSharedLock(ws)
	require.ErrorIs(t, err, ErrWorkspaceLocked, "shared acquisition waits out an exclusive holder")

	require.NoError(t, held.Release())

	reacquired, err := AcquireLock(ws)
	require.NoError(t, err)
	require.NoError(t, reacquired.Release())
}

func TestAcquireSharedLock_CoexistsWithReaders(t *testing.T) {
	ws := t.TempDir()

	first, err := AcquireSharedLock(ws)
	require.NoError(t, err)
	second, err := AcquireSharedLock(ws)
	require.NoError(t, err)

	_, err = AcquireLock(ws)
	require.ErrorIs(t, err, ErrWorkspaceLocked, "exclusive acquisition waits out readers")

	require.NoError(t, first.Release())
	require.NoError(t, second.Release())

	exclusive, err := AcquireLock(ws)
	require.NoError(t, err)
	require.NoError(t, exclusive.Release())
}
