package receiver

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the test, restoring it on cleanup.
// Stand-in for t.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

// TestAcquireInstanceLock creates the marker and removes it on release.
func TestAcquireInstanceLock(t *testing.T) {
	chdir(t, t.TempDir())

	release, err := acquireInstanceLock(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(MarkerFilename)
	require.NoError(t, err)

	release()

	_, err = os.Stat(MarkerFilename)
	require.True(t, os.IsNotExist(err))
}

// TestAcquireInstanceLock_StaleMarker recovers a marker left behind by a dead
// receiver: no live process with our executable name exists, so the marker is
// replaced and the lock acquired.
func TestAcquireInstanceLock_StaleMarker(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, os.WriteFile(MarkerFilename, nil, 0o600))

	release, err := acquireInstanceLock(context.Background())
	require.NoError(t, err)

	release()
}
