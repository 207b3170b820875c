package receiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/fleet-commander/internal/logger"
)

// MarkerFilename marks that a receiver is running on this device to avoid a
// second instance competing for the same subscription and workspace.
const MarkerFilename = "fleet-receiver-marker.bin"

// errAlreadyRunning is returned when a live receiver already holds the marker.
var errAlreadyRunning = errors.New("another receiver instance is already running")

// acquireInstanceLock creates the instance marker, refusing when another live
// receiver process exists. A marker left behind by a crashed receiver is
// detected via a process scan and removed. The returned release function
// removes the marker on shutdown.
func acquireInstanceLock(ctx context.Context) (func(), error) {
	if _, err := os.Stat(MarkerFilename); err == nil {
		running, scanErr := isAnotherInstanceRunning()
		if scanErr != nil {
			// Cannot tell; assume the marker is honest.
			return nil, errAlreadyRunning
		}

		if running {
			return nil, errAlreadyRunning
		}

		logger.Info(ctx, "Removing stale instance marker")

		if err = os.Remove(MarkerFilename); err != nil {
			return nil, err
		}
	}

	marker, err := os.Create(MarkerFilename)
	if err != nil {
		return nil, err
	}

	if err = marker.Close(); err != nil {
		return nil, err
	}

	release := func() {
		if err := os.Remove(MarkerFilename); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.ErrorKV(ctx, "Could not remove instance marker", "error", err)
		}
	}

	return release, nil
}

// isAnotherInstanceRunning scans the process table for another process with
// this executable's name.
func isAnotherInstanceRunning() (bool, error) {
	executable, err := os.Executable()
	if err != nil {
		return false, err
	}

	executableName := filepath.Base(executable)

	processList, err := ps.Processes()
	if err != nil {
		return false, err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == executableName {
			return true, nil
		}
	}

	return false, nil
}
