package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ps "github.com/mitchellh/go-ps"

	"github.com/oshokin/drowsy-alarm/internal/logger"
)

// ErrAlreadyRunning is returned when another monitor holds the camera.
var ErrAlreadyRunning = errors.New("another drowsy-monitor is already running")

// processLister enumerates the running processes.
type processLister func() ([]ps.Process, error)

// ensureSingleInstance refuses to start when a process with the same
// executable name as this one is alive.
func ensureSingleInstance(ctx context.Context, list processLister, executable string, self int) error {
	processes, err := list()
	if err != nil {
		// Listing fails in some sandboxes; run unguarded there.
		logger.WarnKV(ctx, "Unable to list processes, skipping single-instance check", "error", err)

		return nil
	}

	for _, process := range processes {
		if process.Pid() == self {
			continue
		}

		if !strings.EqualFold(process.Executable(), executable) {
			continue
		}

		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, process.Pid())
	}

	return nil
}

// currentExecutable returns the file name of the running binary.
func currentExecutable() string {
	path, err := os.Executable()
	if err != nil {
		path = os.Args[0]
	}

	return filepath.Base(path)
}
