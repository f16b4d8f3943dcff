package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// PIDPath derives the PID file path for a log path: the ".log" suffix
// (or whatever extension the log carries) is swapped for ".pid", so
// "keystonelight.log" pairs with "keystonelight.pid".
func PIDPath(logPath string) string {
	return strings.TrimSuffix(logPath, filepath.Ext(logPath)) + ".pid"
}

// readPIDFile returns the PID recorded at path, or 0 when the file is
// missing or does not hold an ASCII decimal PID.
func readPIDFile(path string) int {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return 0
	}

	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr != nil || pid <= 0 {
		return 0
	}

	return pid
}

// pidAlive reports whether a process with the given PID exists.
// Signal 0 probes existence without delivering anything; EPERM still
// means the process is there.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	killErr := unix.Kill(pid, 0)

	return killErr == nil || errors.Is(killErr, unix.EPERM)
}

// writePIDFile records pid at path atomically so operators never see a
// torn PID file. Stale files from crashed owners are overwritten.
func writePIDFile(path string, pid int) error {
	content := strconv.Itoa(pid) + "\n"

	writeErr := atomic.WriteFile(path, strings.NewReader(content))
	if writeErr != nil {
		return fmt.Errorf("writing pid file: %w", writeErr)
	}

	return nil
}

// removePIDFile unlinks the PID file. A missing file is fine: a prior
// crash may have been cleaned up by a later open.
func removePIDFile(path string) {
	_ = os.Remove(path)
}
