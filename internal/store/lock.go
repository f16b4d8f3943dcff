package store

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// tryLockFile takes a non-blocking exclusive advisory lock on fd.
// The lock is the authoritative single-instance guard; it lives for the
// lifetime of the file handle and is released explicitly on close.
func tryLockFile(fd int) error {
	flockErr := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	if flockErr != nil {
		if errors.Is(flockErr, unix.EWOULDBLOCK) || errors.Is(flockErr, unix.EAGAIN) {
			return ErrAlreadyRunning
		}

		return fmt.Errorf("flock: %w", flockErr)
	}

	return nil
}

// unlockFile drops the advisory lock. Closing the handle would drop it
// too; the explicit unlock keeps the close path readable.
func unlockFile(fd int) {
	_ = unix.Flock(fd, unix.LOCK_UN)
}
