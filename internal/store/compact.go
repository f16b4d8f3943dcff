package store

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// compactLocked rewrites the log so it contains exactly one SET record
// per live key and no tombstones. It must be called with the write
// lock held and is crash-atomic: an interruption leaves either the old
// log or the fully written new one, never a partial state.
//
// Protocol:
//  1. Create <log>.compact.<uuid> in the log's directory (O_EXCL).
//  2. Write all live keys in lexicographic order, flush, fsync, close.
//  3. Rename the temp file over the live log path.
//  4. Reopen the new inode for appends and re-acquire the flock;
//     release the handle on the old inode; fsync the directory.
//
// Failure in 1-3 unlinks the temp file and leaves everything as it
// was ([ErrCompaction]). Failure in 4 is [ErrFatalIO]: the disk state
// is correct but this process can no longer serve.
func (s *Store) compactLocked() error {
	oldSize := s.size
	tempPath := fmt.Sprintf("%s.compact.%s", s.path, uuid.NewString())

	newSize, writeErr := writeCompacted(tempPath, s.index)
	if writeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("%w: %w", ErrCompaction, writeErr)
	}

	renameErr := os.Rename(tempPath, s.path)
	if renameErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("%w: rename: %w", ErrCompaction, renameErr)
	}

	// Point of no return: the compacted log is the log. Anything that
	// goes wrong from here leaves correct disk state behind a process
	// that cannot continue.
	swapErr := s.swapLogHandle()
	if swapErr != nil {
		return fmt.Errorf("%w: %w", ErrFatalIO, swapErr)
	}

	s.size = newSize
	s.torn = false

	s.log.Info("compaction complete",
		zap.Int64("old_size", oldSize),
		zap.Int64("new_size", newSize),
		zap.Int("entries", len(s.index)))

	return nil
}

// writeCompacted writes one SET record per index entry to path, in
// lexicographic key order for reproducible output, and makes the file
// durable. It returns the byte size of the finished file.
func writeCompacted(path string, index map[string][]byte) (int64, error) {
	file, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, logFilePerms)
	if createErr != nil {
		return 0, fmt.Errorf("create temp log: %w", createErr)
	}

	var size int64

	writer := bufio.NewWriter(file)

	for _, key := range slices.Sorted(maps.Keys(index)) {
		n, writeErr := writer.WriteString(encodeSet(key, index[key]))
		size += int64(n)

		if writeErr != nil {
			_ = file.Close()

			return 0, fmt.Errorf("write temp log: %w", writeErr)
		}
	}

	flushErr := writer.Flush()
	if flushErr != nil {
		_ = file.Close()

		return 0, fmt.Errorf("flush temp log: %w", flushErr)
	}

	syncErr := file.Sync()
	if syncErr != nil {
		_ = file.Close()

		return 0, fmt.Errorf("sync temp log: %w", syncErr)
	}

	closeErr := file.Close()
	if closeErr != nil {
		return 0, fmt.Errorf("close temp log: %w", closeErr)
	}

	return size, nil
}

// swapLogHandle reopens the live log path (now the compacted inode),
// locks it, syncs the parent directory so the rename itself is durable,
// and retires the handle on the old inode.
func (s *Store) swapLogHandle() error {
	newFile, openErr := os.OpenFile(s.path, os.O_RDWR, logFilePerms)
	if openErr != nil {
		return fmt.Errorf("reopen log: %w", openErr)
	}

	lockErr := tryLockFile(int(newFile.Fd()))
	if lockErr != nil {
		_ = newFile.Close()

		return fmt.Errorf("relock log: %w", lockErr)
	}

	_, seekErr := newFile.Seek(0, io.SeekEnd)
	if seekErr != nil {
		unlockFile(int(newFile.Fd()))
		_ = newFile.Close()

		return fmt.Errorf("seek log end: %w", seekErr)
	}

	dirErr := syncDir(filepath.Dir(s.path))
	if dirErr != nil {
		unlockFile(int(newFile.Fd()))
		_ = newFile.Close()

		return dirErr
	}

	unlockFile(int(s.file.Fd()))
	_ = s.file.Close()
	s.file = newFile

	return nil
}

// syncDir fsyncs a directory so a completed rename survives a crash.
func syncDir(dir string) error {
	handle, openErr := os.Open(dir)
	if openErr != nil {
		return fmt.Errorf("open dir %q: %w", dir, openErr)
	}

	defer func() { _ = handle.Close() }()

	syncErr := handle.Sync()
	if syncErr != nil {
		return fmt.Errorf("sync dir %q: %w", dir, syncErr)
	}

	return nil
}
