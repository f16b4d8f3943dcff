// Package store implements the KeystoneLight storage engine: an
// append-only log of SET/DEL records, an in-memory index rebuilt by
// replaying that log, atomic log compaction, and a single-instance
// guard (exclusive flock on the log plus a PID file).
//
// The engine invariant is replay equality: at any quiescent point,
// folding the log top to bottom yields exactly the in-memory index.
// Every mutation therefore appends and flushes to the log before it
// touches the index.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// DefaultCompactThreshold is the log size that triggers automatic
// compaction after a write.
const DefaultCompactThreshold = 1 << 20 // 1 MiB

const logFilePerms = 0o600

// Options configures a [Store].
type Options struct {
	// CompactThreshold is the on-disk log size in bytes above which a
	// write triggers inline compaction. Zero means
	// [DefaultCompactThreshold]; negative disables auto-compaction.
	CompactThreshold int64

	// Logger receives operational diagnostics. Nil means zap.NewNop().
	Logger *zap.Logger
}

// Store is a durable key-value store backed by a single append-only
// log file. It is safe for concurrent use: reads take a shared lock,
// mutations an exclusive one, and all log appends happen under the
// exclusive lock before the index changes.
type Store struct {
	mu sync.RWMutex

	path    string
	pidPath string
	file    *os.File // append handle, holds the advisory lock
	index   map[string][]byte
	size    int64 // bytes on disk, tracked across appends
	torn    bool  // log ends in a torn tail; next append truncates it
	tailOff int64 // end of the well-formed prefix, only meaningful when torn

	threshold int64
	log       *zap.Logger

	closed bool
}

// Open opens (creating if needed) the log at path, acquires the
// exclusive instance lock, replays the log into memory, and writes the
// PID file. It returns [ErrAlreadyRunning] when another live process
// owns the log and [ErrCorrupt] when replay hits an unparseable line.
func Open(path string, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	threshold := opts.CompactThreshold
	if threshold == 0 {
		threshold = DefaultCompactThreshold
	}

	file, openErr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, logFilePerms)
	if openErr != nil {
		return nil, fmt.Errorf("open log %s: %w", path, openErr)
	}

	pidPath := PIDPath(path)

	lockErr := tryLockFile(int(file.Fd()))
	if lockErr != nil {
		_ = file.Close()

		return nil, describeLockLoss(lockErr, pidPath)
	}

	index, validLen, replayErr := replayLog(file, log)
	if replayErr != nil {
		unlockFile(int(file.Fd()))
		_ = file.Close()

		return nil, replayErr
	}

	info, statErr := file.Stat()
	if statErr != nil {
		unlockFile(int(file.Fd()))
		_ = file.Close()

		return nil, fmt.Errorf("stat log: %w", statErr)
	}

	_, seekErr := file.Seek(0, io.SeekEnd)
	if seekErr != nil {
		unlockFile(int(file.Fd()))
		_ = file.Close()

		return nil, fmt.Errorf("seek log end: %w", seekErr)
	}

	if stale := readPIDFile(pidPath); stale != 0 && !pidAlive(stale) {
		log.Info("cleaning up stale pid file", zap.Int("pid", stale))
	}

	pidErr := writePIDFile(pidPath, os.Getpid())
	if pidErr != nil {
		unlockFile(int(file.Fd()))
		_ = file.Close()

		return nil, pidErr
	}

	return &Store{
		path:      path,
		pidPath:   pidPath,
		file:      file,
		index:     index,
		size:      info.Size(),
		torn:      validLen < info.Size(),
		tailOff:   validLen,
		threshold: threshold,
		log:       log,
	}, nil
}

// describeLockLoss turns a lost flock race into an [ErrAlreadyRunning]
// naming the incumbent when the PID file identifies a live owner. The
// flock is authoritative; the PID file is operator convenience, so a
// missing or stale one still reports the loss, just without a PID.
func describeLockLoss(lockErr error, pidPath string) error {
	if !errors.Is(lockErr, ErrAlreadyRunning) {
		return lockErr
	}

	if pid := readPIDFile(pidPath); pidAlive(pid) {
		return fmt.Errorf("%w with PID %d", ErrAlreadyRunning, pid)
	}

	return fmt.Errorf("%w with PID unknown", ErrAlreadyRunning)
}

// Get returns the value for key and whether it exists. The returned
// slice is a copy; callers may retain or mutate it freely.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false
	}

	value, ok := s.index[key]
	if !ok {
		return nil, false
	}

	return slices.Clone(value), true
}

// Set durably records key = value. The record is appended and flushed
// before the index changes; a failed append leaves the index exactly
// as it was.
func (s *Store) Set(key string, value []byte) error {
	keyErr := ValidateKey(key)
	if keyErr != nil {
		return keyErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	appendErr := s.appendLocked(encodeSet(key, value))
	if appendErr != nil {
		return appendErr
	}

	s.index[key] = slices.Clone(value)

	return s.maybeCompactLocked()
}

// Delete durably removes key, reporting whether it existed. Deleting a
// missing key is legal and idempotent: the tombstone is appended either
// way and absorbed by the next compaction.
func (s *Store) Delete(key string) (bool, error) {
	keyErr := ValidateKey(key)
	if keyErr != nil {
		return false, keyErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	appendErr := s.appendLocked(encodeDel(key))
	if appendErr != nil {
		return false, appendErr
	}

	_, existed := s.index[key]
	delete(s.index, key)

	return existed, s.maybeCompactLocked()
}

// Compact rewrites the log to the minimal record sequence that yields
// the current index. See compact.go for the crash-atomicity protocol.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	return s.compactLocked()
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.index)
}

// LogSize returns the current on-disk size of the log in bytes.
func (s *Store) LogSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.size
}

// Close flushes the log, releases the instance lock, and removes the
// PID file. Operations after Close return [ErrClosed].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.closed = true
	s.index = nil

	syncErr := s.file.Sync()

	unlockFile(int(s.file.Fd()))
	closeErr := s.file.Close()
	removePIDFile(s.pidPath)

	if syncErr != nil {
		return fmt.Errorf("sync log: %w", syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close log: %w", closeErr)
	}

	return nil
}

// appendLocked writes one record line and flushes it to the OS before
// the caller may touch the index. Mutating the index first would let a
// crash leave memory ahead of the log, breaking replay equality.
//
// A torn tail left by a prior crash is dropped here, not at open:
// replay already ignores it, and truncating lazily keeps read-only
// sessions from rewriting the file.
func (s *Store) appendLocked(line string) error {
	if s.torn {
		truncErr := s.file.Truncate(s.tailOff)
		if truncErr != nil {
			return fmt.Errorf("truncate torn tail: %w", truncErr)
		}

		_, seekErr := s.file.Seek(s.tailOff, io.SeekStart)
		if seekErr != nil {
			return fmt.Errorf("seek past torn tail: %w", seekErr)
		}

		s.size = s.tailOff
		s.torn = false
	}

	start := s.size

	n, writeErr := s.file.WriteString(line)
	s.size += int64(n)

	if writeErr != nil {
		// A short write (disk full) leaves partial record bytes after
		// the well-formed prefix. Mark them torn so the next append
		// truncates them instead of splicing its record mid-line.
		s.torn = true
		s.tailOff = start

		return fmt.Errorf("append log: %w", writeErr)
	}

	syncErr := s.file.Sync()
	if syncErr != nil {
		// The record may or may not have reached disk. The index was
		// not updated, so drop the record on the next append to keep
		// the log and index in agreement.
		s.torn = true
		s.tailOff = start

		return fmt.Errorf("sync log: %w", syncErr)
	}

	return nil
}

// maybeCompactLocked runs inline compaction when the log has outgrown
// the threshold. A non-fatal compaction failure is logged but not
// surfaced: the triggering write already succeeded durably. [ErrFatalIO]
// is surfaced so the host can terminate.
func (s *Store) maybeCompactLocked() error {
	if s.threshold < 0 || s.size <= s.threshold {
		return nil
	}

	s.log.Info("log size exceeds threshold, compacting",
		zap.Int64("size", s.size),
		zap.Int64("threshold", s.threshold))

	compactErr := s.compactLocked()
	if compactErr == nil {
		return nil
	}

	if errors.Is(compactErr, ErrFatalIO) {
		return compactErr
	}

	s.log.Error("automatic compaction failed", zap.Error(compactErr))

	return nil
}
