package store

import "errors"

// Sentinel errors returned by store operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, store.ErrAlreadyRunning) {
//	    // another instance owns the log; exit
//	}
var (
	// ErrAlreadyRunning indicates another live process holds the
	// exclusive lock on the log file. Only returned by [Open].
	//
	// Recovery: stop the other instance, or point this one at a
	// different log path.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrCorrupt indicates replay hit an unparseable log line.
	// The error message carries the 1-based line number.
	//
	// Recovery: operator intervention; repair or remove the log.
	ErrCorrupt = errors.New("log corrupt")

	// ErrClosed indicates the [Store] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("store closed")

	// ErrInvalidKey indicates a key that is empty or contains
	// whitespace. Keys are single protocol tokens.
	ErrInvalidKey = errors.New("invalid key")

	// ErrCompaction indicates compaction failed before the new log
	// replaced the old one. The live log and the index are unchanged.
	//
	// Recovery: retry; leftover temp files are safe to delete when
	// no store is running.
	ErrCompaction = errors.New("compaction failed")

	// ErrFatalIO indicates compaction renamed the new log into place
	// but the store could not reopen it. The on-disk state is correct;
	// the process cannot continue serving.
	//
	// Recovery: terminate and restart; the next open replays the
	// compacted log.
	ErrFatalIO = errors.New("fatal io")
)
