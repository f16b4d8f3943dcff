package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// replayLog reads the log from offset 0 and folds it into an index.
//
// Every complete newline-terminated line must parse; a bad line fails
// replay with [ErrCorrupt] and its line number. A final line without a
// newline is a torn tail from a prior crash: it is skipped and logged.
// validLen reports the byte length of the well-formed prefix; the torn
// bytes stay on disk until the next append truncates them away.
func replayLog(file *os.File, log *zap.Logger) (index map[string][]byte, validLen int64, err error) {
	_, seekErr := file.Seek(0, io.SeekStart)
	if seekErr != nil {
		return nil, 0, fmt.Errorf("seek log start: %w", seekErr)
	}

	index = make(map[string][]byte)
	reader := bufio.NewReader(file)
	lineNo := 0

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, 0, fmt.Errorf("read log: %w", readErr)
		}

		if !strings.HasSuffix(line, "\n") {
			// Torn tail: bytes past the last newline belong to a write
			// that never completed. Replay ignores them.
			if line != "" {
				log.Warn("ignoring torn tail in log",
					zap.Int("line", lineNo+1),
					zap.Int("bytes", len(line)))
			}

			break
		}

		lineNo++

		rec, decodeErr := decodeRecord(strings.TrimSuffix(line, "\n"))
		if decodeErr != nil {
			return nil, 0, fmt.Errorf("%w: line %d: %w", ErrCorrupt, lineNo, decodeErr)
		}

		validLen += int64(len(line))

		switch rec.verb {
		case recSet:
			index[rec.key] = rec.value
		case recDel:
			delete(index, rec.key)
		}
	}

	log.Info("replay complete",
		zap.Int("records", lineNo),
		zap.Int("entries", len(index)))

	return index, validLen, nil
}
