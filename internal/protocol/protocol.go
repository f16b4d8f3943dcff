// Package protocol implements the line-oriented wire protocol: one
// request line in, one response line out. It is a thin codec; all
// semantics live in the store.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/keystonelight/internal/store"
)

// Verb identifies a client request type.
type Verb int

// Request verbs. The wire spelling is case-insensitive.
const (
	VerbGet Verb = iota
	VerbSet
	VerbDelete
	VerbCompact
	VerbQuit
	VerbHelp
)

func (v Verb) String() string {
	switch v {
	case VerbGet:
		return "GET"
	case VerbSet:
		return "SET"
	case VerbDelete:
		return "DELETE"
	case VerbCompact:
		return "COMPACT"
	case VerbQuit:
		return "QUIT"
	case VerbHelp:
		return "HELP"
	default:
		return fmt.Sprintf("Verb(%d)", int(v))
	}
}

// ErrInvalidCommand indicates a request line that does not match the
// protocol grammar. The connection survives; the server replies with
// an ERROR line.
var ErrInvalidCommand = errors.New("invalid command")

// Canonical single-line responses.
const (
	RespOK       = "OK"
	RespNotFound = "NOT_FOUND"
)

// HelpText is the multi-line reply to HELP.
const HelpText = `Available commands:
  SET <key> <value>   Set a key-value pair (value is rest of line)
  GET <key>           Get the value for a key
  DELETE <key>        Delete a key-value pair
  COMPACT             Trigger log compaction
  HELP                Show this help
  QUIT                Close the connection`

// Command is one parsed request.
type Command struct {
	Verb  Verb
	Key   string
	Value []byte // SET only
}

// Parse decodes one request line (trailing newline already stripped).
//
// The verb is case-insensitive. SET takes the key and then the rest of
// the line, verbatim, as the value; a bare "SET <key>" sets the empty
// value. GET and DELETE take exactly one key; COMPACT, QUIT, and HELP
// take nothing.
func Parse(line string) (Command, error) {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{}, fmt.Errorf("%w: empty request", ErrInvalidCommand)
	}

	verbWord, rest, _ := strings.Cut(trimmed, " ")

	switch strings.ToUpper(verbWord) {
	case "GET":
		key, keyErr := singleKey(rest)
		if keyErr != nil {
			return Command{}, fmt.Errorf("GET: %w", keyErr)
		}

		return Command{Verb: VerbGet, Key: key}, nil
	case "SET":
		key, value, _ := strings.Cut(rest, " ")

		keyErr := store.ValidateKey(key)
		if keyErr != nil {
			return Command{}, fmt.Errorf("SET: %w", keyErr)
		}

		return Command{Verb: VerbSet, Key: key, Value: []byte(value)}, nil
	case "DELETE":
		key, keyErr := singleKey(rest)
		if keyErr != nil {
			return Command{}, fmt.Errorf("DELETE: %w", keyErr)
		}

		return Command{Verb: VerbDelete, Key: key}, nil
	case "COMPACT":
		if rest != "" {
			return Command{}, fmt.Errorf("%w: COMPACT takes no arguments", ErrInvalidCommand)
		}

		return Command{Verb: VerbCompact}, nil
	case "QUIT":
		if rest != "" {
			return Command{}, fmt.Errorf("%w: QUIT takes no arguments", ErrInvalidCommand)
		}

		return Command{Verb: VerbQuit}, nil
	case "HELP":
		if rest != "" {
			return Command{}, fmt.Errorf("%w: HELP takes no arguments", ErrInvalidCommand)
		}

		return Command{Verb: VerbHelp}, nil
	default:
		return Command{}, fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, verbWord)
	}
}

// singleKey parses the argument tail of a one-key command.
func singleKey(rest string) (string, error) {
	fields := strings.Fields(rest)
	if len(fields) != 1 {
		return "", fmt.Errorf("%w: want exactly one key", ErrInvalidCommand)
	}

	keyErr := store.ValidateKey(fields[0])
	if keyErr != nil {
		return "", keyErr
	}

	return fields[0], nil
}

// FormatError renders any error as a single ERROR response line.
func FormatError(err error) string {
	return "ERROR " + strings.ReplaceAll(err.Error(), "\n", " ")
}
