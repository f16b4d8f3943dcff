package store

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Log record verbs. Unlike the wire protocol, verbs in the log are
// case-sensitive.
const (
	recSet = "SET"
	recDel = "DEL"
)

// record is one decoded log line.
type record struct {
	verb  string
	key   string
	value []byte // decoded payload, SET only
}

// encodeSet renders the canonical SET record line, newline included.
// Values are base64-encoded so the log stays line-oriented even for
// binary payloads.
func encodeSet(key string, value []byte) string {
	return recSet + " " + key + " " + base64.StdEncoding.EncodeToString(value) + "\n"
}

// encodeDel renders the canonical DEL record line, newline included.
func encodeDel(key string) string {
	return recDel + " " + key + "\n"
}

// decodeRecord parses one log line (without its trailing newline).
// Extra interior whitespace is tolerated on input; emission is always
// canonical single-space form.
func decodeRecord(line string) (record, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return record{}, fmt.Errorf("empty line")
	}

	switch fields[0] {
	case recSet:
		// An empty value encodes to empty base64, so a SET line may
		// carry two fields or three.
		if len(fields) != 2 && len(fields) != 3 {
			return record{}, fmt.Errorf("SET wants 2 arguments, got %d", len(fields)-1)
		}

		keyErr := ValidateKey(fields[1])
		if keyErr != nil {
			return record{}, keyErr
		}

		var value []byte

		if len(fields) == 3 {
			decoded, decodeErr := base64.StdEncoding.DecodeString(fields[2])
			if decodeErr != nil {
				return record{}, fmt.Errorf("decode value: %w", decodeErr)
			}

			value = decoded
		}

		return record{verb: recSet, key: fields[1], value: value}, nil
	case recDel:
		if len(fields) != 2 {
			return record{}, fmt.Errorf("DEL wants 1 argument, got %d", len(fields)-1)
		}

		keyErr := ValidateKey(fields[1])
		if keyErr != nil {
			return record{}, keyErr
		}

		return record{verb: recDel, key: fields[1]}, nil
	default:
		return record{}, fmt.Errorf("unknown verb %q", fields[0])
	}
}

// ValidateKey checks that key is a usable single token: non-empty and
// free of whitespace and control newlines. Keys are case-sensitive and
// compared byte-for-byte.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	if strings.ContainsAny(key, " \t\n\r") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidKey, key)
	}

	return nil
}
