package protocol_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/keystonelight/internal/protocol"
	"github.com/calvinalkan/keystonelight/internal/store"
)

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
		want protocol.Command
	}{
		{
			name: "get",
			line: "GET foo",
			want: protocol.Command{Verb: protocol.VerbGet, Key: "foo"},
		},
		{
			name: "verb is case-insensitive",
			line: "get foo",
			want: protocol.Command{Verb: protocol.VerbGet, Key: "foo"},
		},
		{
			name: "mixed case verb",
			line: "DeLeTe foo",
			want: protocol.Command{Verb: protocol.VerbDelete, Key: "foo"},
		},
		{
			name: "set single word value",
			line: "SET foo bar",
			want: protocol.Command{Verb: protocol.VerbSet, Key: "foo", Value: []byte("bar")},
		},
		{
			name: "set value is rest of line",
			line: "SET foo bar baz  qux",
			want: protocol.Command{Verb: protocol.VerbSet, Key: "foo", Value: []byte("bar baz  qux")},
		},
		{
			name: "set empty value",
			line: "SET foo",
			want: protocol.Command{Verb: protocol.VerbSet, Key: "foo", Value: []byte("")},
		},
		{
			name: "set base64-looking value stored verbatim",
			line: "SET k aGVsbG8=",
			want: protocol.Command{Verb: protocol.VerbSet, Key: "k", Value: []byte("aGVsbG8=")},
		},
		{
			name: "keys are case-sensitive",
			line: "GET Foo",
			want: protocol.Command{Verb: protocol.VerbGet, Key: "Foo"},
		},
		{
			name: "compact",
			line: "COMPACT",
			want: protocol.Command{Verb: protocol.VerbCompact},
		},
		{
			name: "quit",
			line: "quit",
			want: protocol.Command{Verb: protocol.VerbQuit},
		},
		{
			name: "help",
			line: "HELP",
			want: protocol.Command{Verb: protocol.VerbHelp},
		},
		{
			name: "trailing newline stripped",
			line: "GET foo\n",
			want: protocol.Command{Verb: protocol.VerbGet, Key: "foo"},
		},
		{
			name: "trailing crlf stripped",
			line: "GET foo\r\n",
			want: protocol.Command{Verb: protocol.VerbGet, Key: "foo"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, parseErr := protocol.Parse(tc.line)
			if parseErr != nil {
				t.Fatalf("Parse(%q) failed: %v", tc.line, parseErr)
			}

			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tc.line, diff)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	invalidCommand := []string{
		"",
		"   ",
		"BOGUS foo",
		"GET",
		"GET a b",
		"DELETE",
		"DELETE a b",
		"COMPACT now",
		"QUIT now",
		"HELP me",
	}

	for _, line := range invalidCommand {
		_, parseErr := protocol.Parse(line)
		if !errors.Is(parseErr, protocol.ErrInvalidCommand) {
			t.Errorf("Parse(%q) = %v, want ErrInvalidCommand", line, parseErr)
		}
	}

	invalidKey := []string{
		"SET  leading-space-means-empty-key",
	}

	for _, line := range invalidKey {
		_, parseErr := protocol.Parse(line)
		if parseErr == nil {
			t.Errorf("Parse(%q) should fail", line)
		}
	}
}

func TestParse_SetKeyValidation(t *testing.T) {
	t.Parallel()

	_, parseErr := protocol.Parse("SET")
	if !errors.Is(parseErr, store.ErrInvalidKey) {
		t.Errorf("Parse(SET) = %v, want ErrInvalidKey", parseErr)
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	got := protocol.FormatError(errors.New("boom"))
	if got != "ERROR boom" {
		t.Errorf("FormatError = %q, want %q", got, "ERROR boom")
	}

	// Responses are single lines; embedded newlines are flattened.
	got = protocol.FormatError(errors.New("multi\nline"))
	if got != "ERROR multi line" {
		t.Errorf("FormatError = %q, want %q", got, "ERROR multi line")
	}
}
