package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// replCommands feed the completer. Lowercase is fine: the server's verb
// parsing is case-insensitive.
var replCommands = []string{"set", "get", "delete", "compact", "help", "quit"}

// REPL is the interactive command loop against one server connection.
type REPL struct {
	client *Client
	addr   string
	liner  *liner.State
}

// NewREPL connects to addr and prepares an interactive session.
func NewREPL(addr string) (*REPL, error) {
	conn, dialErr := Dial(addr)
	if dialErr != nil {
		return nil, dialErr
	}

	return &REPL{client: conn, addr: addr}, nil
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".keystonelight_history")
}

// Run drives the prompt loop until quit, Ctrl-C, or EOF.
func (r *REPL) Run() error {
	defer func() { _ = r.client.Close() }()

	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(func(line string) []string {
		var matches []string

		for _, cmd := range replCommands {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				matches = append(matches, cmd)
			}
		}

		return matches
	})

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("Connected to %s\n", r.addr)
	fmt.Println("Enter commands (type 'help' for usage, 'quit' to exit):")

	for {
		line, promptErr := r.liner.Prompt("> ")
		if promptErr != nil {
			if errors.Is(promptErr, liner.ErrPromptAborted) || errors.Is(promptErr, io.EOF) {
				fmt.Println("\nBye!")

				r.saveHistory()

				return nil
			}

			return fmt.Errorf("reading input: %w", promptErr)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		switch strings.ToLower(line) {
		case "quit", "exit":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil
		case "help", "?":
			// Handled locally: HELP's reply spans multiple lines and
			// Do reads exactly one.
			printHelp()
		default:
			response, doErr := r.client.Do(line)
			if doErr != nil {
				return fmt.Errorf("server connection lost: %w", doErr)
			}

			fmt.Println(response)
		}
	}
}

func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  SET <key> <value>   Set a key-value pair (value is rest of line)")
	fmt.Println("  GET <key>           Get the value for a key")
	fmt.Println("  DELETE <key>        Delete a key-value pair")
	fmt.Println("  COMPACT             Trigger log compaction")
	fmt.Println("  quit/exit           Exit the client")
}

// saveHistory persists command history to disk. Best effort.
func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, createErr := os.Create(path)
	if createErr != nil {
		return
	}

	defer func() { _ = f.Close() }()

	_, _ = r.liner.WriteHistory(f)
}
