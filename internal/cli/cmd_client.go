package cli

import (
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/keystonelight/internal/client"
	"github.com/calvinalkan/keystonelight/internal/server"
)

// clientCommand runs the interactive REPL.
func clientCommand() *Command {
	flags := flag.NewFlagSet("client", flag.ContinueOnError)
	addr := flags.String("addr", server.DefaultAddr, "server address")

	return &Command{
		Flags: flags,
		Usage: "client [flags]",
		Short: "Interactive client session",
		Long: `Connect to a running server and enter an interactive session with
readline editing, history, and completion.`,
		Exec: func(_ *IO, _ []string) error {
			repl, dialErr := client.NewREPL(*addr)
			if dialErr != nil {
				return dialErr
			}

			return repl.Run()
		},
	}
}
