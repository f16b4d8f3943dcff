package cli

import (
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/keystonelight/internal/client"
	"github.com/calvinalkan/keystonelight/internal/server"
)

// compactCommand sends a one-shot COMPACT to a running server.
func compactCommand() *Command {
	flags := flag.NewFlagSet("compact", flag.ContinueOnError)
	addr := flags.String("addr", server.DefaultAddr, "server address")

	return &Command{
		Flags: flags,
		Usage: "compact [flags]",
		Short: "Compact a running server's log",
		Exec: func(o *IO, _ []string) error {
			conn, dialErr := client.Dial(*addr)
			if dialErr != nil {
				return dialErr
			}

			defer func() { _ = conn.Close() }()

			compactErr := conn.Compact()
			if compactErr != nil {
				return compactErr
			}

			o.Println("OK")

			return nil
		},
	}
}

// versionCommand prints the release version.
func versionCommand() *Command {
	return &Command{
		Flags: flag.NewFlagSet("version", flag.ContinueOnError),
		Usage: "version",
		Short: "Print the version",
		Exec: func(o *IO, _ []string) error {
			o.Println("keystonelight", Version)

			return nil
		},
	}
}
