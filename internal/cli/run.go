// Package cli wires command-line arguments, configuration, and signals
// into the server, client, and maintenance commands.
package cli

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is the release version reported by "keystonelight version".
const Version = "1.0.0"

const helpFlag = "--help"

// Run is the main entry point. Returns exit code.
func Run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	ioCtx := NewIO(out, errOut)

	commands := []*Command{
		serveCommand(env, sigCh),
		clientCommand(),
		compactCommand(),
		versionCommand(),
	}

	if len(args) < 2 {
		printUsage(ioCtx, commands)

		return 0
	}

	name := args[1]
	if name == "-h" || name == helpFlag || name == "help" {
		printUsage(ioCtx, commands)

		return 0
	}

	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd.Run(ioCtx, args[2:])
		}
	}

	ioCtx.ErrPrintln("error: unknown command:", name)
	printUsage(ioCtx, commands)

	return 1
}

func printUsage(o *IO, commands []*Command) {
	o.Println("keystonelight - durable key-value server")
	o.Println()
	o.Println("Usage: keystonelight <command> [args]")
	o.Println()
	o.Println("Commands:")

	for _, cmd := range commands {
		o.Println(cmd.HelpLine())
	}
}

// buildLogger constructs the process logger. Verbosity comes from the
// KEYSTONE_LOG environment variable (debug|info|warn|error); bad or
// missing values fall back to info.
func buildLogger(env map[string]string) *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true

	level := zapcore.InfoLevel
	if raw, ok := env["KEYSTONE_LOG"]; ok {
		parsed, parseErr := zapcore.ParseLevel(strings.ToLower(raw))
		if parseErr == nil {
			level = parsed
		}
	}

	logConfig.Level.SetLevel(level)

	return zap.Must(logConfig.Build())
}
