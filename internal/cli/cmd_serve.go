package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/keystonelight/internal/config"
	"github.com/calvinalkan/keystonelight/internal/server"
	"github.com/calvinalkan/keystonelight/internal/store"
)

// serveCommand runs the server until SIGTERM/SIGINT.
func serveCommand(env map[string]string, sigCh <-chan os.Signal) *Command {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := flags.String("addr", "", "listen address (overrides config)")
	db := flags.String("db", "", "log file path (overrides config)")
	configPath := flags.StringP("config", "c", "", "config file path")
	workers := flags.IntP("workers", "w", 0, "worker pool size (overrides config)")
	threshold := flags.Int64("compact-threshold", 0, "auto-compaction threshold in bytes (overrides config)")

	cmd := &Command{
		Flags: flags,
		Usage: "serve [workers]",
		Short: "Run the key-value server",
		Long: `Run the key-value server.

Persists every mutation to an append-only log and serves reads from an
in-memory index rebuilt from that log on startup. At most one server
may own a given log file; a second instance fails to start.

The optional positional argument sets the worker pool size, equivalent
to --workers.`,
	}

	cmd.Exec = func(o *IO, args []string) error {
		if len(args) > 1 {
			return fmt.Errorf("serve takes at most one positional argument, got %d", len(args))
		}

		if len(args) == 1 {
			n, parseErr := strconv.Atoi(args[0])
			if parseErr != nil || n < 1 {
				return fmt.Errorf("invalid worker count %q", args[0])
			}

			*workers = n
		}

		workDir, wdErr := os.Getwd()
		if wdErr != nil {
			return fmt.Errorf("cannot get working directory: %w", wdErr)
		}

		cfg, cfgErr := config.Load(workDir, *configPath)
		if cfgErr != nil {
			return cfgErr
		}

		if *addr != "" {
			cfg.Addr = *addr
		}

		if *db != "" {
			cfg.LogFile = *db
		}

		if *workers > 0 {
			cfg.Workers = *workers
		}

		if *threshold > 0 {
			cfg.CompactThresholdBytes = *threshold
		}

		serveErr := serve(cfg, env, sigCh)
		if errors.Is(serveErr, store.ErrAlreadyRunning) {
			// Matches the wire ERROR shape so operators and scripts see
			// the same spelling either way.
			msg := serveErr.Error()
			o.ErrPrintln("ERROR " + strings.ToUpper(msg[:1]) + msg[1:])

			return errReported
		}

		return serveErr
	}

	return cmd
}

func serve(cfg config.Config, env map[string]string, sigCh <-chan os.Signal) error {
	logger := buildLogger(env)
	defer func() { _ = logger.Sync() }()

	st, openErr := store.Open(cfg.LogFile, store.Options{
		CompactThreshold: cfg.CompactThresholdBytes,
		Logger:           logger.Named("store"),
	})
	if openErr != nil {
		return openErr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}

		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	srv := server.New(st, server.Options{
		Addr:    cfg.Addr,
		Workers: cfg.Workers,
		Logger:  logger.Named("server"),
	})

	serveErr := srv.ListenAndServe(ctx)

	closeErr := st.Close()
	if closeErr != nil {
		logger.Error("closing store", zap.Error(closeErr))
	}

	if serveErr != nil {
		return serveErr
	}

	return closeErr
}
