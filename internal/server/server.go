// Package server accepts TCP connections and drives the per-connection
// command loop against the storage engine. It is a thin shell around
// the store: a bounded worker pool, a line codec, and graceful drain.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/keystonelight/internal/protocol"
	"github.com/calvinalkan/keystonelight/internal/store"
)

// DefaultAddr is the address served when none is configured.
const DefaultAddr = "127.0.0.1:7878"

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 4

// Port binding is retried briefly so a restart does not race the old
// process's socket teardown.
const (
	bindTimeout       = 5 * time.Second
	bindRetryInterval = 100 * time.Millisecond
)

// Options configures a [Server].
type Options struct {
	// Addr is the listen address. Empty means [DefaultAddr].
	Addr string

	// Workers is the pool size. Zero means [DefaultWorkers].
	Workers int

	// Logger receives operational diagnostics. Nil means zap.NewNop().
	Logger *zap.Logger
}

// Server owns the listener and worker pool for one store.
type Server struct {
	store   *store.Store
	addr    string
	workers int
	log     *zap.Logger

	listener net.Listener
}

// New creates a server for st. Call [Server.ListenAndServe] to run it.
func New(st *store.Store, opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		store:   st,
		addr:    addr,
		workers: workers,
		log:     log,
	}
}

// Addr returns the bound listen address. Valid only while
// [Server.ListenAndServe] is running; useful when listening on :0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}

	return s.listener.Addr().String()
}

// Listen binds the configured address, retrying briefly so a restart
// does not race the old process's socket teardown.
func (s *Server) Listen() error {
	listener, bindErr := bindWithRetry(s.addr)
	if bindErr != nil {
		return bindErr
	}

	s.listener = listener
	s.log.Info("server listening", zap.String("addr", s.Addr()))

	return nil
}

// ListenAndServe binds the address and serves until ctx is canceled or
// a fatal store error occurs. In-flight requests finish before it
// returns; a canceled ctx yields a nil error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listenErr := s.Listen()
	if listenErr != nil {
		return listenErr
	}

	return s.Serve(ctx)
}

// Serve runs the accept loop and worker pool on the bound listener.
func (s *Server) Serve(ctx context.Context) error {
	listener := s.listener

	group, ctx := errgroup.WithContext(ctx)
	conns := make(chan net.Conn)

	// Closing the listener is the only way to interrupt Accept.
	group.Go(func() error {
		<-ctx.Done()

		_ = listener.Close()

		return nil
	})

	group.Go(func() error {
		defer close(conns)

		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				if ctx.Err() != nil {
					return nil // shutting down
				}

				return fmt.Errorf("accept: %w", acceptErr)
			}

			select {
			case conns <- conn:
			case <-ctx.Done():
				_ = conn.Close()

				return nil
			}
		}
	})

	for i := range s.workers {
		workerLog := s.log.Named(fmt.Sprintf("worker-%d", i))

		group.Go(func() error {
			for conn := range conns {
				connErr := s.handleConn(ctx, conn, workerLog)
				if connErr != nil {
					return connErr // fatal only; cancels the group
				}
			}

			return nil
		})
	}

	waitErr := group.Wait()

	s.log.Info("server stopped")

	return waitErr
}

// bindWithRetry binds addr, retrying for a short window so restarts do
// not fail on a socket still in teardown.
func bindWithRetry(addr string) (net.Listener, error) {
	deadline := time.Now().Add(bindTimeout)

	for {
		listener, listenErr := net.Listen("tcp", addr)
		if listenErr == nil {
			return listener, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("bind %s: %w", addr, listenErr)
		}

		time.Sleep(bindRetryInterval)
	}
}

// handleConn runs the request loop for one connection. It returns a
// non-nil error only for fatal store failures; everything else is
// reported to the client as an ERROR line and the loop continues.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, log *zap.Logger) error {
	defer func() { _ = conn.Close() }()

	// Closing the connection is the only way to interrupt a blocked
	// read when the server shuts down.
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	log.Debug("client connected", zap.String("remote", conn.RemoteAddr().String()))

	reader := bufio.NewReader(conn)

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				log.Debug("client read failed", zap.Error(readErr))
			}

			return nil
		}

		response, quit, execErr := s.execute(line, log)

		_, writeErr := conn.Write(append([]byte(response), '\n'))

		if execErr != nil {
			return execErr
		}

		if writeErr != nil {
			log.Debug("client write failed", zap.Error(writeErr))

			return nil
		}

		if quit {
			return nil
		}
	}
}

// execute parses and runs one request line. It returns the response
// body (no trailing newline), whether the connection should close, and
// a fatal error if the store can no longer serve.
func (s *Server) execute(line string, log *zap.Logger) (response string, quit bool, fatal error) {
	cmd, parseErr := protocol.Parse(line)
	if parseErr != nil {
		return protocol.FormatError(parseErr), false, nil
	}

	log.Debug("command", zap.Stringer("verb", cmd.Verb), zap.String("key", cmd.Key))

	switch cmd.Verb {
	case protocol.VerbGet:
		value, ok := s.store.Get(cmd.Key)
		if !ok {
			return protocol.RespNotFound, false, nil
		}

		return string(value), false, nil
	case protocol.VerbSet:
		setErr := s.store.Set(cmd.Key, cmd.Value)

		return s.mutationResponse(setErr)
	case protocol.VerbDelete:
		existed, delErr := s.store.Delete(cmd.Key)
		if delErr == nil {
			log.Debug("deleted", zap.String("key", cmd.Key), zap.Bool("existed", existed))
		}

		return s.mutationResponse(delErr)
	case protocol.VerbCompact:
		return s.mutationResponse(s.store.Compact())
	case protocol.VerbHelp:
		return protocol.HelpText, false, nil
	case protocol.VerbQuit:
		return protocol.RespOK, true, nil
	default:
		return protocol.FormatError(protocol.ErrInvalidCommand), false, nil
	}
}

// mutationResponse maps a store mutation result onto the wire. Fatal
// I/O failures propagate so the server shuts down; anything else keeps
// the connection alive.
func (s *Server) mutationResponse(err error) (string, bool, error) {
	if err == nil {
		return protocol.RespOK, false, nil
	}

	if errors.Is(err, store.ErrFatalIO) {
		s.log.Error("fatal store error, shutting down", zap.Error(err))

		return protocol.FormatError(err), true, err
	}

	return protocol.FormatError(err), false, nil
}
