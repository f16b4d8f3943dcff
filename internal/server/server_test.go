package server_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/keystonelight/internal/client"
	"github.com/calvinalkan/keystonelight/internal/server"
	"github.com/calvinalkan/keystonelight/internal/store"
)

// startServer runs a server over a fresh store and returns its address
// and a shutdown function that drains it cleanly.
func startServer(t *testing.T, logPath string) (addr string, shutdown func()) {
	t.Helper()

	st, openErr := store.Open(logPath, store.Options{})
	require.NoError(t, openErr)

	srv := server.New(st, server.Options{Addr: "127.0.0.1:0", Workers: 4})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx) }()

	stopped := false
	shutdown = func() {
		if stopped {
			return
		}

		stopped = true

		cancel()

		select {
		case serveErr := <-done:
			assert.NoError(t, serveErr)
		case <-time.After(5 * time.Second):
			t.Error("server did not drain within 5s")
		}

		closeErr := st.Close()
		assert.NoError(t, closeErr)
	}

	t.Cleanup(shutdown)

	return srv.Addr(), shutdown
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()

	conn, dialErr := client.Dial(addr)
	require.NoError(t, dialErr)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestServer_BasicSession(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	response, doErr := conn.Do("SET foo bar")
	require.NoError(t, doErr)
	assert.Equal(t, "OK", response)

	response, doErr = conn.Do("GET foo")
	require.NoError(t, doErr)
	assert.Equal(t, "bar", response)

	response, doErr = conn.Do("DELETE foo")
	require.NoError(t, doErr)
	assert.Equal(t, "OK", response)

	response, doErr = conn.Do("GET foo")
	require.NoError(t, doErr)
	assert.Equal(t, "NOT_FOUND", response)
}

func TestServer_ValueIsRestOfLine(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	_, doErr := conn.Do("SET sentence the quick brown fox")
	require.NoError(t, doErr)

	response, doErr := conn.Do("GET sentence")
	require.NoError(t, doErr)
	assert.Equal(t, "the quick brown fox", response)
}

func TestServer_ValueStoredVerbatim(t *testing.T) {
	t.Parallel()

	// A client that base64-encodes its own binary sends the encoding
	// as the value; the server must not decode or re-encode it.
	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	_, doErr := conn.Do("SET k aGVsbG8=")
	require.NoError(t, doErr)

	response, doErr := conn.Do("GET k")
	require.NoError(t, doErr)
	assert.Equal(t, "aGVsbG8=", response)
}

func TestServer_KeysAreCaseSensitiveVerbsAreNot(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	_, doErr := conn.Do("set Key lower-verb")
	require.NoError(t, doErr)

	response, doErr := conn.Do("GET Key")
	require.NoError(t, doErr)
	assert.Equal(t, "lower-verb", response)

	response, doErr = conn.Do("GET key")
	require.NoError(t, doErr)
	assert.Equal(t, "NOT_FOUND", response)
}

func TestServer_InvalidCommandKeepsConnection(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	response, doErr := conn.Do("FROBNICATE x")
	require.NoError(t, doErr)
	assert.Contains(t, response, "ERROR")

	// The connection survives the error.
	response, doErr = conn.Do("SET still alive")
	require.NoError(t, doErr)
	assert.Equal(t, "OK", response)
}

func TestServer_CompactOverWire(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	for i := range 20 {
		_, doErr := conn.Do(fmt.Sprintf("SET churn value%d", i))
		require.NoError(t, doErr)
	}

	require.NoError(t, conn.Compact())

	response, doErr := conn.Do("GET churn")
	require.NoError(t, doErr)
	assert.Equal(t, "value19", response)
}

func TestServer_QuitClosesConnection(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	response, doErr := conn.Do("QUIT")
	require.NoError(t, doErr)
	assert.Equal(t, "OK", response)

	_, doErr = conn.Do("GET anything")
	assert.Error(t, doErr, "connection should be closed after QUIT")
}

func TestServer_PersistenceAcrossRestart(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "keystonelight.log")

	addr, shutdown := startServer(t, logPath)
	conn := dial(t, addr)

	_, doErr := conn.Do("SET k1 v1")
	require.NoError(t, doErr)

	_, doErr = conn.Do("SET k2 v2")
	require.NoError(t, doErr)

	_ = conn.Close()
	shutdown()

	addr, _ = startServer(t, logPath)
	conn = dial(t, addr)

	value, ok, getErr := conn.Get("k1")
	require.NoError(t, getErr)
	require.True(t, ok)
	assert.Equal(t, "v1", value)

	value, ok, getErr = conn.Get("k2")
	require.NoError(t, getErr)
	require.True(t, ok)
	assert.Equal(t, "v2", value)
}

func TestServer_SecondServerOnSameLogFails(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "keystonelight.log")

	_, _ = startServer(t, logPath)

	_, openErr := store.Open(logPath, store.Options{})
	require.ErrorIs(t, openErr, store.ErrAlreadyRunning)
}

func TestServer_ManyConcurrentClients(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))

	const clients = 16

	var wg sync.WaitGroup

	for c := range clients {
		wg.Add(1)

		go func() {
			defer wg.Done()

			conn, dialErr := client.Dial(addr)
			if dialErr != nil {
				t.Errorf("client %d: %v", c, dialErr)

				return
			}

			defer func() { _ = conn.Close() }()

			key := fmt.Sprintf("client%d", c)

			for i := range 20 {
				if err := conn.Set(key, fmt.Sprintf("round%d", i)); err != nil {
					t.Errorf("client %d: %v", c, err)

					return
				}

				value, ok, getErr := conn.Get(key)
				if getErr != nil || !ok {
					t.Errorf("client %d: Get = %v, ok=%v", c, getErr, ok)

					return
				}

				if value != fmt.Sprintf("round%d", i) {
					t.Errorf("client %d: read back %q", c, value)

					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestServer_GracefulShutdownDrains(t *testing.T) {
	t.Parallel()

	addr, shutdown := startServer(t, filepath.Join(t.TempDir(), "keystonelight.log"))
	conn := dial(t, addr)

	_, doErr := conn.Do("SET before shutdown")
	require.NoError(t, doErr)

	shutdown()

	// The held connection was closed server-side.
	_, doErr = conn.Do("GET before")
	assert.Error(t, doErr)

	// New connections are refused after shutdown.
	_, dialErr := client.Dial(addr)
	assert.Error(t, dialErr)
}
