package taskproxyd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvoss/taskproxyd/internal/wire"
)

func startTestDaemon(t *testing.T) (socketPath string, shutdown func()) {
	t.Helper()
	socketPath = NewTestSocketPath(t)

	ctx, cancel := context.WithCancel(context.Background())
	d, err := New(ctx, Config{SocketPath: socketPath, Capacity: 4, Backlog: 8}, &Options{Logger: NewRecordingLogger()})
	require.NoError(t, err)

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.Serve() }()

	// Give the listener a moment to come up before the first dial.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("unix", socketPath, 50*time.Millisecond); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return socketPath, func() {
		cancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shCancel()
		_ = d.Shutdown(shCtx)
		<-serveErr
	}
}

func TestDaemonExecRoundTrip(t *testing.T) {
	socketPath, shutdown := startTestDaemon(t)
	defer shutdown()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("exec#/bin/true\x00"))
	require.NoError(t, err)

	buf := make([]byte, wire.TrailerSize)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = readFull(conn, buf)
	require.NoError(t, err)

	status, ok := wire.UnmarshalStatus(buf)
	require.True(t, ok)
	require.Equal(t, uint32(0), status)
}

func TestDaemonPipeEcho(t *testing.T) {
	socketPath, shutdown := startTestDaemon(t)
	defer shutdown()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("pipe#/bin/echo#hello\x00"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64)
	n, _ := readUntilEOF(conn, buf)
	require.Equal(t, "hello\n", string(buf[:n]))
}

func TestDaemonNretSilence(t *testing.T) {
	socketPath, shutdown := startTestDaemon(t)
	defer shutdown()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("nret#/bin/true\x00"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, err) // EOF
}

func TestDaemonBadTagClosesWithoutSpawning(t *testing.T) {
	socketPath, shutdown := startTestDaemon(t)
	defer shutdown()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("xxxx#/bin/true\x00"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, err)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func readUntilEOF(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, nil
		}
	}
}
