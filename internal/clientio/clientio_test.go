package clientio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mvoss/taskproxyd/internal/constants"
)

func socketpair(t *testing.T) (readFD, writeFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestDrainCompleteInOneRead(t *testing.T) {
	rfd, wfd := socketpair(t)
	_, err := unix.Write(wfd, []byte("exec#/bin/true\x00"))
	require.NoError(t, err)

	outcome, buf, err := Drain(rfd, nil)
	require.NoError(t, err)
	require.Equal(t, Complete, outcome)
	require.Equal(t, "exec#/bin/true\x00", string(buf))
}

func TestDrainNeedsMoreThenCompletes(t *testing.T) {
	rfd, wfd := socketpair(t)
	_, err := unix.Write(wfd, []byte("exec#/bin/"))
	require.NoError(t, err)

	outcome, pending, err := Drain(rfd, nil)
	require.NoError(t, err)
	require.Equal(t, NeedMore, outcome)
	require.Equal(t, "exec#/bin/", string(pending))

	_, err = unix.Write(wfd, []byte("true\x00"))
	require.NoError(t, err)

	outcome, buf, err := Drain(rfd, pending)
	require.NoError(t, err)
	require.Equal(t, Complete, outcome)
	require.Equal(t, "exec#/bin/true\x00", string(buf))
}

func TestDrainEmptyOnImmediateClose(t *testing.T) {
	rfd, wfd := socketpair(t)
	unix.Close(wfd)

	outcome, buf, err := Drain(rfd, nil)
	require.NoError(t, err)
	require.Equal(t, Empty, outcome)
	require.Nil(t, buf)
}

func TestDrainAppendsNULOnCloseWithoutOne(t *testing.T) {
	rfd, wfd := socketpair(t)
	_, err := unix.Write(wfd, []byte("nret#/bin/true"))
	require.NoError(t, err)
	unix.Close(wfd)

	outcome, buf, err := Drain(rfd, nil)
	require.NoError(t, err)
	require.Equal(t, Complete, outcome)
	require.Equal(t, byte(0), buf[len(buf)-1])
	require.Equal(t, "nret#/bin/true\x00", string(buf))
}

func TestDrainOversizeWithoutNUL(t *testing.T) {
	rfd, wfd := socketpair(t)
	payload := make([]byte, constants.RequestBufferSize)
	for i := range payload {
		payload[i] = 'a'
	}
	// Send in chunks; a single socket write may be short.
	for written := 0; written < len(payload); {
		n, err := unix.Write(wfd, payload[written:])
		require.NoError(t, err)
		written += n
	}

	outcome, buf, err := Drain(rfd, nil)
	require.NoError(t, err)
	require.Equal(t, Oversize, outcome)
	require.Nil(t, buf)
}
