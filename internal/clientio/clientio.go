// Package clientio implements the task proxy's edge-triggered client
// read protocol: drain a socket until it would block or the peer
// closes, assembling one NUL-terminated request.
package clientio

import (
	"golang.org/x/sys/unix"

	"github.com/mvoss/taskproxyd/internal/constants"
)

// Outcome describes what a Drain call produced.
type Outcome int

const (
	// NeedMore means the socket would block before a full request was
	// framed; the returned buffer must be stored as the slot's pending
	// buffer and passed back into the next Drain call for this fd.
	NeedMore Outcome = iota
	// Complete means a NUL-terminated request was assembled and is
	// ready to hand to the parser.
	Complete
	// Empty means the peer closed before sending any bytes; the slot
	// should simply be released.
	Empty
	// Oversize means the request exceeded RequestBufferSize without a
	// terminating NUL; the slot should be released and the client
	// closed without spawning anything.
	Oversize
	// Errored means a non-transient read error occurred; err is set.
	Errored
)

// Drain reads fd in a loop until it reports would-block or the peer
// closes. pending is the slot's previously accumulated partial buffer,
// or nil if this is the first read for the request.
//
// When pending is nil, Drain reads into a local fixed-size array. That
// array is never returned by reference — every returned slice is a
// fresh copy — so in the common case (a full request arrives in one
// drain) the array never escapes this call and the compiler keeps it
// on the stack; only the NeedMore path forces a heap copy, which is
// the stack-to-heap buffer promotion the original C server performs
// by hand.
func Drain(fd int, pending []byte) (Outcome, []byte, error) {
	if pending == nil {
		var local [constants.RequestBufferSize]byte
		l, eof, err := read(fd, local[:], 0)
		if err != nil {
			return Errored, nil, err
		}
		return finish(local[:], l, eof)
	}

	buf := pending[:cap(pending)]
	l, eof, err := read(fd, buf, len(pending))
	if err != nil {
		return Errored, nil, err
	}
	return finish(buf, l, eof)
}

// read fills buf[start:] by repeated non-blocking reads until EAGAIN,
// EOF (n == 0), or buf is full. It returns the new total fill length
// and whether EOF was observed.
func read(fd int, buf []byte, start int) (l int, eof bool, err error) {
	l = start
	for l < len(buf) {
		n, rerr := unix.Read(fd, buf[l:])
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
				break
			}
			return l, false, rerr
		}
		if n == 0 {
			eof = true
			break
		}
		l += n
	}
	return l, eof, nil
}

// finish applies the completion rules in spec §4.3 to a filled buffer.
func finish(buf []byte, l int, eof bool) (Outcome, []byte, error) {
	if l == 0 && eof {
		return Empty, nil, nil
	}

	if l > 0 && buf[l-1] == 0 {
		out := make([]byte, l)
		copy(out, buf[:l])
		return Complete, out, nil
	}

	if eof {
		if l < len(buf) {
			buf[l] = 0
			l++
			out := make([]byte, l)
			copy(out, buf[:l])
			return Complete, out, nil
		}
		return Oversize, nil, nil
	}

	if l == len(buf) {
		return Oversize, nil, nil
	}

	// would-block, not yet terminated: promote to a heap-owned pending
	// buffer sized to the full request budget so future drains can
	// append in place.
	out := make([]byte, l, constants.RequestBufferSize)
	copy(out, buf[:l])
	return NeedMore, out, nil
}
