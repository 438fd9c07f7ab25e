// Package constants holds the fixed sizes and tuning knobs of the task
// proxy daemon.
package constants

import "time"

// Sizing constants for the request-framing protocol.
const (
	// RequestBufferSize bounds a single framed request, terminating NUL
	// included.
	RequestBufferSize = 5120

	// ArgCap bounds the argument vector split out of a request: one
	// entry is reserved for the terminator, so at most ArgCap-1
	// arguments, argv[0] included, are kept.
	ArgCap = 16

	// DefaultCapacity is the default number of concurrent task slots.
	DefaultCapacity = 16

	// DefaultBacklog is the default listen() backlog on the Unix socket.
	DefaultBacklog = 32

	// DefaultSocketPath is the default bind path for the listener.
	DefaultSocketPath = "/tmp/task_proxy"
)

// Timing constants for the event loop.
const (
	// SaturationBackoff is how long the event loop sleeps after an
	// Acquire failed due to a full slot table, before calling EpollWait
	// again.
	SaturationBackoff = 500 * time.Millisecond

	// EpollWaitTimeout bounds how long EpollWait blocks per iteration so
	// Run can observe context cancellation promptly.
	EpollWaitTimeout = time.Second
)

// Command tags, the single-byte delimiter, and the wire literals they
// compare against.
const (
	TagExec = "exec"
	TagPipe = "pipe"
	TagNret = "nret"

	CmdLen = 4
	Delim  = '#'
)

// RetMark is the sentinel written before the EXEC status word.
const RetMark = "####"
