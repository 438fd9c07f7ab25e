package taskproxyd

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorCode categorizes a structured Error per the taxonomy in spec §7.
type ErrorCode string

const (
	// ErrCodeFatalSetup covers socket/bind/listen/epoll/self-pipe
	// failures; the daemon never starts serving.
	ErrCodeFatalSetup ErrorCode = "fatal setup"
	// ErrCodeTransient covers accept/fcntl/epoll-add/read/fork
	// failures on a single slot; logged, slot released, daemon
	// continues.
	ErrCodeTransient ErrorCode = "transient"
	// ErrCodeProtocol covers oversize requests, unknown tags, and
	// too-short requests.
	ErrCodeProtocol ErrorCode = "protocol"
	// ErrCodeLaunch covers exec failure in the child path.
	ErrCodeLaunch ErrorCode = "launch"
	// ErrCodeReaper covers a partial status write or a vanished peer
	// observed at reap time.
	ErrCodeReaper ErrorCode = "reaper"
)

// Error is a structured taskproxyd error with context and errno
// mapping that callers can match against with errors.Is by Code. The
// internal components and New report their own errors wrapped with
// fmt.Errorf, not as *Error.
type Error struct {
	Op    string // operation that failed, e.g. "accept", "fork", "bind"
	Slot  int    // slot index, -1 if not applicable
	Code  ErrorCode
	Errno syscall.Errno // 0 if not applicable
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Slot >= 0 {
		parts = append(parts, fmt.Sprintf("slot=%d", e.Slot))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("taskproxyd: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("taskproxyd: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no slot context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Slot: -1, Code: code, Msg: msg}
}

// NewSlotError creates a structured error scoped to a slot.
func NewSlotError(op string, slot int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Slot: slot, Code: code, Msg: msg}
}

// WrapError wraps inner with taskproxyd context under the given code,
// recording inner's raw errno in Errno when it carries one.
func WrapError(op string, slot int, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	e := &Error{Op: op, Slot: slot, Code: code, Msg: inner.Error(), Inner: inner}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = errno
	}
	return e
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
