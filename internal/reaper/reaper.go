// Package reaper collects terminated children and routes their exit
// status back to the slot table. Child termination is serialized into
// the event loop via a self-pipe rather than a platform signalfd — the
// equivalent technique spec's Design Notes name for platforms (and,
// here, a Go runtime) where a raw signalfd isn't the natural fit: a
// minimal forwarder goroutine turns the asynchronous SIGCHLD delivery
// into a single byte on a pipe that the event loop polls like any
// other fd.
package reaper

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/mvoss/taskproxyd/internal/slots"
)

// SelfPipe forwards SIGCHLD onto a non-blocking pipe suitable for
// epoll registration.
type SelfPipe struct {
	readFD  int
	writeFD int
	sigCh   chan os.Signal
	done    chan struct{}
}

// NewSelfPipe creates the pipe, starts the forwarding goroutine, and
// returns the SelfPipe. ReadFD is the descriptor to register on the
// event loop's multiplexer.
func NewSelfPipe() (*SelfPipe, error) {
	var p [2]int
	if e := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); e != nil {
		return nil, e
	}

	sp := &SelfPipe{
		readFD:  p[0],
		writeFD: p[1],
		sigCh:   make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
	signal.Notify(sp.sigCh, syscall.SIGCHLD)

	go func() {
		for {
			select {
			case <-sp.sigCh:
				unix.Write(sp.writeFD, []byte{0})
			case <-sp.done:
				return
			}
		}
	}()

	return sp, nil
}

// ReadFD returns the descriptor to register for readability.
func (sp *SelfPipe) ReadFD() int { return sp.readFD }

// Drain empties the pipe; it does not interpret the bytes, only the
// fact that SIGCHLD occurred at least once since the last drain.
func (sp *SelfPipe) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(sp.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close stops signal delivery and releases the pipe.
func (sp *SelfPipe) Close() {
	signal.Stop(sp.sigCh)
	close(sp.done)
	unix.Close(sp.readFD)
	unix.Close(sp.writeFD)
}

// Reaped describes one child collected by ReapAll.
type Reaped struct {
	Slot   int
	Pid    int
	Status uint32
}

// ReapAll loops non-blocking wait-any until no more children are
// immediately reapable. For each reaped pid found in table, writeFn is
// called with the slot's client fd and the raw wait status before the
// slot is released — writeFn is not called for PIPE/NRET slots, whose
// client fd is already closed, and delivers the status trailer for
// EXEC. unknownFn is called for pids that reaped but match no slot
// (an invariant violation, logged by the caller, never fatal).
func ReapAll(table *slots.Table, closeFD func(fd int), writeFn func(clientFD int, status uint32), unknownFn func(pid int)) []Reaped {
	var reaped []Reaped
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil {
			if err == syscall.ECHILD {
				return reaped
			}
			return reaped
		}
		if pid <= 0 {
			return reaped
		}

		status := uint32(ws)
		idx, ok := table.FindByChild(pid)
		if !ok {
			if unknownFn != nil {
				unknownFn(pid)
			}
			continue
		}

		slot := table.Get(idx)
		if slot.ClientFD >= 0 && writeFn != nil {
			writeFn(slot.ClientFD, status)
		}
		table.Release(idx, closeFD)
		reaped = append(reaped, Reaped{Slot: idx, Pid: pid, Status: status})
	}
}
