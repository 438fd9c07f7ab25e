// Package eventloop implements the task proxy's single-threaded
// readiness multiplexer: it owns the listener, the SIGCHLD self-pipe,
// and every accepted client fd, dispatching each epoll-reported event
// to the Slot Table, Client I/O, Child Launcher, or Reaper.
package eventloop

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mvoss/taskproxyd/internal/clientio"
	"github.com/mvoss/taskproxyd/internal/constants"
	"github.com/mvoss/taskproxyd/internal/interfaces"
	"github.com/mvoss/taskproxyd/internal/launcher"
	"github.com/mvoss/taskproxyd/internal/parser"
	"github.com/mvoss/taskproxyd/internal/reaper"
	"github.com/mvoss/taskproxyd/internal/slots"
	"github.com/mvoss/taskproxyd/internal/wire"
)

// Config configures a Loop.
type Config struct {
	SocketPath string
	Capacity   int
	Backlog    int
	Logger     interfaces.Logger
}

// Loop is the single-threaded event loop. It is not safe for
// concurrent use; Run must only ever be called from one goroutine,
// which then owns the slot table for its lifetime (spec's Design
// Notes: "a single owned value threaded through the event loop; no
// global required").
type Loop struct {
	cfg      Config
	epfd     int
	listener int
	devNull  int
	pipe     *reaper.SelfPipe
	table    *slots.Table
	log      interfaces.Logger
}

// New performs every fatal-setup step: socket, bind, listen, epoll
// creation, self-pipe creation, and /dev/null open. Any failure here
// is a fatal setup error per spec §7; the daemon never starts serving.
func New(cfg Config) (*Loop, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = constants.DefaultCapacity
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = constants.DefaultBacklog
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = constants.DefaultSocketPath
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("eventloop: socket: %w", err)
	}

	_ = unix.Unlink(cfg.SocketPath)
	addr := &unix.SockaddrUnix{Name: cfg.SocketPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: bind %s: %w", cfg.SocketPath, err)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: listen: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}

	pipe, err := reaper.NewSelfPipe()
	if err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: self-pipe: %w", err)
	}

	devNull, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		pipe.Close()
		unix.Close(epfd)
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: open /dev/null: %w", err)
	}

	l := &Loop{
		cfg:      cfg,
		epfd:     epfd,
		listener: fd,
		devNull:  devNull,
		pipe:     pipe,
		table:    slots.NewTable(cfg.Capacity),
		log:      cfg.Logger,
	}

	if err := epollAdd(epfd, fd, unix.EPOLLIN, fd); err != nil {
		l.Close()
		return nil, fmt.Errorf("eventloop: epoll_ctl listener: %w", err)
	}
	if err := epollAdd(epfd, pipe.ReadFD(), unix.EPOLLIN, pipe.ReadFD()); err != nil {
		l.Close()
		return nil, fmt.Errorf("eventloop: epoll_ctl self-pipe: %w", err)
	}

	return l, nil
}

// Close releases every fatal-setup resource. Safe to call once after
// Run returns, or instead of Run if New succeeded but Run was never
// started.
func (l *Loop) Close() {
	if l.pipe != nil {
		l.pipe.Close()
	}
	if l.devNull >= 0 {
		unix.Close(l.devNull)
	}
	if l.epfd >= 0 {
		unix.Close(l.epfd)
	}
	if l.listener >= 0 {
		unix.Close(l.listener)
	}
	_ = unix.Unlink(l.cfg.SocketPath)
}

// Run drives the loop until ctx is cancelled or a fatal error occurs.
// A cancelled context is a clean shutdown (nil error).
func (l *Loop) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 2+l.cfg.Capacity)
	timeoutMs := int(constants.EpollWaitTimeout / time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(l.epfd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("eventloop: epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}

		saturated := false
		for i := 0; i < n; i++ {
			ev := events[i]
			switch int(ev.Fd) {
			case l.pipe.ReadFD():
				l.handleSignal()
			case l.listener:
				if !l.handleListener() {
					saturated = true
				}
			default:
				idx := int(-ev.Fd) - 1
				if idx < 0 || idx >= l.table.Capacity() {
					l.warnf("unexpected epoll payload %d", ev.Fd)
					continue
				}
				l.handleClient(idx, ev.Events)
			}
		}

		if saturated {
			time.Sleep(constants.SaturationBackoff)
		}
	}
}

// handleListener accepts every client the slot table currently has
// room for. It returns false the moment Acquire reports saturation,
// which is the signal to the caller to back off — evaluated every
// time the listener is readable, independent of whatever else fired
// in the same EpollWait batch (the rewrite of the Open Question in
// spec §9 about back-pressure only firing when the listener is the
// sole ready fd).
func (l *Loop) handleListener() bool {
	for {
		idx, ok := l.table.Acquire()
		if !ok {
			return false
		}

		cfd, _, err := unix.Accept4(l.listener, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			l.table.Release(idx, l.closeFD)
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return true
			}
			l.warnf("accept: %v", err)
			return true
		}

		slot := l.table.Get(idx)
		slot.ClientFD = cfd

		if err := epollAddClient(l.epfd, cfd, idx); err != nil {
			l.warnf("epoll_ctl add client: %v", err)
			l.table.Release(idx, l.closeFD)
			return true
		}
	}
}

// handleClient drives one readiness event for an accepted client
// through Client I/O, and on a complete frame, through the parser and
// launcher.
func (l *Loop) handleClient(idx int, events uint32) {
	slot := l.table.Get(idx)
	if slot.State != slots.StateReading {
		// Stale event for a slot that has since been reaped/reused;
		// epoll de-registration already happened on Complete.
		return
	}

	// EPOLLHUP is deliberately not checked here: unix_poll() ORs it in
	// the instant the peer closes, independent of unread bytes still
	// sitting in the receive queue, which is exactly what a fire-and-
	// forget NRET client does after writing its frame. Only EPOLLERR
	// short-circuits straight to Release; a hung-up-but-readable client
	// still gets drained below, the same as spec's state table.
	if events&unix.EPOLLERR != 0 {
		l.table.Release(idx, l.closeFD)
		return
	}

	outcome, buf, err := clientio.Drain(slot.ClientFD, slot.Pending)
	switch outcome {
	case clientio.Errored:
		l.warnf("slot %d read: %v", idx, err)
		l.table.Release(idx, l.closeFD)
	case clientio.Empty:
		l.table.Release(idx, l.closeFD)
	case clientio.Oversize:
		l.warnf("slot %d request too large", idx)
		l.table.Release(idx, l.closeFD)
	case clientio.NeedMore:
		slot.Pending = buf
	case clientio.Complete:
		l.dispatch(idx, buf)
	}
}

// dispatch classifies a complete frame and launches its child.
func (l *Loop) dispatch(idx int, buf []byte) {
	slot := l.table.Get(idx)
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, slot.ClientFD, nil)

	tag, err := parser.Classify(buf)
	if err != nil || tag == parser.Invalid {
		l.warnf("slot %d unknown command tag", idx)
		l.table.Release(idx, l.closeFD)
		return
	}

	argv := parser.Split(buf, constants.ArgCap)
	pid, err := launcher.Launch(tag, argv, l.devNull, slot.ClientFD, int(os.Stderr.Fd()))
	if err != nil {
		l.warnf("slot %d launch %s: %v", idx, tag, err)
		l.table.Release(idx, l.closeFD)
		return
	}

	clientFD := slot.ClientFD
	l.table.Launch(idx, pid)

	switch tag {
	case parser.Pipe, parser.Nret:
		// the parent's copy of the client socket is no longer needed:
		// PIPE's child holds stdout dup'd to it, NRET never replies.
		l.table.Get(idx).ClientFD = -1
		unix.Close(clientFD)
	case parser.Exec:
		// retained until the Reaper delivers the status trailer.
	}
}

// handleSignal drains the self-pipe and reaps every child that has
// terminated since the last pass.
func (l *Loop) handleSignal() {
	l.pipe.Drain()
	reaper.ReapAll(l.table, l.closeFD,
		func(clientFD int, status uint32) {
			trailer := wire.MarshalStatus(status)
			if _, err := unix.Write(clientFD, trailer); err != nil {
				l.warnf("status write: %v", err)
			}
		},
		func(pid int) {
			l.warnf("reaped pid %d not found in slot table", pid)
		},
	)
}

func (l *Loop) closeFD(fd int) {
	unix.Close(fd)
}

func (l *Loop) warnf(format string, args ...any) {
	if l.log != nil {
		l.log.Warn(fmt.Sprintf(format, args...))
	}
}

func epollAdd(epfd, fd int, events uint32, tag int) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(tag)}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// epollAddClient registers a client fd edge-triggered, tagging the
// event payload with -(idx+1) so the dispatch switch in Run can
// distinguish it from the listener and self-pipe's real descriptor
// values — the event-payload tagging scheme from spec's Design Notes.
func epollAddClient(epfd, fd, idx int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(-(idx + 1))}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}
