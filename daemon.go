// Package taskproxyd provides the public API for running a task proxy
// daemon: a Unix-domain-socket server that dispatches short textual
// commands to child processes under three disciplines (exec/pipe/nret).
package taskproxyd

import (
	"context"
	"fmt"
	"sync"

	"github.com/mvoss/taskproxyd/internal/constants"
	"github.com/mvoss/taskproxyd/internal/eventloop"
	"github.com/mvoss/taskproxyd/internal/interfaces"
	"github.com/mvoss/taskproxyd/internal/logging"
)

// Logger is the public logging interface a caller can supply via
// Options. internal/logging.Logger already satisfies it.
type Logger = interfaces.Logger

// Config configures the listener and the fixed-size slot table.
type Config struct {
	// SocketPath is the filesystem path to bind. It is unlinked before
	// bind and again on a clean shutdown.
	SocketPath string

	// Capacity is the number of concurrent task slots (default 16).
	Capacity int

	// Backlog is the listen() backlog on the Unix socket (default 32).
	Backlog int
}

// DefaultConfig returns a Config with the spec's nominal sizing.
func DefaultConfig() Config {
	return Config{
		SocketPath: constants.DefaultSocketPath,
		Capacity:   constants.DefaultCapacity,
		Backlog:    constants.DefaultBacklog,
	}
}

// Options carries cross-cutting dependencies that don't belong in
// Config.
type Options struct {
	// Logger receives warnings for transient per-client errors. If nil,
	// internal/logging's process-wide default logger is used.
	Logger Logger
}

// State describes the daemon's lifecycle phase.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Daemon is a bound, not-yet-serving (or currently serving) task proxy
// instance.
type Daemon struct {
	loop   *eventloop.Loop
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
}

// New performs every fatal-setup step (socket, bind, listen, epoll,
// self-pipe) and returns a Daemon ready to Serve. A non-nil error here
// is always a fatal setup error per spec §7; nothing has been left
// listening.
func New(ctx context.Context, cfg Config, opts *Options) (*Daemon, error) {
	if opts == nil {
		opts = &Options{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	loop, err := eventloop.New(eventloop.Config{
		SocketPath: cfg.SocketPath,
		Capacity:   cfg.Capacity,
		Backlog:    cfg.Backlog,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("taskproxyd: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	d := &Daemon{
		loop:   loop,
		runCtx: runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateCreated,
	}
	return d, nil
}

// ListenAndServe is the single-call convenience entry point: it builds
// a Daemon and runs it until ctx is cancelled or a fatal error occurs.
func ListenAndServe(ctx context.Context, cfg Config, opts *Options) error {
	d, err := New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	return d.Serve()
}

// Serve runs the event loop until its context is cancelled (via
// Shutdown) or a fatal error occurs. It returns nil on a clean,
// cancellation-triggered shutdown.
func (d *Daemon) Serve() error {
	d.mu.Lock()
	d.state = StateRunning
	d.mu.Unlock()

	err := d.loop.Run(d.runCtx)
	d.loop.Close()

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	close(d.done)
	return err
}

// Shutdown cancels the daemon's run context and waits for Serve to
// return, bounded by ctx.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.cancel()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the daemon's current lifecycle phase.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
