// Command taskproxyd runs the task proxy daemon: a Unix-domain-socket
// server that dispatches short textual commands to child processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mvoss/taskproxyd"
	"github.com/mvoss/taskproxyd/internal/logging"
)

func main() {
	var (
		socketPath = flag.String("socket", taskproxyd.DefaultSocketPath, "Unix socket path to bind")
		capacity   = flag.Int("capacity", taskproxyd.DefaultCapacity, "maximum concurrent task slots")
		backlog    = flag.Int("backlog", taskproxyd.DefaultBacklog, "listen() backlog")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: level, Output: os.Stderr})
	logging.SetDefault(logger)

	// SIGUSR1 dumps every goroutine's stack for diagnosing a wedged
	// event loop, without needing to restart the daemon.
	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGUSR1)
	go func() {
		for range dumpCh {
			dumpStacks(logger)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := taskproxyd.Config{
		SocketPath: *socketPath,
		Capacity:   *capacity,
		Backlog:    *backlog,
	}

	d, err := taskproxyd.New(ctx, cfg, &taskproxyd.Options{Logger: logger})
	if err != nil {
		logger.Error("setup failed", "err", err)
		os.Exit(1)
	}

	logger.Info("listening", "socket", *socketPath, "capacity", *capacity)

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.Serve() }()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", "err", err)
	}

	if err := <-serveErr; err != nil {
		logger.Error("serve exited with error", "err", err)
		os.Exit(1)
	}
}

func dumpStacks(logger *logging.Logger) {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)

	fmt.Fprintf(os.Stderr, "%s\n", buf[:n])

	path := fmt.Sprintf("/tmp/taskproxyd-stacks-%d.txt", time.Now().UnixNano())
	if err := os.WriteFile(path, buf[:n], 0o644); err != nil {
		logger.Warn("failed to write stack dump", "err", err)
		return
	}
	logger.Info("wrote stack dump", "path", path)
}
