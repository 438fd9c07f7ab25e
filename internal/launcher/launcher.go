// Package launcher forks and execs task proxy children under the
// three dispatch disciplines, wiring file descriptors with
// syscall.ForkExec's explicit Files list rather than a manual
// fork+dup2+close dance.
package launcher

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/mvoss/taskproxyd/internal/parser"
)

// ErrNoProgram is returned when argv is empty.
var ErrNoProgram = errors.New("launcher: request carries no program to exec")

// Launch forks and execs argv under the given discipline.
//
// devNull is a file descriptor open on /dev/null, used for stdin (all
// disciplines) and stdout (EXEC/NRET). clientFD is the accepted
// client socket; it is wired onto the child's stdout for PIPE and
// otherwise omitted from the child's inherited descriptors entirely.
// Every fd the daemon holds is opened CLOEXEC, so any descriptor not
// named in Files is closed by the kernel at exec time — this is what
// makes an EXEC child drop the client socket immediately without a
// manual close in a child path, per spec's Design Notes.
// daemonStderr is the daemon's own stderr, inherited by the child so
// an exec failure is visible without a capture pipe.
func Launch(tag parser.Tag, argv []string, devNull, clientFD, daemonStderr int) (pid int, err error) {
	if len(argv) == 0 || argv[0] == "" {
		return 0, ErrNoProgram
	}

	path := argv[0]
	if resolved, lerr := exec.LookPath(path); lerr == nil {
		path = resolved
	}

	var files []uintptr
	switch tag {
	case parser.Pipe:
		files = []uintptr{uintptr(devNull), uintptr(clientFD), uintptr(daemonStderr)}
	default: // Exec, Nret
		files = []uintptr{uintptr(devNull), uintptr(devNull), uintptr(daemonStderr)}
	}

	attr := &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: files,
	}

	return syscall.ForkExec(path, argv, attr)
}
