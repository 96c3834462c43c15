// Package ptyproc spawns the inner CLI attached to a pseudo-terminal and
// exposes the master side for byte-level forwarding.
package ptyproc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrChildExited is returned by Write after the child has terminated. The
// master handle must not be written once the link is gone.
var ErrChildExited = errors.New("child process has exited")

// Options describes one child spawn.
type Options struct {
	Command string
	Args    []string
	Dir     string   // working directory; empty keeps the parent's
	Env     []string // full environment; empty inherits os.Environ()
	Cols    int      // initial size; zero values default to 80x24
	Rows    int
}

// Proc is a running child attached to a pseudo-terminal pair. The master
// descriptor is closed exactly once regardless of exit path.
type Proc struct {
	cmd  *exec.Cmd
	ptmx *os.File

	done     chan struct{} // closed after the child has been reaped
	exitCode int           // valid once done is closed

	closeOnce sync.Once
	closeErr  error
}

// Spawn allocates a pseudo-terminal pair and starts the command attached to
// its slave side. Failures are fatal to the session: the caller must report
// and terminate, not retry.
func Spawn(opts Options) (*Proc, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("spawn: empty command")
	}
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows), //nolint:gosec // terminal sizes fit in uint16
		Cols: uint16(cols), //nolint:gosec
	})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", opts.Command, err)
	}

	p := &Proc{
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}

	// Reap the child as soon as it exits so Wait and Done observe it
	// without polling.
	go func() {
		err := cmd.Wait()
		p.exitCode = exitCodeFrom(err)
		close(p.done)
	}()

	return p, nil
}

// Read reads output bytes from the master side. After child exit it returns
// io.EOF or EIO depending on the platform; callers treat any error as
// equivalent to child exit.
func (p *Proc) Read(buf []byte) (int, error) {
	return p.ptmx.Read(buf)
}

// Write writes input bytes to the master side. Writing after child exit is
// rejected rather than racing the closed link.
func (p *Proc) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrChildExited
	default:
	}
	return p.ptmx.Write(b)
}

// Resize propagates a window size change to the child.
func (p *Proc) Resize(cols, rows int) error {
	err := pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: uint16(rows), //nolint:gosec // terminal sizes fit in uint16
		Cols: uint16(cols), //nolint:gosec
	})
	if err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Done is closed once the child has exited and been reaped.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child terminates and returns its exit code. A child
// killed by a signal reports 128+signal, shell-style.
func (p *Proc) Wait() int {
	<-p.done
	return p.exitCode
}

// Stop terminates the child: SIGTERM first, SIGKILL after the grace period,
// then waits for the exit to be reaped and returns the exit code.
func (p *Proc) Stop(grace time.Duration) int {
	select {
	case <-p.done:
		return p.exitCode
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return p.exitCode
	case <-time.After(grace):
	}

	_ = p.cmd.Process.Kill()
	return p.Wait()
}

// Close releases the master descriptor. Safe on every exit path; only the
// first call closes.
func (p *Proc) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.ptmx.Close()
	})
	return p.closeErr
}

// exitCodeFrom converts cmd.Wait's error into a shell-style exit code.
func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
