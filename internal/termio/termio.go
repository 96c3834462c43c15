// Package termio drives the real controlling terminal: raw mode entry and
// guaranteed restore, serialized output, and window-resize notifications.
package termio

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"
)

// IsTerminal reports whether fd refers to a terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// Size returns the terminal dimensions for fd.
func Size(fd int) (cols, rows int, err error) {
	cols, rows, err = term.GetSize(fd)
	if err != nil {
		return 0, 0, fmt.Errorf("get terminal size: %w", err)
	}
	return cols, rows, nil
}

// RawGuard holds the pre-raw terminal attributes and restores them exactly
// once. Restore must run on every exit path; callers defer it immediately
// after EnterRaw succeeds and may also call it explicitly earlier.
type RawGuard struct {
	fd    int
	state *term.State
	once  sync.Once
	err   error
}

// EnterRaw captures the terminal attributes for fd and switches it to
// character-at-a-time, no-local-echo mode.
func EnterRaw(fd int) (*RawGuard, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("set raw mode: %w", err)
	}
	return &RawGuard{fd: fd, state: state}, nil
}

// Restore puts the terminal back into its captured attributes. Safe to call
// more than once; only the first call touches the terminal.
func (g *RawGuard) Restore() error {
	g.once.Do(func() {
		if err := term.Restore(g.fd, g.state); err != nil {
			g.err = fmt.Errorf("restore terminal mode: %w", err)
		}
	})
	return g.err
}

// Writer serializes writes to the real terminal so locally-generated text is
// never interleaved byte-for-byte with child output mid-line. Each Write is
// one atomic message with respect to other writers.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps an output stream, normally os.Stdout.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes p as one unit.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// Message writes a local status line, CRLF-framed and preceded by a CRLF so
// it never continues a partial child output line. The terminal is in raw
// mode, so bare \n would only move down a row.
func (w *Writer) Message(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.w.Write([]byte("\r\n" + text + "\r\n"))
}

// NotifyResize invokes fn once immediately and again on every SIGWINCH until
// the returned stop function is called.
func NotifyResize(fn func()) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	done := make(chan struct{})

	go func() {
		fn()
		for {
			select {
			case <-ch:
				fn()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
