//go:build resilience

package resilience

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jgh-/grill/internal/config"
	"github.com/jgh-/grill/internal/history"
	"github.com/jgh-/grill/internal/paths"
	"github.com/jgh-/grill/internal/session"
	"github.com/jgh-/grill/internal/task"
)

// termBuffer collects session output. The child-to-terminal pump writes from
// its own goroutine, so access is serialized.
type termBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *termBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *termBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls until substr appears at least count times in the output.
func (b *termBuffer) waitFor(t *testing.T, substr string, count int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Count(b.String(), substr) >= count {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d × %q in output:\n%s", count, substr, b.String())
}

type sessionResult struct {
	code int
	err  error
}

// fixture is one initialized grill environment with a session running over
// an os.Pipe stdin.
type fixture struct {
	root    string
	mgr     *task.Manager
	stdin   *os.File // write end; the session reads the other end
	out     *termBuffer
	done    chan sessionResult
	history *history.Store
}

// setupEnv creates an initialized .grill/ environment in a temp directory.
func setupEnv(t *testing.T) (string, *task.Manager) {
	t.Helper()
	root := t.TempDir()
	layout := paths.NewLayout(root)
	if err := os.MkdirAll(layout.VarDir(), 0o755); err != nil {
		t.Fatalf("mkdir var: %v", err)
	}
	if err := config.Default().Save(layout.ConfigFile()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	mgr := task.NewManager(root)
	if err := mgr.EnsureDefault(); err != nil {
		t.Fatalf("ensure default: %v", err)
	}
	if err := mgr.Switch(task.DefaultName); err != nil {
		t.Fatalf("switch default: %v", err)
	}
	return root, mgr
}

// writeScript drops an executable /bin/sh script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inner.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// startSession runs a session against cli in its own goroutine. opts may
// mutate the session options before New (history wiring in particular).
func startSession(t *testing.T, cli string, opts ...func(*session.Options)) *fixture {
	t.Helper()
	root, mgr := setupEnv(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})

	out := &termBuffer{}
	sopts := session.Options{
		Root:        root,
		CLIOverride: []string{cli},
		Stdin:       r,
		Stdout:      out,
	}
	for _, fn := range opts {
		fn(&sopts)
	}

	sess, err := session.New(sopts)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	done := make(chan sessionResult, 1)
	go func() {
		code, err := sess.Run()
		done <- sessionResult{code: code, err: err}
	}()

	return &fixture{
		root:    root,
		mgr:     mgr,
		stdin:   w,
		out:     out,
		done:    done,
		history: sopts.History,
	}
}

// send writes bytes to the session's stdin as if typed.
func (f *fixture) send(t *testing.T, s string) {
	t.Helper()
	if _, err := f.stdin.Write([]byte(s)); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
}

// wait blocks until the session finishes and returns its result.
func (f *fixture) wait(t *testing.T) sessionResult {
	t.Helper()
	select {
	case res := <-f.done:
		return res
	case <-time.After(15 * time.Second):
		t.Fatalf("session did not finish; output:\n%s", f.out.String())
		return sessionResult{}
	}
}

// catScript is an inner CLI that announces its task and then echoes stdin
// until terminated. GRILL_TASK comes from the task environment overlay.
func catScript(t *testing.T) string {
	t.Helper()
	return writeScript(t, `echo "TASK:$GRILL_TASK"`+"\nexec cat")
}
