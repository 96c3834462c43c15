//go:build resilience

package resilience

import (
	"testing"

	"github.com/jgh-/grill/internal/session"
)

// TestChildExit_CodePropagates checks that a child exiting on its own ends
// the session with the child's exit code.
func TestChildExit_CodePropagates(t *testing.T) {
	script := writeScript(t, "exit 7")
	f := startSession(t, script)

	res := f.wait(t)
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.code != 7 {
		t.Errorf("exit code = %d, want 7", res.code)
	}
	f.out.waitFor(t, "inner CLI exited (status 7)", 1)
}

// TestChildKilled_SignalStatus checks shell-style 128+signal codes when the
// child dies to a signal instead of exiting.
func TestChildKilled_SignalStatus(t *testing.T) {
	script := writeScript(t, "kill -KILL $$")
	f := startSession(t, script)

	res := f.wait(t)
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.code != 137 { // 128 + SIGKILL
		t.Errorf("exit code = %d, want 137", res.code)
	}
}

// TestSpawnFailure_ExitsTwo checks that an unrunnable inner CLI fails the
// session with the spawn-failure code rather than hanging.
func TestSpawnFailure_ExitsTwo(t *testing.T) {
	f := startSession(t, "/nonexistent/grill-test-binary")

	res := f.wait(t)
	if res.err == nil {
		t.Fatal("expected spawn error, got nil")
	}
	if res.code != session.ExitSpawnFailure {
		t.Errorf("exit code = %d, want %d", res.code, session.ExitSpawnFailure)
	}
}
