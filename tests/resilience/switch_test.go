//go:build resilience

package resilience

import (
	"testing"

	"github.com/jgh-/grill/internal/task"
)

// TestTaskInit_RestartsChildOnNewTask creates a task mid-session and checks
// that the child restarted inside it (the script prints its GRILL_TASK).
func TestTaskInit_RestartsChildOnNewTask(t *testing.T) {
	f := startSession(t, catScript(t))
	f.out.waitFor(t, "TASK:default", 1)

	f.send(t, "/task init feature\r")
	f.out.waitFor(t, "created task: feature", 1)
	f.out.waitFor(t, "TASK:feature", 1)

	active, err := f.mgr.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != "feature" {
		t.Errorf("active task = %q, want feature", active)
	}

	f.send(t, "/quit\r")
	if res := f.wait(t); res.code != 0 {
		t.Errorf("exit code = %d, want 0", res.code)
	}
}

// TestTaskSwitch_BackAndForth restarts the child across several switches and
// checks the pointer lands where the last switch left it.
func TestTaskSwitch_BackAndForth(t *testing.T) {
	f := startSession(t, catScript(t))
	f.out.waitFor(t, "TASK:default", 1)

	f.send(t, "/task init a\r")
	f.out.waitFor(t, "TASK:a", 1)

	f.send(t, "/task "+task.DefaultName+"\r")
	f.out.waitFor(t, "TASK:default", 2)

	f.send(t, "/task a\r")
	f.out.waitFor(t, "TASK:a", 2)

	f.send(t, "/quit\r")
	if res := f.wait(t); res.code != 0 {
		t.Errorf("exit code = %d, want 0", res.code)
	}

	active, err := f.mgr.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != "a" {
		t.Errorf("active task = %q, want a", active)
	}
}

// TestTaskSwitch_UnknownKeepsSessionAlive sends a bad switch and verifies
// the session survives, keeps its child, and still answers commands.
func TestTaskSwitch_UnknownKeepsSessionAlive(t *testing.T) {
	f := startSession(t, catScript(t))
	f.out.waitFor(t, "TASK:default", 1)

	f.send(t, "/task nope\r")
	f.out.waitFor(t, "error:", 1)

	f.send(t, "/task list\r")
	f.out.waitFor(t, "* default (current)", 1)

	f.send(t, "still here\r")
	f.out.waitFor(t, "still here", 1)

	f.send(t, "/quit\r")
	if res := f.wait(t); res.code != 0 {
		t.Errorf("exit code = %d, want 0", res.code)
	}
}
