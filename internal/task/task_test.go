package task_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jgh-/grill/internal/task"
)

func newManager(t *testing.T) *task.Manager {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".grill", "tasks"), 0750); err != nil {
		t.Fatalf("failed to create layout: %v", err)
	}
	m := task.NewManager(root)
	if err := m.EnsureDefault(); err != nil {
		t.Fatalf("EnsureDefault failed: %v", err)
	}
	return m
}

func TestValidateName(t *testing.T) {
	valid := []string{"default", "foo", "my-task", "v1.2_rc", "A"}
	for _, name := range valid {
		if err := task.ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", ".", "..", ".hidden", "-flag", "a/b", "a b", "a\x00b", "über",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	for _, name := range invalid {
		if err := task.ValidateName(name); !errors.Is(err, task.ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestInitThenActive(t *testing.T) {
	m := newManager(t)

	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	active, err := m.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active != "foo" {
		t.Errorf("expected active task 'foo', got %q", active)
	}
}

func TestInit_ExistingFails(t *testing.T) {
	m := newManager(t)

	if err := m.Init("same-name"); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	err := m.Init("same-name")
	if !errors.Is(err, task.ErrAlreadyExists) {
		t.Errorf("second Init = %v, want ErrAlreadyExists", err)
	}

	// Active pointer unchanged by the failed init.
	active, err := m.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active != "same-name" {
		t.Errorf("expected active task 'same-name', got %q", active)
	}
}

func TestInit_SeedsTaskFiles(t *testing.T) {
	m := newManager(t)
	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	dir := m.Layout().TaskDir("foo")
	for _, file := range []string{"instructions.md", "state.md", "config.toml"} {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			t.Errorf("expected %s to exist: %v", file, err)
		}
	}
}

func TestSwitch_NotFoundLeavesActiveUnchanged(t *testing.T) {
	m := newManager(t)

	err := m.Switch("bar")
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Switch = %v, want ErrNotFound", err)
	}

	active, err := m.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active != task.DefaultName {
		t.Errorf("expected active task to remain %q, got %q", task.DefaultName, active)
	}
}

func TestSwitch_PersistsAcrossManagers(t *testing.T) {
	m := newManager(t)
	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// A fresh manager over the same root resumes the same active task.
	m2 := task.NewManager(m.Layout().Root)
	active, err := m2.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active != "foo" {
		t.Errorf("expected persisted active task 'foo', got %q", active)
	}
}

func TestDelete_ActiveRejected(t *testing.T) {
	m := newManager(t)
	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := m.Delete("foo"); !errors.Is(err, task.ErrCannotDeleteActive) {
		t.Errorf("Delete(active) = %v, want ErrCannotDeleteActive", err)
	}
	if !m.Exists("foo") {
		t.Error("rejected delete must not remove the task directory")
	}
}

func TestDelete_DefaultRejected(t *testing.T) {
	m := newManager(t)

	// default is the only task (and active): deletion is rejected and the
	// task set is never left empty.
	if err := m.Delete(task.DefaultName); !errors.Is(err, task.ErrReserved) {
		t.Errorf("Delete(default) = %v, want ErrReserved", err)
	}

	// Even when another task is active, default stays reserved.
	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := m.Delete(task.DefaultName); !errors.Is(err, task.ErrReserved) {
		t.Errorf("Delete(default) = %v, want ErrReserved", err)
	}

	names, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("task set must never be empty")
	}
}

func TestDelete_NotFound(t *testing.T) {
	m := newManager(t)
	if err := m.Delete("ghost"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Delete = %v, want ErrNotFound", err)
	}
}

func TestDelete_InactiveTask(t *testing.T) {
	m := newManager(t)
	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := m.Init("bar"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// bar is active; foo can go.
	if err := m.Delete("foo"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if m.Exists("foo") {
		t.Error("expected foo to be removed")
	}
}

func TestList_SortedAndIncludesDefault(t *testing.T) {
	m := newManager(t)
	for _, name := range []string{"zeta", "alpha"} {
		if err := m.Init(name); err != nil {
			t.Fatalf("Init(%s) failed: %v", name, err)
		}
	}

	names, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"alpha", "default", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestList_SkipsUncommittedDirs(t *testing.T) {
	m := newManager(t)

	// Simulate a crash between directory creation and commit.
	leftover := filepath.Join(m.Layout().TasksDir(), ".tmp-broken-1234")
	if err := os.MkdirAll(leftover, 0750); err != nil {
		t.Fatalf("failed to create leftover dir: %v", err)
	}

	names, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, name := range names {
		if name == ".tmp-broken-1234" {
			t.Error("uncommitted task directory visible in List")
		}
	}
}

func TestList_RecreatesMissingDefault(t *testing.T) {
	m := newManager(t)
	if err := os.RemoveAll(m.Layout().TaskDir(task.DefaultName)); err != nil {
		t.Fatalf("failed to remove default: %v", err)
	}

	names, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	found := false
	for _, name := range names {
		if name == task.DefaultName {
			found = true
		}
	}
	if !found {
		t.Error("List must always include default")
	}
}

func TestActive_DanglingPointerFallsBack(t *testing.T) {
	m := newManager(t)
	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Remove the task behind the pointer's back.
	if err := os.RemoveAll(m.Layout().TaskDir("foo")); err != nil {
		t.Fatalf("failed to remove task dir: %v", err)
	}

	active, err := m.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active != task.DefaultName {
		t.Errorf("dangling pointer should fall back to %q, got %q", task.DefaultName, active)
	}
}

func TestEnviron(t *testing.T) {
	m := newManager(t)
	if err := m.Init("foo"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	content := "[env]\nB_VAR = \"2\"\nA_VAR = \"1\"\n"
	if err := os.WriteFile(m.Layout().TaskConfigFile("foo"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write task config: %v", err)
	}

	env, err := m.Environ("foo")
	if err != nil {
		t.Fatalf("Environ failed: %v", err)
	}
	want := []string{
		"GRILL_TASK=foo",
		"GRILL_TASK_DIR=" + m.Layout().TaskDir("foo"),
		"A_VAR=1",
		"B_VAR=2",
	}
	if len(env) != len(want) {
		t.Fatalf("expected %v, got %v", want, env)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Errorf("env[%d]: expected %q, got %q", i, want[i], env[i])
		}
	}
}

func TestEnviron_NotFound(t *testing.T) {
	m := newManager(t)
	if _, err := m.Environ("ghost"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Environ = %v, want ErrNotFound", err)
	}
}
