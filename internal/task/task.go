// Package task owns the set of named tasks, the active-task pointer, and the
// on-disk task directory layout under .grill/tasks/.
package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jgh-/grill/internal/config"
	"github.com/jgh-/grill/internal/paths"
)

// DefaultName is the reserved task every environment always has.
const DefaultName = "default"

// tmpPrefix marks task directories whose creation has not committed yet.
// Enumeration skips them, so a crash mid-create never exposes a partial task.
const tmpPrefix = ".tmp-"

var (
	// ErrNotFound is returned when a named task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyExists is returned by Init for an existing name.
	// Policy: `/task init <existing>` is an error, not an idempotent switch.
	ErrAlreadyExists = errors.New("task already exists")

	// ErrInvalidName is returned for empty or path-unsafe task names.
	ErrInvalidName = errors.New("invalid task name")

	// ErrCannotDeleteActive is returned when deleting the active task.
	// Policy: deletion of the active task is rejected, never falls back.
	ErrCannotDeleteActive = errors.New("cannot delete the active task")

	// ErrReserved is returned when deleting the default task. Keeping
	// default undeletable guarantees the task set is never empty.
	ErrReserved = errors.New("cannot delete the default task")
)

// Task describes one persisted task.
type Task struct {
	Name      string
	Dir       string
	CreatedAt time.Time
}

// Manager performs task creation, switching, listing, and deletion for one
// .grill/ environment. It is not safe for concurrent use; a session owns
// exactly one Manager.
type Manager struct {
	layout paths.Layout
}

// NewManager returns a manager over the environment rooted at root.
func NewManager(root string) *Manager {
	return &Manager{layout: paths.NewLayout(root)}
}

// Layout exposes the underlying directory layout.
func (m *Manager) Layout() paths.Layout {
	return m.layout
}

// ValidateName checks that a task name is non-empty, filesystem-safe, and
// not a dot/dash-prefixed sequence that could escape the tasks directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if len(name) > 64 {
		return fmt.Errorf("%w: name exceeds 64 bytes", ErrInvalidName)
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return fmt.Errorf("%w: name may not begin with %q", ErrInvalidName, name[:1])
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidName, r)
		}
	}
	return nil
}

// Exists reports whether a task directory is present.
func (m *Manager) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	info, err := os.Stat(m.layout.TaskDir(name))
	return err == nil && info.IsDir()
}

// List enumerates persisted task names in lexicographic order. The default
// task is recreated on demand, so it is always present in the result.
func (m *Manager) List() ([]string, error) {
	if err := m.EnsureDefault(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.layout.TasksDir())
	if err != nil {
		return nil, fmt.Errorf("read tasks directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, tmpPrefix) {
			continue // uncommitted creation leftover
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Active returns the active task name from the persisted pointer, defaulting
// to the default task when the pointer is missing or dangling.
func (m *Manager) Active() (string, error) {
	data, err := os.ReadFile(m.layout.CurrentTaskFile())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultName, nil
		}
		return "", fmt.Errorf("read current task file: %w", err)
	}

	name := strings.TrimSpace(string(data))
	if name == "" || !m.Exists(name) {
		// The pointer must always refer to an existing task.
		return DefaultName, nil
	}
	return name, nil
}

// Get returns metadata for one task.
func (m *Manager) Get(name string) (Task, error) {
	if err := ValidateName(name); err != nil {
		return Task{}, err
	}
	dir := m.layout.TaskDir(name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return Task{Name: name, Dir: dir, CreatedAt: info.ModTime()}, nil
}

// Init creates a new task and switches to it. Fails with ErrInvalidName for
// unsafe names and ErrAlreadyExists for existing ones.
func (m *Manager) Init(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if m.Exists(name) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if err := m.create(name); err != nil {
		return err
	}
	return m.Switch(name)
}

// Switch sets the active task pointer and persists it immediately.
// Fails with ErrNotFound if no such task exists; the pointer is unchanged
// on failure. The caller is responsible for respawning the child with the
// new task's environment.
func (m *Manager) Switch(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !m.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := config.WriteFileAtomic(m.layout.CurrentTaskFile(), []byte(name+"\n"), 0600); err != nil {
		return fmt.Errorf("persist active task: %w", err)
	}
	return nil
}

// Delete removes a task's directory and config. The active task and the
// default task are rejected, so the pointer can never dangle and the task
// set can never be empty.
func (m *Manager) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if name == DefaultName {
		return ErrReserved
	}
	if !m.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	active, err := m.Active()
	if err != nil {
		return err
	}
	if name == active {
		return ErrCannotDeleteActive
	}

	if err := os.RemoveAll(m.layout.TaskDir(name)); err != nil {
		return fmt.Errorf("delete task %s: %w", name, err)
	}
	return nil
}

// EnsureDefault recreates the default task directory if it is missing.
func (m *Manager) EnsureDefault() error {
	if m.Exists(DefaultName) {
		return nil
	}
	return m.create(DefaultName)
}

// Environ computes the environment overlay applied to the child process when
// a task is active: GRILL_TASK, GRILL_TASK_DIR, plus the task config's env
// table. Returned as KEY=VALUE pairs ready to append to os.Environ().
func (m *Manager) Environ(name string) ([]string, error) {
	tk, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	taskCfg, err := config.LoadTask(m.layout.TaskConfigFile(name))
	if err != nil {
		return nil, err
	}

	env := []string{
		"GRILL_TASK=" + tk.Name,
		"GRILL_TASK_DIR=" + tk.Dir,
	}
	// Deterministic order for testability.
	keys := make([]string, 0, len(taskCfg.Env))
	for k := range taskCfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+taskCfg.Env[k])
	}
	return env, nil
}

// create builds a task directory in a temp location and renames it into
// place, so enumeration never observes a half-created task.
func (m *Manager) create(name string) error {
	if err := os.MkdirAll(m.layout.TasksDir(), 0750); err != nil {
		return fmt.Errorf("create tasks directory: %w", err)
	}

	tmpDir := filepath.Join(m.layout.TasksDir(), fmt.Sprintf("%s%s-%d", tmpPrefix, name, os.Getpid()))
	if err := os.MkdirAll(tmpDir, 0750); err != nil {
		return fmt.Errorf("create task directory for %s: %w", name, err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }() // no-op after successful rename

	seed := map[string]string{
		"instructions.md": "# Task Instructions\n\nAdd your instructions here.\n",
		"state.md":        "# Task State\n\nTask state will be tracked here.\n",
	}
	for file, content := range seed {
		if err := os.WriteFile(filepath.Join(tmpDir, file), []byte(content), 0600); err != nil {
			return fmt.Errorf("seed %s for task %s: %w", file, name, err)
		}
	}
	if err := (config.TaskConfig{}).Save(filepath.Join(tmpDir, "config.toml")); err != nil {
		return fmt.Errorf("seed config for task %s: %w", name, err)
	}

	if err := os.Rename(tmpDir, m.layout.TaskDir(name)); err != nil {
		return fmt.Errorf("commit task directory for %s: %w", name, err)
	}
	return nil
}
