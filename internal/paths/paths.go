package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// GrillDirName is the environment directory created by `grill init`.
	GrillDirName = ".grill"

	tasksDirName = "tasks"
	varDirName   = "var"
)

// FindGrillRoot walks up from startPath looking for a directory containing
// .grill/. This mimics how git traverses parent directories to find .git/.
// Returns the directory containing .grill/, or an error if none is found.
func FindGrillRoot(startPath string) (string, error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := absPath
	for {
		grillDir := filepath.Join(dir, GrillDirName)
		info, err := os.Stat(grillDir)
		if err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .grill/
			return "", fmt.Errorf("no %s/ directory found (searched from %s to /)", GrillDirName, absPath)
		}
		dir = parent
	}
}

// Layout resolves the on-disk locations inside one .grill/ environment.
// All paths are derived from the project root (the directory that contains
// .grill/), never from the process working directory.
type Layout struct {
	Root string // project root
}

// NewLayout returns the layout for a project root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// GrillDir returns the path to the .grill/ directory.
func (l Layout) GrillDir() string {
	return filepath.Join(l.Root, GrillDirName)
}

// ConfigFile returns the path to the global config file.
func (l Layout) ConfigFile() string {
	return filepath.Join(l.GrillDir(), "config.toml")
}

// CurrentTaskFile returns the path to the active-task pointer file.
func (l Layout) CurrentTaskFile() string {
	return filepath.Join(l.GrillDir(), "current_task")
}

// TasksDir returns the directory holding one subdirectory per task.
func (l Layout) TasksDir() string {
	return filepath.Join(l.GrillDir(), tasksDirName)
}

// TaskDir returns the directory for a named task. The name is not validated
// here; callers go through the task manager for that.
func (l Layout) TaskDir(name string) string {
	return filepath.Join(l.TasksDir(), name)
}

// TaskConfigFile returns the per-task config file path.
func (l Layout) TaskConfigFile(name string) string {
	return filepath.Join(l.TaskDir(name), "config.toml")
}

// VarDir returns the runtime directory.
// Contains history.db (SQLite) and grill.log.
func (l Layout) VarDir() string {
	return filepath.Join(l.GrillDir(), varDirName)
}

// HistoryDB returns the path to the session history database.
func (l Layout) HistoryDB() string {
	return filepath.Join(l.VarDir(), "history.db")
}

// LogFile returns the path to the log file.
func (l Layout) LogFile() string {
	return filepath.Join(l.VarDir(), "grill.log")
}

// Exists reports whether the environment has been initialized.
func (l Layout) Exists() bool {
	info, err := os.Stat(l.GrillDir())
	return err == nil && info.IsDir()
}
