package main

import (
	"errors"
	"fmt"
	"os"
	goruntime "runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgh-/grill/internal/config"
	"github.com/jgh-/grill/internal/history"
	"github.com/jgh-/grill/internal/logging"
	"github.com/jgh-/grill/internal/paths"
	"github.com/jgh-/grill/internal/session"
	"github.com/jgh-/grill/internal/task"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "grill",
		Short: "Interactive proxy for terminal CLIs",
		Long: `Grill wraps an interactive CLI (like "q chat") behind a transparent
terminal proxy. Keystrokes pass straight through to the inner program,
except for lines starting with "/", which grill interprets as task
commands (/help, /quit, /task).

Tasks are named working contexts kept under .grill/tasks/. Switching
tasks restarts the inner CLI with that task's directory and environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("grill v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	// Bare `grill` behaves like `grill start`.
	startTask := ""
	rootCmd.Flags().StringVar(&startTask, "task", "", "Task to start on (default: last active)")
	rootCmd.Args = cobra.ArbitraryArgs
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runStart(startTask, args)
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize grill in the current directory",
		Long: `Initialize grill in the current directory.

Creates the .grill/ directory with a config.toml, the default task under
tasks/default/, the current_task pointer, and the var/ runtime directory.
Safe to re-run; existing pieces are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			layout := paths.NewLayout(cwd)
			existed := layout.Exists()
			if err := os.MkdirAll(layout.GrillDir(), 0o755); err != nil {
				return fmt.Errorf("create %s: %w", layout.GrillDir(), err)
			}
			if err := os.MkdirAll(layout.VarDir(), 0o755); err != nil {
				return fmt.Errorf("create %s: %w", layout.VarDir(), err)
			}

			if _, err := os.Stat(layout.ConfigFile()); errors.Is(err, os.ErrNotExist) {
				if err := config.Default().Save(layout.ConfigFile()); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}

			mgr := task.NewManager(cwd)
			if err := mgr.EnsureDefault(); err != nil {
				return err
			}
			if _, err := os.Stat(layout.CurrentTaskFile()); errors.Is(err, os.ErrNotExist) {
				if err := mgr.Switch(task.DefaultName); err != nil {
					return err
				}
			}

			if existed {
				fmt.Println("✓ Grill environment already initialized")
			} else {
				fmt.Println("✓ Grill initialized successfully")
			}
			fmt.Printf("  Directory: %s\n", layout.GrillDir())
			fmt.Printf("  Default task: %s\n", layout.TaskDir(task.DefaultName))
			fmt.Println("  Run 'grill' to start a session")
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	var taskName string
	cmd := &cobra.Command{
		Use:   "start [-- <inner-cli> <args...>]",
		Short: "Start a proxied session",
		Long: `Start a proxied session around the inner CLI.

The inner CLI is chosen in order of precedence: arguments after "--",
the GRILL_CLI environment variable, the task's config, the global
config, then the built-in default.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(taskName, args)
		},
	}
	cmd.Flags().StringVar(&taskName, "task", "", "Task to start on (default: last active)")
	return cmd
}

// runStart builds the session and exits the process with the resulting code.
// It only returns an error for startup failures before the session owns the
// terminal.
func runStart(taskName string, cliArgs []string) error {
	root, err := paths.FindGrillRoot(".")
	if err != nil {
		return errors.New("no .grill environment found (run 'grill init' first)")
	}
	layout := paths.NewLayout(root)

	log := logging.NewOrNop(layout.LogFile(), "info")
	defer func() { _ = log.Sync() }()

	// History is best-effort: a broken database loses recording but never
	// blocks the session.
	var store *history.Store
	if st, err := history.Open(layout.HistoryDB()); err != nil {
		log.Warn("open history store", zap.Error(err))
	} else {
		store = st
		defer store.Close()
	}

	sess, err := session.New(session.Options{
		Root:        root,
		Task:        taskName,
		CLIOverride: cliArgs,
		Logger:      log,
		History:     store,
	})
	if err != nil {
		return err
	}

	log.Info("session starting",
		zap.String("session", sess.ID()),
		zap.String("root", root),
		zap.String("version", Version))

	code, err := sess.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	log.Info("session finished", zap.String("session", sess.ID()), zap.Int("code", code))
	_ = log.Sync()
	if store != nil {
		store.Close()
	}
	os.Exit(code)
	return nil
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := paths.FindGrillRoot(".")
			if err != nil {
				return errors.New("no .grill environment found (run 'grill init' first)")
			}

			mgr := task.NewManager(root)
			names, err := mgr.List()
			if err != nil {
				return err
			}
			active, err := mgr.Active()
			if err != nil {
				return err
			}

			for _, name := range names {
				if name == active {
					fmt.Printf("* %s (current)\n", name)
				} else {
					fmt.Printf("  %s\n", name)
				}
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sessions and task activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := paths.FindGrillRoot(".")
			if err != nil {
				return errors.New("no .grill environment found (run 'grill init' first)")
			}
			layout := paths.NewLayout(root)

			store, err := history.Open(layout.HistoryDB())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			sessions, err := store.RecentSessions(limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded yet.")
				return nil
			}

			for _, s := range sessions {
				status := "running"
				if !s.EndedAt.IsZero() {
					status = fmt.Sprintf("exit %d after %s",
						s.ExitCode, s.EndedAt.Sub(s.StartedAt).Round(time.Second))
				}
				fmt.Printf("%s  %s  task=%s  cli=%q  %s\n",
					s.StartedAt.Local().Format("2006-01-02 15:04:05"),
					s.ID, s.Task, s.CLI, status)

				events, err := store.SessionEvents(s.ID)
				if err != nil {
					return err
				}
				for _, ev := range events {
					fmt.Printf("    %s  %s %s\n",
						ev.At.Local().Format("15:04:05"), ev.Event, ev.Task)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("grill v%s (build: %s, %s)\n", Version, Build, goruntime.Version())
		},
	}
}
