// Package session is the top-level control loop tying one terminal, one
// child process, and one active task together. It implements the
// switch-task-by-restart policy: changing tasks terminates and respawns the
// inner CLI with the new task's environment.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jgh-/grill/internal/classify"
	"github.com/jgh-/grill/internal/command"
	"github.com/jgh-/grill/internal/config"
	"github.com/jgh-/grill/internal/history"
	"github.com/jgh-/grill/internal/ids"
	"github.com/jgh-/grill/internal/ptyproc"
	"github.com/jgh-/grill/internal/task"
	"github.com/jgh-/grill/internal/termio"
)

// stopGrace is how long a child gets to exit after SIGTERM before SIGKILL.
const stopGrace = 3 * time.Second

// ExitSpawnFailure is the process exit code for a failed child spawn,
// distinct from any code the child itself could report on a normal quit.
const ExitSpawnFailure = 2

// Options configures one session.
type Options struct {
	Root        string   // project root containing .grill/
	Task        string   // starting task override; empty uses the pointer
	CLIOverride []string // trailing args from the grill command line
	Logger      *zap.Logger
	History     *history.Store // may be nil; history is best-effort
	Stdin       *os.File
	Stdout      io.Writer
}

// runReason says why one child's run ended.
type runReason int

const (
	reasonChildExit runReason = iota
	reasonQuit
	reasonSwitch
)

// Session owns the classifier parse state, the child handle, and the active
// task for one terminal. Not shared across processes.
type Session struct {
	mgr  *task.Manager
	cfg  config.Config
	opts Options
	log  *zap.Logger

	term *termio.Writer
	cls  *classify.Classifier

	procMu sync.RWMutex
	proc   *ptyproc.Proc

	cmdCh chan command.Command

	id         string
	activeTask string
	nextTask   string // target of a pending switch-by-restart
	recorded   bool   // session row written to history
}

// New prepares a session over an initialized environment.
func New(opts Options) (*Session, error) {
	mgr := task.NewManager(opts.Root)
	if err := mgr.EnsureDefault(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(mgr.Layout().ConfigFile())
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	return &Session{
		mgr:   mgr,
		cfg:   cfg,
		opts:  opts,
		log:   log,
		term:  termio.NewWriter(opts.Stdout),
		cls:   classify.New(),
		cmdCh: make(chan command.Command, 8),
		id:    ids.NewSessionID(),
	}, nil
}

// ID returns the session identifier recorded in history.
func (s *Session) ID() string {
	return s.id
}

// Run proxies the terminal until quit or child exit and returns the process
// exit code. The terminal is restored before Run returns on every path.
func (s *Session) Run() (int, error) {
	name, err := s.startingTask()
	if err != nil {
		return 1, err
	}
	s.activeTask = name

	// Raw mode for the controlling terminal. A non-terminal stdin (piped
	// input) degrades to plain passthrough without mode switching.
	fd := int(s.opts.Stdin.Fd())
	interactive := termio.IsTerminal(fd)
	var guard *termio.RawGuard
	if interactive {
		guard, err = termio.EnterRaw(fd)
		if err != nil {
			return 1, err
		}
		defer func() {
			if rerr := guard.Restore(); rerr != nil {
				s.log.Error("restore terminal", zap.Error(rerr))
			}
		}()
	}

	go s.readInput()

	s.term.Message(fmt.Sprintf("grill session on task: %s (type /help for commands)", s.activeTask))

	for {
		reason, code, err := s.runChild(interactive)
		switch {
		case err != nil:
			return code, err
		case reason == reasonSwitch:
			s.activeTask = s.nextTask
			continue
		case reason == reasonQuit:
			// The child was stopped on request; the session itself succeeded.
			s.recordSessionEnd(0)
			return 0, nil
		default: // child exited on its own
			s.recordSessionEnd(code)
			s.term.Message(fmt.Sprintf("inner CLI exited (status %d)", code))
			return code, nil
		}
	}
}

// runChild spawns the inner CLI for the current active task and pumps bytes
// until the child exits, the user quits, or a task switch asks for a
// respawn. Errors carry the process exit code: ExitSpawnFailure only when
// the child could not be started, 1 for configuration failures.
func (s *Session) runChild(interactive bool) (runReason, int, error) {
	taskCfg, err := config.LoadTask(s.mgr.Layout().TaskConfigFile(s.activeTask))
	if err != nil {
		return reasonChildExit, 1, err
	}
	inv, err := config.ResolveInvocation(s.opts.CLIOverride, taskCfg, s.cfg)
	if err != nil {
		return reasonChildExit, 1, err
	}
	overlay, err := s.mgr.Environ(s.activeTask)
	if err != nil {
		return reasonChildExit, 1, err
	}

	cols, rows := 80, 24
	if interactive {
		if c, r, err := termio.Size(int(s.opts.Stdin.Fd())); err == nil {
			cols, rows = c, r
		}
	}

	proc, err := ptyproc.Spawn(ptyproc.Options{
		Command: inv.Command,
		Args:    inv.Args,
		Dir:     s.mgr.Layout().TaskDir(s.activeTask),
		Env:     append(os.Environ(), overlay...),
		Cols:    cols,
		Rows:    rows,
	})
	if err != nil {
		return reasonChildExit, ExitSpawnFailure, fmt.Errorf("start inner CLI: %w", err)
	}
	defer func() { _ = proc.Close() }()

	s.setProc(proc)
	defer s.setProc(nil)

	s.log.Info("child started",
		zap.String("session", s.id),
		zap.String("task", s.activeTask),
		zap.String("cli", inv.String()),
	)
	s.recordSessionStart(inv.String())

	var stopResize func()
	if interactive {
		stopResize = termio.NotifyResize(func() {
			c, r, err := termio.Size(int(s.opts.Stdin.Fd()))
			if err != nil {
				return
			}
			if err := proc.Resize(c, r); err != nil {
				s.log.Debug("propagate resize", zap.Error(err))
			}
		})
		defer stopResize()
	}

	// Child-to-terminal pump. Read errors mean the link is gone, which is
	// the same as child exit; the Done select below observes it.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := proc.Read(buf)
			if n > 0 {
				if _, werr := s.term.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-proc.Done():
			return reasonChildExit, proc.Wait(), nil

		case cmd := <-s.cmdCh:
			switch cmd.Kind {
			case command.Quit:
				s.term.Message("exiting grill")
				code := proc.Stop(stopGrace)
				return reasonQuit, code, nil

			case command.Help:
				s.term.Message(strings.TrimSuffix(command.HelpText, "\r\n"))

			case command.Passthrough:
				// As if the classifier had never intercepted it.
				s.writeChild(append([]byte(cmd.Raw), '\r'))

			default:
				if restart := s.handleTaskCommand(cmd); restart {
					proc.Stop(stopGrace)
					return reasonSwitch, 0, nil
				}
			}
		}
	}
}

// handleTaskCommand dispatches /task subcommands against the task manager
// and reports the result to the real terminal, never to the child. It
// returns true when the active task changed and the child must restart.
func (s *Session) handleTaskCommand(cmd command.Command) bool {
	switch cmd.Kind {
	case command.TaskShow:
		active, err := s.mgr.Active()
		if err != nil {
			s.reportTaskError(err)
			return false
		}
		s.term.Message("current task: " + active)
		return false

	case command.TaskList:
		names, err := s.mgr.List()
		if err != nil {
			s.reportTaskError(err)
			return false
		}
		var b strings.Builder
		b.WriteString("available tasks:")
		for _, name := range names {
			if name == s.activeTask {
				b.WriteString("\r\n* " + name + " (current)")
			} else {
				b.WriteString("\r\n  " + name)
			}
		}
		s.term.Message(b.String())
		return false

	case command.TaskSwitch:
		if err := s.mgr.Switch(cmd.Name); err != nil {
			s.reportTaskError(err)
			return false
		}
		s.recordTaskEvent(history.EventSwitch, cmd.Name)
		s.nextTask = cmd.Name
		s.term.Message(fmt.Sprintf("switching to task: %s (restarting inner CLI)", cmd.Name))
		return true

	case command.TaskInit:
		if err := s.mgr.Init(cmd.Name); err != nil {
			s.reportTaskError(err)
			return false
		}
		s.recordTaskEvent(history.EventInit, cmd.Name)
		s.nextTask = cmd.Name
		s.term.Message(fmt.Sprintf("created task: %s (restarting inner CLI)", cmd.Name))
		return true

	case command.TaskDelete:
		if err := s.mgr.Delete(cmd.Name); err != nil {
			s.reportTaskError(err)
			return false
		}
		s.recordTaskEvent(history.EventDelete, cmd.Name)
		s.term.Message("deleted task: " + cmd.Name)
		return false
	}
	return false
}

// reportTaskError renders a task error as one local line. Task errors are
// recovered locally; the session continues unaffected.
func (s *Session) reportTaskError(err error) {
	switch {
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, task.ErrAlreadyExists),
		errors.Is(err, task.ErrInvalidName),
		errors.Is(err, task.ErrCannotDeleteActive),
		errors.Is(err, task.ErrReserved):
		s.term.Message("error: " + err.Error())
	default:
		s.term.Message("error: " + err.Error())
		s.log.Error("task operation", zap.Error(err))
	}
}

// readInput owns the terminal-to-child direction: raw reads from stdin fed
// through the classifier, passthrough forwarded immediately, completed
// commands handed to the control loop.
func (s *Session) readInput() {
	buf := make([]byte, 1024)
	for {
		n, err := s.opts.Stdin.Read(buf)
		if n > 0 {
			out := s.cls.Feed(buf[:n])
			if len(out.Echo) > 0 {
				_, _ = s.term.Write(out.Echo)
			}
			if len(out.Forward) > 0 {
				s.writeChild(out.Forward)
			}
			for _, line := range out.Commands {
				s.cmdCh <- command.Parse(line)
			}
		}
		if err != nil {
			// Terminal gone (EOF or closed): treat like /quit.
			s.cmdCh <- command.Command{Kind: command.Quit, Raw: "/quit"}
			return
		}
	}
}

// writeChild forwards bytes to the current child. During a restart window
// there is no child; bytes typed in that gap are dropped rather than queued
// against a process that never saw the prompt they answered.
func (s *Session) writeChild(b []byte) {
	s.procMu.RLock()
	proc := s.proc
	s.procMu.RUnlock()
	if proc == nil {
		return
	}
	if _, err := proc.Write(b); err != nil && !errors.Is(err, ptyproc.ErrChildExited) {
		s.log.Debug("write to child", zap.Error(err))
	}
}

func (s *Session) setProc(p *ptyproc.Proc) {
	s.procMu.Lock()
	s.proc = p
	s.procMu.Unlock()
}

// startingTask resolves which task the session begins on: the --task flag
// if given (must exist), otherwise the persisted pointer.
func (s *Session) startingTask() (string, error) {
	if s.opts.Task != "" {
		if err := s.mgr.Switch(s.opts.Task); err != nil {
			return "", err
		}
		return s.opts.Task, nil
	}
	return s.mgr.Active()
}

// recordSessionStart writes the session row once; a restart-on-switch keeps
// the same session and only appends task events.
func (s *Session) recordSessionStart(cli string) {
	if s.opts.History == nil || s.recorded {
		return
	}
	s.recorded = true
	// The ULID already carries the creation time; recording the same instant
	// keeps the row consistent with the ID's sort order.
	startedAt, err := ids.SessionIDTime(s.id)
	if err != nil {
		startedAt = time.Now()
	}
	if err := s.opts.History.RecordSessionStart(s.id, s.activeTask, cli, startedAt); err != nil {
		s.log.Warn("record session start", zap.Error(err))
	}
}

func (s *Session) recordSessionEnd(code int) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.RecordSessionEnd(s.id, time.Now(), code); err != nil {
		s.log.Warn("record session end", zap.Error(err))
	}
}

func (s *Session) recordTaskEvent(event, name string) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.RecordTaskEvent(s.id, event, name, time.Now()); err != nil {
		s.log.Warn("record task event", zap.Error(err))
	}
}
