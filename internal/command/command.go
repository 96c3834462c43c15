// Package command parses completed /-prefixed lines into structured commands.
package command

import "strings"

// Kind identifies a parsed command.
type Kind int

const (
	// Passthrough means the line is not a grill built-in and must reach the
	// child exactly as typed.
	Passthrough Kind = iota
	// Help shows the grill command summary.
	Help
	// Quit ends the session.
	Quit
	// TaskShow reports the active task.
	TaskShow
	// TaskList lists all tasks.
	TaskList
	// TaskSwitch switches to an existing task.
	TaskSwitch
	// TaskInit creates a task and switches to it.
	TaskInit
	// TaskDelete removes a task.
	TaskDelete
)

// Command is a transient parsed value; never persisted.
type Command struct {
	Kind Kind
	// Name is the task argument for TaskSwitch/TaskInit/TaskDelete.
	Name string
	// Raw is the original line as the user typed it, leading slash included.
	Raw string
}

// Parse tokenizes a command line on whitespace. The first token (without its
// leading slash) is lowercase-compared against the built-in set {help, quit,
// task}; anything else parses as Passthrough, so lines meant for the inner
// CLI's own slash commands flow through verbatim.
func Parse(line string) Command {
	raw := line
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{Kind: Passthrough, Raw: raw}
	}

	switch strings.ToLower(strings.TrimPrefix(fields[0], "/")) {
	case "help":
		return Command{Kind: Help, Raw: raw}
	case "quit":
		return Command{Kind: Quit, Raw: raw}
	case "task":
		return parseTask(fields[1:], raw)
	default:
		return Command{Kind: Passthrough, Raw: raw}
	}
}

// parseTask consumes the tokens after "/task".
func parseTask(args []string, raw string) Command {
	if len(args) == 0 {
		return Command{Kind: TaskShow, Raw: raw}
	}
	switch strings.ToLower(args[0]) {
	case "list":
		return Command{Kind: TaskList, Raw: raw}
	case "init":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return Command{Kind: TaskInit, Name: name, Raw: raw}
	case "delete":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return Command{Kind: TaskDelete, Name: name, Raw: raw}
	default:
		return Command{Kind: TaskSwitch, Name: args[0], Raw: raw}
	}
}

// HelpText is the /help summary for grill's own commands. The inner CLI's
// help remains reachable by whatever command it defines itself.
const HelpText = "grill commands:\r\n" +
	"  /task                 show the current task\r\n" +
	"  /task list            list all tasks\r\n" +
	"  /task <name>          switch to a task (restarts the inner CLI)\r\n" +
	"  /task init <name>     create a task and switch to it\r\n" +
	"  /task delete <name>   delete a task\r\n" +
	"  /help                 show this message\r\n" +
	"  /quit                 exit grill\r\n" +
	"any other /-line is forwarded to the inner CLI unchanged\r\n"
