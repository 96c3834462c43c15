// Package classify decides, per keystroke, whether input bytes belong to a
// grill command or to the inner CLI, without disturbing the inner CLI's own
// line editing for passthrough bytes.
package classify

// Control bytes the classifier cares about. Everything else is opaque.
const (
	ctrlC     = 0x03
	backspace = 0x08
	lf        = 0x0A
	cr        = 0x0D
	del       = 0x7F
)

// State is the classifier's position within the current input line.
type State int

const (
	// LineStart means the next byte begins a new line.
	LineStart State = iota
	// ComposingPassthrough means the current line belongs to the inner CLI.
	ComposingPassthrough
	// ComposingCommand means the current line is a buffered grill command.
	ComposingCommand
)

// Output is the result of feeding bytes through the classifier.
type Output struct {
	// Forward holds bytes destined for the child, in arrival order.
	Forward []byte
	// Echo holds bytes grill itself must render on the real terminal.
	// Only command composition produces echo; the child echoes passthrough.
	Echo []byte
	// Commands holds completed command lines, leading slash included,
	// line terminator excluded.
	Commands []string
}

// Classifier is the three-state input machine. One session owns exactly one
// classifier; it is not safe for concurrent use.
type Classifier struct {
	state State
	buf   []byte
}

// New returns a classifier positioned at a line start.
func New() *Classifier {
	return &Classifier{state: LineStart}
}

// State returns the current state.
func (c *Classifier) State() State {
	return c.state
}

// Pending returns the buffered command bytes, for diagnostics.
func (c *Classifier) Pending() string {
	return string(c.buf)
}

// Reset discards any buffered command and returns to LineStart. Used when a
// session tears down mid-composition; forwards nothing.
func (c *Classifier) Reset() {
	c.state = LineStart
	c.buf = c.buf[:0]
}

// Feed consumes a chunk of raw input bytes and routes each according to the
// current state. Passthrough bytes appear in Output.Forward immediately and
// in arrival order; candidate-command bytes are buffered until their line
// terminator and never reach Forward.
func (c *Classifier) Feed(input []byte) Output {
	var out Output
	for _, b := range input {
		switch c.state {
		case LineStart:
			c.feedLineStart(b, &out)
		case ComposingPassthrough:
			c.feedPassthrough(b, &out)
		case ComposingCommand:
			c.feedCommand(b, &out)
		}
	}
	return out
}

func (c *Classifier) feedLineStart(b byte, out *Output) {
	switch {
	case b == '/':
		c.state = ComposingCommand
		c.buf = append(c.buf[:0], b)
		out.Echo = append(out.Echo, b)
	case b == cr || b == lf:
		// Empty line: stays a line start, child sees the terminator.
		out.Forward = append(out.Forward, b)
	default:
		c.state = ComposingPassthrough
		out.Forward = append(out.Forward, b)
	}
}

func (c *Classifier) feedPassthrough(b byte, out *Output) {
	// Everything flows to the child untouched, including interrupts and
	// editing bytes: the child, not grill, owns passthrough line editing.
	// A backspace run back to column zero does not re-enter LineStart;
	// only a line terminator does.
	out.Forward = append(out.Forward, b)
	if b == cr || b == lf {
		c.state = LineStart
	}
}

func (c *Classifier) feedCommand(b byte, out *Output) {
	switch {
	case b == cr || b == lf:
		out.Commands = append(out.Commands, string(c.buf))
		out.Echo = append(out.Echo, '\r', '\n')
		c.Reset()
	case b == ctrlC:
		// Cancel composition: discard the buffer, no side effects on the
		// child.
		out.Echo = append(out.Echo, '^', 'C', '\r', '\n')
		c.Reset()
	case b == del || b == backspace:
		if len(c.buf) > 0 {
			c.buf = c.buf[:len(c.buf)-1]
			out.Echo = append(out.Echo, '\b', ' ', '\b')
		}
		if len(c.buf) == 0 {
			// The slash itself was erased; the line is open again.
			c.state = LineStart
		}
	case b >= 0x20 && b < del:
		c.buf = append(c.buf, b)
		out.Echo = append(out.Echo, b)
	default:
		// Escape sequences and other control bytes have no meaning in a
		// command name; drop them rather than forwarding fragments to the
		// child mid-composition.
	}
}
