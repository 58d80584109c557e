package cli

import (
	"fmt"
	"io"
)

// warning is something the user should look at before trusting the output,
// such as a document that was recovered from a backup.
type warning struct {
	issue  string
	action string
}

// IO is a command's view of stdin, stdout and stderr.
//
// Warnings are written to stderr before the first line of output and again
// after the last, so a recovered document piped through head or tail still
// shows that it was recovered. Any warning makes the command exit 1 while
// the output itself is still written.
type IO struct {
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	warnings []warning
	flushed  bool
}

// NewIO returns an IO over the given streams.
func NewIO(in io.Reader, out, errOut io.Writer) *IO {
	return &IO{in: in, out: out, errOut: errOut}
}

// In returns stdin.
func (o *IO) In() io.Reader { return o.in }

// Out returns stdout.
func (o *IO) Out() io.Writer { return o.out }

// Warn records issue together with what to do about it.
func (o *IO) Warn(issue string, action string) {
	o.warnings = append(o.warnings, warning{issue: issue, action: action})
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	o.flushLeading()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	o.flushLeading()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish writes the trailing warnings and returns the exit code.
func (o *IO) Finish() int {
	o.flushLeading()

	if len(o.warnings) == 0 {
		return 0
	}

	o.printWarnings()

	return 1
}

func (o *IO) flushLeading() {
	if o.flushed || len(o.warnings) == 0 {
		return
	}

	o.flushed = true
	o.printWarnings()
}

func (o *IO) printWarnings() {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w.issue)

		if w.action != "" {
			_, _ = fmt.Fprintln(o.errOut, "  ->", w.action)
		}
	}
}
