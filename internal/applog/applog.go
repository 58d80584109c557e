// Package applog writes the application's debug log: an append-only text
// file with one timestamped line per entry.
//
// Lines look like "2024-01-01 09:00:00 | message". Timestamps are local
// time. The file is created on first use and never rotated.
package applog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/calvinalkan/rocky/internal/clock"
	"github.com/calvinalkan/rocky/internal/fs"
)

// TimeLayout is the timestamp layout of a log line.
const TimeLayout = "2006-01-02 15:04:05"

const filePerm = 0o644

// ErrAppend is returned when a line cannot be written.
var ErrAppend = errors.New("cannot append to log")

// Appender appends lines to one log file. It is safe for concurrent use
// within a process.
type Appender struct {
	fs    fs.FS
	clock clock.Clock
	path  string

	mu sync.Mutex
}

// NewAppender returns an Appender for path. A nil clk uses the system clock.
func NewAppender(fsys fs.FS, clk clock.Clock, path string) *Appender {
	if fsys == nil {
		panic("fs is nil")
	}

	if clk == nil {
		clk = clock.Real{}
	}

	return &Appender{fs: fsys, clock: clk, path: path}
}

// Path returns the log file path.
func (a *Appender) Path() string { return a.path }

// Append writes line stamped with the current time.
func (a *Appender) Append(line string) error {
	return a.AppendAt(a.clock.Now(), line)
}

// AppendAt writes line stamped with t.
func (a *Appender) AppendAt(t time.Time, line string) error {
	entry := FormatLine(t, line)

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.fs.OpenFile(a.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrAppend, a.path, err)
	}

	_, writeErr := f.Write([]byte(entry))
	closeErr := f.Close()

	if writeErr != nil || closeErr != nil {
		return fmt.Errorf("%w %s: %w", ErrAppend, a.path, errors.Join(writeErr, closeErr))
	}

	return nil
}

// FormatLine renders one log line, newline included. Line breaks inside msg
// are escaped so every entry stays on a single line.
func FormatLine(t time.Time, msg string) string {
	return t.Local().Format(TimeLayout) + " | " + escapeNewlines(msg) + "\n"
}

var newlineEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`)

func escapeNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}

	return newlineEscaper.Replace(s)
}
