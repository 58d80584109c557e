package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/rocky/internal/rocky"
	"github.com/calvinalkan/rocky/internal/store"
)

const historyFile = ".rocky_history"

var shellCommands = []string{"load", "save", "log", "backups", "help", "exit"}

// ShellCmd returns the shell command.
func ShellCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt",
		Long: "Start an interactive prompt that keeps the store open.\n\n" +
			"Commands: load, save <json>, log <message>, backups, help, exit.\n" +
			"When stdin is not a terminal, commands are read one per line.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			app, err := sess.open()
			if err != nil {
				return err
			}

			p := newPrompter(o.In(), app.DataDir())
			defer p.Close()

			return runShell(ctx, o, app, p)
		},
	}
}

// prompter reads shell input: liner on a terminal, plain lines otherwise.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

func newPrompter(in io.Reader, dataDir string) prompter {
	f, ok := in.(*os.File)
	if ok && f == os.Stdin && isTerminal(f) && liner.TerminalSupported() {
		return newLinerPrompter(filepath.Join(dataDir, historyFile))
	}

	if in == nil {
		in = strings.NewReader("")
	}

	return &linePrompter{scanner: bufio.NewScanner(in)}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()

	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

type linerPrompter struct {
	*liner.State

	history string
}

func newLinerPrompter(history string) *linerPrompter {
	st := liner.NewLiner()
	st.SetCtrlCAborts(true)
	st.SetCompleter(func(line string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}

		return out
	})

	if f, err := os.Open(history); err == nil {
		_, _ = st.ReadHistory(f)
		_ = f.Close()
	}

	return &linerPrompter{State: st, history: history}
}

func (p *linerPrompter) Prompt(prompt string) (string, error) {
	line, err := p.State.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}

	return line, err
}

func (p *linerPrompter) Close() error {
	if f, err := os.Create(p.history); err == nil {
		_, _ = p.WriteHistory(f)
		_ = f.Close()
	}

	return p.State.Close()
}

type linePrompter struct {
	scanner *bufio.Scanner
}

func (p *linePrompter) Prompt(string) (string, error) {
	if p.scanner.Scan() {
		return p.scanner.Text(), nil
	}

	if err := p.scanner.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (*linePrompter) AppendHistory(string) {}

func (*linePrompter) Close() error { return nil }

func runShell(ctx context.Context, o *IO, app *rocky.App, p prompter) error {
	for ctx.Err() == nil {
		line, err := p.Prompt("rocky> ")
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		p.AppendHistory(line)

		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch strings.ToLower(cmd) {
		case "exit", "quit":
			return nil
		case "help":
			o.Println("load | save <json> | log <message> | backups | exit")
		default:
			err := shellExec(o, app, strings.ToLower(cmd), rest)
			if err != nil {
				o.ErrPrintln("error:", err)
			}
		}
	}

	return nil
}

var errUnknownShellCommand = errors.New(`unknown command (try "help")`)

func shellExec(o *IO, app *rocky.App, cmd, arg string) error {
	switch cmd {
	case "load":
		res, err := app.LoadResult()
		if err != nil {
			return err
		}

		if res.Source == store.SourceBackup || res.Source == store.SourceDefault {
			o.ErrPrintln("warning: data file is corrupt, loaded from", res.Source)
		}

		data, err := res.Document.Encode()
		if err != nil {
			return err
		}

		o.Printf("%s", data)
	case "save":
		if arg == "" {
			return errNoInput
		}

		doc, err := store.ParseDocument([]byte(arg))
		if err != nil {
			return err
		}

		err = app.Save(doc)
		if err != nil {
			return err
		}

		o.Println("saved")
	case "log":
		if arg == "" {
			return errNoMessage
		}

		return app.AppendLog(arg)
	case "backups":
		for _, b := range app.Backups() {
			o.Println(b.Name)
		}
	default:
		return errUnknownShellCommand
	}

	return nil
}
