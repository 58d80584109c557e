// Package cli implements the rocky command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/rocky/internal/config"
	"github.com/calvinalkan/rocky/internal/fs"
	"github.com/calvinalkan/rocky/internal/metrics"
	"github.com/calvinalkan/rocky/internal/rocky"
)

// Run is the main entry point. Returns exit code.
//
// sigCh, if non-nil, cancels the command's context when it receives.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := newGlobalFlags()

	if len(args) == 0 {
		printUsage(out, globals.set)

		return 0
	}

	err := globals.set.Parse(args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, globals.set)

			return 0
		}

		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals.set)

		return 1
	}

	rest := globals.set.Args()

	help, _ := globals.set.GetBool("help")
	if help || len(rest) == 0 || rest[0] == "help" {
		printUsage(out, globals.set)

		return 0
	}

	cfg, err := config.Load(globals.loadInput(env))
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	verbose, _ := globals.set.GetBool("verbose")

	sess := &session{cfg: &cfg, errOut: errOut, verbose: verbose}

	commands := allCommands(sess)

	idx := slices.IndexFunc(commands, func(c *Command) bool { return c.Name() == rest[0] })
	if idx < 0 {
		fprintln(errOut, "error: unknown command:", rest[0])
		fprintln(errOut)
		printUsage(errOut, globals.set)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return commands[idx].Run(ctx, NewIO(in, out, errOut), rest[1:])
}

func allCommands(sess *session) []*Command {
	return []*Command{
		LoadCmd(sess),
		SaveCmd(sess),
		LogCmd(sess),
		BackupsCmd(sess),
		ServeCmd(sess),
		ShellCmd(sess),
		PrintConfigCmd(sess.cfg),
	}
}

type globalFlags struct {
	set *flag.FlagSet
}

func newGlobalFlags() globalFlags {
	set := flag.NewFlagSet("rocky", flag.ContinueOnError)
	set.SetOutput(&strings.Builder{}) // discard pflag output
	set.SetInterspersed(false)

	set.BoolP("help", "h", false, "Show help")
	set.StringP("cwd", "C", "", "Run as if started in `dir`")
	set.StringP("config", "c", "", "Use specified config `file`")
	set.String("data-dir", "", "Store data in `dir`")
	set.String("log-level", "", "Minimum level written to debug.log (debug|info|warn|error)")
	set.BoolP("verbose", "v", false, "Also write log records to stderr")

	return globalFlags{set: set}
}

func (g globalFlags) loadInput(env map[string]string) config.LoadInput {
	workDir, _ := g.set.GetString("cwd")
	configPath, _ := g.set.GetString("config")
	dataDir, _ := g.set.GetString("data-dir")
	logLevel, _ := g.set.GetString("log-level")

	return config.LoadInput{
		WorkDir:    workDir,
		ConfigPath: configPath,
		Env:        env,
		Overrides:  config.Overrides{DataDir: dataDir, LogLevel: logLevel},
	}
}

// session carries the resolved configuration to commands and opens the
// application on demand, so commands like print-config never touch the data
// directory.
type session struct {
	cfg     *config.Config
	errOut  io.Writer
	verbose bool

	registry *prometheus.Registry
}

func (s *session) open() (*rocky.App, error) {
	s.registry = prometheus.NewRegistry()

	opts := rocky.Options{
		FS:       fs.NewReal(),
		Metrics:  metrics.New(s.registry),
		Backup:   s.cfg.BackupConfig(),
		LogLevel: s.cfg.Level,
	}

	if s.verbose {
		opts.Mirror = slog.NewTextHandler(s.errOut, &slog.HandlerOptions{Level: s.cfg.Level})
	}

	app, err := rocky.Open(s.cfg.DataDirAbs, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open data directory: %w", err)
	}

	return app, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet) {
	fprintln(w, `rocky - local JSON document store with periodic backups

Usage: rocky [flags] <command> [args]

Commands:`)

	for _, c := range allCommands(&session{cfg: &config.Config{}}) {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})

	_, _ = io.WriteString(w, buf.String())
	fprintln(w)
	fprintln(w, `Run "rocky <command> --help" for command flags.`)
}
