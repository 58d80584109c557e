package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/rocky/internal/store"
)

// LoadCmd returns the load command.
func LoadCmd(sess *session) *Command {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.Bool("source", false, "Print where the document came from to stderr")

	return &Command{
		Flags: fs,
		Usage: "load [flags]",
		Short: "Print the current document",
		Long: "Print the current document as JSON.\n\n" +
			"A missing data file is created with the default document. A corrupt data\n" +
			"file falls back to the newest backup, then to the default document\n" +
			"(which is not written, so the corrupt file is kept for recovery).",
		Examples: []string{"load", "load --source > snapshot.json"},
		Exec: func(_ context.Context, io *IO, _ []string) error {
			showSource, _ := fs.GetBool("source")

			return execLoad(io, sess, showSource)
		},
	}
}

func execLoad(io *IO, sess *session, showSource bool) error {
	app, err := sess.open()
	if err != nil {
		return err
	}

	res, err := app.LoadResult()
	if err != nil {
		return err
	}

	switch res.Source {
	case store.SourceBackup:
		io.Warn("data file is corrupt, loaded backup "+res.Backup, "inspect "+app.PrimaryPath()+" before saving")
	case store.SourceDefault:
		io.Warn("data file is corrupt and no backup is usable, loaded defaults", "inspect "+app.PrimaryPath()+" before saving")
	}

	if showSource {
		io.ErrPrintln("source:", res.Source)
	}

	data, err := res.Document.Encode()
	if err != nil {
		return err
	}

	io.Printf("%s", data)

	return nil
}

// SaveCmd returns the save command.
func SaveCmd(sess *session) *Command {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	fs.StringP("file", "f", "", "Read the document from `path` instead of stdin")

	return &Command{
		Flags: fs,
		Usage: "save [flags]",
		Short: "Replace the document",
		Long: "Replace the document with a JSON object read from stdin or --file.\n\n" +
			"A backup of the previous version is taken first if one is due.",
		Examples: []string{"save -f snapshot.json", `load | jq '.days += ["2024-06-01"]' | rocky save`},
		Exec: func(_ context.Context, io *IO, _ []string) error {
			file, _ := fs.GetString("file")

			return execSave(io, sess, file)
		},
	}
}

var errNoInput = errors.New("no document given: pipe JSON to stdin or use --file")

func execSave(o *IO, sess *session, file string) error {
	var (
		data []byte
		err  error
	)

	switch {
	case file != "":
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(sess.cfg.EffectiveCwd, path)
		}

		data, err = os.ReadFile(path)
	case o.In() != nil:
		data, err = io.ReadAll(o.In())
	default:
		return errNoInput
	}

	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return errNoInput
	}

	doc, err := store.ParseDocument(data)
	if err != nil {
		return err
	}

	app, err := sess.open()
	if err != nil {
		return err
	}

	err = app.Save(doc)
	if err != nil {
		return err
	}

	o.Println("saved", app.PrimaryPath())

	return nil
}

// LogCmd returns the log command.
func LogCmd(sess *session) *Command {
	return &Command{
		Flags:    flag.NewFlagSet("log", flag.ContinueOnError),
		Usage:    "log <message>",
		Short:    "Append a line to debug.log",
		Long:     "Append a timestamped line to debug.log. Arguments are joined with spaces.",
		Examples: []string{`log "synced from phone"`},
		Exec: func(_ context.Context, io *IO, args []string) error {
			return execLog(io, sess, args)
		},
	}
}

var errNoMessage = errors.New("message is required")

func execLog(_ *IO, sess *session, args []string) error {
	if len(args) == 0 {
		return errNoMessage
	}

	app, err := sess.open()
	if err != nil {
		return err
	}

	return app.AppendLog(strings.Join(args, " "))
}

// BackupsCmd returns the backups command.
func BackupsCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("backups", flag.ContinueOnError),
		Usage: "backups",
		Short: "List backups, newest first",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execBackups(io, sess)
		},
	}
}

func execBackups(io *IO, sess *session) error {
	app, err := sess.open()
	if err != nil {
		return err
	}

	list := app.Backups()
	if len(list) == 0 {
		io.Println("(no backups)")

		return nil
	}

	for _, b := range list {
		if b.StatErr != nil {
			io.Printf("%s\t%s\n", b.Name, "(unreadable)")

			continue
		}

		io.Printf("%s\t%s\n", b.Name, b.ModTime.Format(time.RFC3339))
	}

	return nil
}
