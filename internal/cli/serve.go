package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/rocky/internal/httpapi"
)

// ServeCmd returns the serve command.
func ServeCmd(sess *session) *Command {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.String("listen", "", "Listen `address` (default from config, else 127.0.0.1:8787)")

	return &Command{
		Flags: fs,
		Usage: "serve [flags]",
		Short: "Serve the local HTTP API",
		Long: "Serve the document over HTTP until interrupted.\n\n" +
			"Routes: GET /api/load, POST /api/save, POST /api/log, GET /api/backups, GET /metrics.",
		Examples: []string{"serve", "serve --listen 127.0.0.1:9000"},
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			listen, _ := fs.GetString("listen")
			if listen == "" {
				listen = sess.cfg.Listen
			}

			return execServe(ctx, io, sess, listen, nil)
		},
	}
}

func execServe(ctx context.Context, io *IO, sess *session, listen string, ready chan<- string) error {
	app, err := sess.open()
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:   app.Logger().With("component", "http"),
		Gatherer: sess.registry,
	})

	bound := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		errCh <- httpapi.Serve(ctx, listen, router, app.Logger(), bound)
	}()

	select {
	case addr := <-bound:
		io.Println("listening on http://" + addr)

		if ready != nil {
			ready <- addr
		}
	case err := <-errCh:
		return err
	}

	return <-errCh
}
