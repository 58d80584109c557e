// Package httpapi serves the document over a small local HTTP API so a
// browser front end can load and save it.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calvinalkan/rocky/internal/backup"
	"github.com/calvinalkan/rocky/internal/store"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 10 << 20

const shutdownTimeout = 5 * time.Second

// Service is what the API needs from the application.
type Service interface {
	Load() (store.Document, error)
	Save(doc store.Document) error
	AppendLog(line string) error
	Backups() []backup.Backup
}

// Options configures [NewRouter].
type Options struct {
	Logger *slog.Logger

	// Gatherer, if set, is exposed at GET /metrics.
	Gatherer prometheus.Gatherer
}

// NewRouter returns the API handler.
//
// Routes:
//
//	GET  /api/load     current document
//	POST /api/save     replace the document (body: JSON object)
//	POST /api/log      append {"line": "..."} to debug.log
//	GET  /api/backups  backup set, newest first
//	GET  /metrics      Prometheus metrics
//
// Every response carries permissive CORS headers and OPTIONS requests get
// 204 on any path.
func NewRouter(svc Service, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &handlers{svc: svc, log: logger}

	r := gin.New()
	r.Use(gin.Recovery(), cors(), requestLogger(logger))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})

	api := r.Group("/api")
	api.GET("/load", h.load)
	api.POST("/save", h.save)
	api.POST("/log", h.appendLog)
	api.GET("/backups", h.backups)

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Headers", "Content-Type")
		header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)

			return
		}

		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully. ready, if non-nil, receives the bound address once the
// listener is open.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, ready chan<- string) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("http api listening", "addr", ln.Addr().String())

	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)

	serveErr := <-errCh
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("http api stopped")

	return nil
}
