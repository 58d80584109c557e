// Package rocky wires the store, the backup set and the debug log under one
// data directory and exposes them to hosts (the CLI, the HTTP API).
//
// Layout:
//
//	<data-dir>/rocky.json        primary document
//	<data-dir>/backups/*.json    periodic snapshots
//	<data-dir>/debug.log         append-only log
package rocky

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/calvinalkan/rocky/internal/applog"
	"github.com/calvinalkan/rocky/internal/backup"
	"github.com/calvinalkan/rocky/internal/clock"
	"github.com/calvinalkan/rocky/internal/fs"
	"github.com/calvinalkan/rocky/internal/metrics"
	"github.com/calvinalkan/rocky/internal/store"
)

// File and directory names inside the data directory.
const (
	PrimaryFile = "rocky.json"
	BackupDir   = "backups"
	LogFile     = "debug.log"
)

const dirPerm = 0o755

// ErrNoDataDir is returned by [Open] when no data directory is given.
var ErrNoDataDir = errors.New("data directory is not set")

// Options configures [Open]. Zero fields take defaults.
type Options struct {
	FS      fs.FS
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Backup  backup.Config

	// LogLevel is the minimum level written to debug.log.
	LogLevel slog.Level

	// Mirror, if set, also receives every log record (e.g. a stderr
	// text handler for --verbose).
	Mirror slog.Handler
}

// App is the host-facing collaborator. All methods are safe for concurrent
// use; calls are serialized so the store sees a single writer.
type App struct {
	dataDir string
	store   *store.Store
	log     *applog.Appender
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu sync.Mutex
}

// Open creates the data and backup directories if needed and returns an App
// rooted at dataDir.
func Open(dataDir string, opts Options) (*App, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("open rocky: %w", ErrNoDataDir)
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	backupDir := filepath.Join(dataDir, BackupDir)

	err := opts.FS.MkdirAll(backupDir, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("open rocky: create %s: %w", backupDir, err)
	}

	appender := applog.NewAppender(opts.FS, opts.Clock, filepath.Join(dataDir, LogFile))

	var handler slog.Handler = applog.NewHandler(appender, opts.LogLevel)
	if opts.Mirror != nil {
		handler = applog.Tee(handler, opts.Mirror)
	}

	logger := slog.New(handler)

	st := store.New(filepath.Join(dataDir, PrimaryFile), backupDir, store.Options{
		FS:      opts.FS,
		Clock:   opts.Clock,
		Logger:  logger.With("component", "store"),
		Metrics: opts.Metrics,
		Backup:  opts.Backup,
	})

	return &App{
		dataDir: dataDir,
		store:   st,
		log:     appender,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// DataDir returns the data directory.
func (a *App) DataDir() string { return a.dataDir }

// PrimaryPath returns the path of the primary document.
func (a *App) PrimaryPath() string { return a.store.Path() }

// LogPath returns the path of debug.log.
func (a *App) LogPath() string { return a.log.Path() }

// Logger returns the logger writing to debug.log.
func (a *App) Logger() *slog.Logger { return a.logger }

// Load returns the current document; see [store.Store.LoadResult].
func (a *App) Load() (store.Document, error) {
	res, err := a.LoadResult()
	if err != nil {
		return nil, err
	}

	return res.Document, nil
}

// LoadResult is Load that also reports where the document came from.
func (a *App) LoadResult() (store.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.store.LoadResult()
}

// Save persists doc; see [store.Store.Save].
func (a *App) Save(doc store.Document) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.store.Save(doc)
}

// AppendLog appends line to debug.log.
func (a *App) AppendLog(line string) error {
	err := a.log.Append(line)
	if err != nil {
		return err
	}

	a.metrics.LogLineAppended()

	return nil
}

// Backups lists the backup set, newest first.
func (a *App) Backups() []backup.Backup {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.store.Backups().Newest()
}
