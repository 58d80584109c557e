// Package store persists a single JSON [Document] on local disk.
//
// Saves replace the data file atomically and take a periodic backup of the
// previous version first. Loads fall back to the newest backup when the data
// file is corrupt, and to [DefaultDocument] when nothing is readable.
//
// A Store assumes it is the only writer of its data file; callers serialize
// access.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/calvinalkan/rocky/internal/backup"
	"github.com/calvinalkan/rocky/internal/clock"
	"github.com/calvinalkan/rocky/internal/fs"
	"github.com/calvinalkan/rocky/internal/metrics"
)

// Source tells where a loaded document came from.
type Source string

// Possible load sources.
const (
	// SourcePrimary means the data file parsed.
	SourcePrimary Source = metrics.SourcePrimary

	// SourceBootstrap means there was no data file; the default document
	// was written to disk and returned.
	SourceBootstrap Source = metrics.SourceBootstrap

	// SourceBackup means the data file was corrupt and the newest backup
	// was used instead.
	SourceBackup Source = metrics.SourceBackup

	// SourceDefault means neither the data file nor the newest backup
	// parsed. The default document was returned but not written, so the
	// corrupt data file stays on disk for manual recovery.
	SourceDefault Source = metrics.SourceDefault
)

// Result is the outcome of [Store.LoadResult].
type Result struct {
	Document Document
	Source   Source

	// Backup is the backup file used when Source is SourceBackup.
	Backup string
}

// Options configures a Store. Zero fields take defaults.
type Options struct {
	FS      fs.FS
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Backup is the snapshot policy; see [backup.Config].
	Backup backup.Config
}

// Store loads and saves the document at one data file path.
type Store struct {
	fs        fs.FS
	clock     clock.Clock
	log       *slog.Logger
	metrics   *metrics.Metrics
	writer    *fs.AtomicWriter
	backups   *backup.Dir
	scheduler *backup.Scheduler
	path      string
}

// New returns a Store for the data file at path with backups in backupDir.
// Nothing is touched on disk until the first Load or Save.
func New(path, backupDir string, opts Options) *Store {
	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dir := backup.NewDir(opts.FS, backupDir)

	return &Store{
		fs:        opts.FS,
		clock:     opts.Clock,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		writer:    fs.NewAtomicWriter(opts.FS),
		backups:   dir,
		scheduler: backup.NewScheduler(opts.FS, dir, opts.Clock, opts.Backup),
		path:      path,
	}
}

// Path returns the data file path.
func (s *Store) Path() string { return s.path }

// Backups returns the backup directory manager.
func (s *Store) Backups() *backup.Dir { return s.backups }

// Load returns the current document. See [Store.LoadResult].
func (s *Store) Load() (Document, error) {
	res, err := s.LoadResult()
	if err != nil {
		return nil, err
	}

	return res.Document, nil
}

// LoadResult returns the current document and where it came from.
//
// A missing data file is created with [DefaultDocument]. A data file that
// does not parse is never an error: the newest backup is tried, then the
// default document is returned without writing it. Only I/O failures on the
// data file itself are returned as errors.
func (s *Store) LoadResult() (Result, error) {
	res, err := s.load()
	if err != nil {
		s.metrics.LoadFailed()
		s.log.Error("load failed", "path", s.path, "error", err)

		return Result{}, err
	}

	s.metrics.ObserveLoad(string(res.Source))

	return res, nil
}

func (s *Store) load() (Result, error) {
	exists, err := s.fs.Exists(s.path)
	if err != nil {
		return Result{}, fmt.Errorf("%w %s: %w", ErrReadPrimary, s.path, err)
	}

	if !exists {
		err := s.keepLeftoverTemp()
		if err != nil {
			return Result{}, err
		}

		doc := DefaultDocument()

		err = s.write(doc)
		if err != nil {
			return Result{}, err
		}

		s.log.Info("created data file", "path", s.path)

		return Result{Document: doc, Source: SourceBootstrap}, nil
	}

	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return Result{}, fmt.Errorf("%w %s: %w", ErrReadPrimary, s.path, err)
	}

	doc, parseErr := ParseDocument(data)
	if parseErr == nil {
		return Result{Document: doc, Source: SourcePrimary}, nil
	}

	s.log.Warn("data file is corrupt, trying newest backup", "path", s.path, "error", parseErr)

	latest, ok := s.backups.Latest()
	if ok {
		doc, err := s.readBackup(latest.Path)
		if err == nil {
			s.log.Warn("recovered from backup", "backup", latest.Path)

			return Result{Document: doc, Source: SourceBackup, Backup: latest.Path}, nil
		}

		s.log.Warn("newest backup is unusable", "backup", latest.Path, "error", err)
	}

	// The corrupt data file is deliberately left alone.
	s.log.Warn("no usable data, returning default document", "path", s.path)

	return Result{Document: DefaultDocument(), Source: SourceDefault}, nil
}

// keepLeftoverTemp moves a temp file left by a failed save out of the way
// before bootstrapping would overwrite it. The file is never loaded.
func (s *Store) keepLeftoverTemp() error {
	tmp := fs.TempPath(s.path)

	exists, err := s.fs.Exists(tmp)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrKeepTemp, tmp, err)
	}

	if !exists {
		return nil
	}

	aside := tmp + "." + strconv.FormatInt(s.clock.Now().Unix(), 10)

	err = s.fs.Rename(tmp, aside)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrKeepTemp, tmp, err)
	}

	s.log.Warn("data file missing but a failed save left its content behind; moved aside for manual recovery",
		"temp", tmp, "kept", aside)

	return nil
}

func (s *Store) readBackup(path string) (Document, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseDocument(data)
}

// Save replaces the data file with doc.
//
// A backup of the current data file is taken first if one is due; backup
// failures are logged and never fail the save. The write itself is atomic:
// readers of the data file see the old or the new document, never a mix.
//
// A nil doc is rejected with [ErrNotObject] before anything is touched.
func (s *Store) Save(doc Document) error {
	if doc == nil {
		return fmt.Errorf("%w: %w", ErrEncode, ErrNotObject)
	}

	start := time.Now()

	s.maintainBackups()

	err := s.write(doc)
	s.metrics.ObserveSave(time.Since(start), err)

	if err != nil {
		s.log.Error("save failed", "path", s.path, "error", err)

		return err
	}

	version, _ := doc.Version()
	s.log.Debug("saved", "path", s.path, "version", version)

	return nil
}

func (s *Store) maintainBackups() {
	res, err := s.scheduler.EnsurePeriodic(s.path)

	if res.Created != "" {
		s.metrics.BackupCreated()
		s.log.Info("backup created", "backup", res.Created)
	}

	s.metrics.BackupsPruned(len(res.Pruned))

	for _, p := range res.Pruned {
		s.log.Debug("backup pruned", "backup", p)
	}

	if err != nil {
		s.metrics.BackupFailed()
		s.log.Warn("backup maintenance failed", "error", err)
	}
}

func (s *Store) write(doc Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}

	err = s.writer.Write(s.path, bytes.NewReader(data), s.writer.DefaultOptions())

	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrDirSync):
		// The new file is in place; only its directory entry may not be durable yet.
		s.log.Warn("data file written but directory sync failed", "path", s.path, "error", err)

		return nil
	case errors.Is(err, fs.ErrTempKept):
		return fmt.Errorf("%w %s (new content kept in %s): %w", ErrWritePrimary, s.path, fs.TempPath(s.path), err)
	default:
		return fmt.Errorf("%w %s: %w", ErrWritePrimary, s.path, err)
	}
}
