package backup

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/rocky/internal/clock"
	"github.com/calvinalkan/rocky/internal/fs"
)

const (
	// DefaultKeep is how many snapshots survive a rotation.
	DefaultKeep = 7

	// DefaultMinInterval is the minimum age of the newest snapshot before
	// another one is taken. It sits just under a day so that daily use
	// produces one snapshot per day despite jitter in when the app is opened.
	DefaultMinInterval = 23*time.Hour + 30*time.Minute

	// MinIntervalFloor is the smallest accepted MinInterval. Snapshot names
	// have second resolution, so two snapshots within one second would share
	// a name.
	MinIntervalFloor = time.Second

	backupPerm = 0o644
	dirPerm    = 0o755
)

// Errors reported by [Scheduler.EnsurePeriodic].
var (
	ErrCopy   = errors.New("backup copy failed")
	ErrRotate = errors.New("backup rotation failed")
)

// Config holds the scheduling policy. Zero fields take the defaults.
type Config struct {
	Keep        int
	MinInterval time.Duration
}

// Scheduler takes snapshots of the primary file before it is overwritten.
type Scheduler struct {
	fs          fs.FS
	dir         *Dir
	clock       clock.Clock
	keep        int
	minInterval time.Duration
}

// NewScheduler returns a Scheduler writing into dir. Panics if fsys, dir or
// clk is nil.
func NewScheduler(fsys fs.FS, dir *Dir, clk clock.Clock, cfg Config) *Scheduler {
	if fsys == nil || dir == nil || clk == nil {
		panic("backup: nil dependency")
	}

	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}

	switch {
	case cfg.MinInterval <= 0:
		cfg.MinInterval = DefaultMinInterval
	case cfg.MinInterval < MinIntervalFloor:
		cfg.MinInterval = MinIntervalFloor
	}

	return &Scheduler{
		fs:          fsys,
		dir:         dir,
		clock:       clk,
		keep:        cfg.Keep,
		minInterval: cfg.MinInterval,
	}
}

// Keep returns the retention count.
func (s *Scheduler) Keep() int { return s.keep }

// MinInterval returns the minimum snapshot interval.
func (s *Scheduler) MinInterval() time.Duration { return s.minInterval }

// Due reports whether a snapshot should be taken now. It is due when there
// is no snapshot yet, when the newest one is at least MinInterval old, or
// when the newest one claims to come from the future (clock moved back).
func (s *Scheduler) Due() bool {
	latest, ok := s.dir.Latest()
	if !ok {
		return true
	}

	elapsed := s.clock.Now().Sub(latest.ModTime)

	return elapsed < 0 || elapsed >= s.minInterval
}

// Result describes what [Scheduler.EnsurePeriodic] did.
type Result struct {
	// Created is the snapshot written, or "" if none was.
	Created string

	// Pruned lists the snapshots removed by rotation.
	Pruned []string
}

// EnsurePeriodic snapshots primaryPath if one is due and rotates the set.
//
// It does nothing when primaryPath does not exist. A non-nil error is for
// observation only: a failed snapshot never means the caller should stop.
func (s *Scheduler) EnsurePeriodic(primaryPath string) (Result, error) {
	exists, err := s.fs.Exists(primaryPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: stat primary: %w", ErrCopy, err)
	}

	if !exists || !s.Due() {
		return Result{}, nil
	}

	now := s.clock.Now()

	created, err := s.snapshot(primaryPath, now)
	if created == "" {
		return Result{}, fmt.Errorf("%w: %w", ErrCopy, err)
	}

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrCopy, err))
	}

	pruned, rotateErr := s.dir.Rotate(s.keep)
	if rotateErr != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrRotate, rotateErr))
	}

	return Result{Created: created, Pruned: pruned}, errors.Join(errs...)
}

// Name returns the snapshot file name for primaryPath taken at t,
// e.g. "rocky-1718000000.json" for "rocky.json".
func Name(primaryPath string, t time.Time) string {
	base := filepath.Base(primaryPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	return stem + "-" + strconv.FormatInt(t.Unix(), 10) + Ext
}

func (s *Scheduler) snapshot(primaryPath string, now time.Time) (string, error) {
	err := s.fs.MkdirAll(s.dir.Path(), dirPerm)
	if err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	data, err := s.fs.ReadFile(primaryPath)
	if err != nil {
		return "", fmt.Errorf("read primary: %w", err)
	}

	target := filepath.Join(s.dir.Path(), Name(primaryPath, now))

	err = s.fs.WriteFileAtomic(target, data, backupPerm)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(target), err)
	}

	// The snapshot's mtime is the schedule: stamp it from our clock so the
	// directory agrees with the time source used to read it back. A failed
	// stamp still leaves a usable snapshot, so it is kept.
	err = s.fs.Chtimes(target, now, now)
	if err != nil {
		return target, fmt.Errorf("stamp %s: %w", filepath.Base(target), err)
	}

	return target, nil
}
