// Package backup maintains the rotating set of primary-file snapshots.
//
// A [Dir] lists, ranks and prunes the snapshots in one directory. A
// [Scheduler] decides before each save whether a new snapshot is due.
// Both derive all state from the directory itself: file names and
// modification times are the only record of what exists and when it was
// taken.
package backup

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/calvinalkan/rocky/internal/fs"
)

// Ext is the file extension that marks a backup snapshot.
const Ext = ".json"

// Backup is one snapshot file.
type Backup struct {
	Path    string
	Name    string
	ModTime time.Time

	// StatErr is set when the file's metadata could not be read. ModTime is
	// zero in that case.
	StatErr error
}

// Dir manages the snapshots in a single directory.
type Dir struct {
	fs   fs.FS
	path string
}

// NewDir returns a Dir for path. Panics if fsys is nil.
func NewDir(fsys fs.FS, path string) *Dir {
	if fsys == nil {
		panic("fs is nil")
	}

	return &Dir{fs: fsys, path: path}
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// List returns every *.json file in the directory that is, or links to, a
// regular file, in name order.
// A missing or unreadable directory yields no backups rather than an error.
func (d *Dir) List() []Backup {
	entries, err := d.fs.ReadDir(d.path)
	if err != nil {
		return nil
	}

	backups := make([]Backup, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Ext) {
			continue
		}

		b := Backup{
			Path: filepath.Join(d.path, entry.Name()),
			Name: entry.Name(),
		}

		// Stat follows symlinks, so a link to a snapshot counts as one.
		info, statErr := d.fs.Stat(b.Path)

		switch {
		case statErr != nil:
			if !entry.Type().IsRegular() {
				continue
			}

			b.StatErr = statErr
		case !info.Mode().IsRegular():
			continue
		default:
			b.ModTime = info.ModTime()
		}

		backups = append(backups, b)
	}

	return backups
}

// Latest returns the backup with the greatest modification time. On a tie
// the first one in listing order wins. Returns false if there are no backups
// with readable metadata.
func (d *Dir) Latest() (Backup, bool) {
	var (
		latest Backup
		found  bool
	)

	for _, b := range d.List() {
		if b.StatErr != nil {
			continue
		}

		if !found || b.ModTime.After(latest.ModTime) {
			latest = b
			found = true
		}
	}

	return latest, found
}

// Newest returns all backups ordered newest first. Backups with unreadable
// metadata sort last; equal times fall back to descending name, which
// encodes the creation second.
func (d *Dir) Newest() []Backup {
	backups := d.List()

	slices.SortStableFunc(backups, compareNewestFirst)

	return backups
}

// Rotate keeps the keep newest backups and removes the rest.
//
// Every removal is attempted even if earlier ones fail. It returns the paths
// that were removed and the joined removal errors, which callers are expected
// to log rather than propagate.
func (d *Dir) Rotate(keep int) ([]string, error) {
	keep = max(keep, 0)

	backups := d.Newest()
	if len(backups) <= keep {
		return nil, nil
	}

	var (
		removed []string
		errs    []error
	)

	for _, b := range backups[keep:] {
		err := d.fs.Remove(b.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", b.Name, err))

			continue
		}

		removed = append(removed, b.Path)
	}

	return removed, errors.Join(errs...)
}

func compareNewestFirst(a, b Backup) int {
	aOK, bOK := a.StatErr == nil, b.StatErr == nil

	switch {
	case aOK && !bOK:
		return -1
	case !aOK && bOK:
		return 1
	}

	if c := b.ModTime.Compare(a.ModTime); c != 0 {
		return c
	}

	return cmp.Compare(b.Name, a.Name)
}
