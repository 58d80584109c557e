package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrDirSync indicates the parent directory could not be synced after rename.
//
// When returned, the new file is in place but durability is not guaranteed.
// Callers can detect this with errors.Is(err, ErrDirSync).
var ErrDirSync = errors.New("dir sync")

// ErrTempKept indicates the replace failed after the destination had already
// been removed. The temp file still holds the new content; see [TempPath].
var ErrTempKept = errors.New("temp file kept")

// tempSuffix is appended to the destination name to form the temp sibling.
const tempSuffix = ".tmp"

// TempPath returns the temp sibling used by [AtomicWriter.Write] for path.
func TempPath(path string) string {
	return path + tempSuffix
}

// AtomicWriter replaces whole files using a temp sibling and rename.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter that uses the given filesystem.
// Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// AtomicWriteOptions configures Write behavior.
type AtomicWriteOptions struct {
	// SyncDir controls whether the parent directory is synced after rename.
	// Default: true.
	SyncDir bool

	// Perm specifies the file permissions of the temp file. Must be non-zero.
	Perm os.FileMode
}

// Write writes everything from reader to path so that readers of path only
// ever see the old content or the complete new content.
//
// The content goes to [TempPath](path), is fsynced and closed, and the temp
// file is renamed over path. If that rename fails (some platforms refuse to
// rename over an existing file), path is removed and the rename is retried
// once. If the retry fails too, the temp file is left in place and the error
// satisfies errors.Is(err, ErrTempKept).
//
// With opts.SyncDir the parent directory is fsynced after the rename; a
// failure there is reported with [ErrDirSync] even though the file is in place.
func (w *AtomicWriter) Write(path string, reader io.Reader, opts AtomicWriteOptions) error {
	if reader == nil {
		panic("reader is nil")
	}

	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)
	tmpPath := TempPath(path)

	tmpFile, err := w.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, opts.Perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	writeErr := writeAndSyncTempFile(tmpFile, tmpPath, reader)
	closeErr := closeTmpFile(tmpPath, tmpFile)

	if writeErr != nil || closeErr != nil {
		return errors.Join(writeErr, closeErr, removeTempFile(w.fs, tmpPath))
	}

	replaceErr := w.replace(tmpPath, path)
	if replaceErr != nil {
		return replaceErr
	}

	if opts.SyncDir {
		return fsyncDir(w.fs, dir)
	}

	return nil
}

// WriteWithDefaults writes content atomically using default options.
func (w *AtomicWriter) WriteWithDefaults(path string, r io.Reader) error {
	return w.Write(path, r, w.DefaultOptions())
}

// DefaultOptions returns the default atomic write options.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{
		SyncDir: true,
		Perm:    0o644,
	}
}

func (w *AtomicWriter) replace(tmpPath, path string) error {
	renameErr := w.fs.Rename(tmpPath, path)
	if renameErr == nil {
		return nil
	}

	removeErr := w.fs.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		// path is still intact, so the temp file is garbage.
		return errors.Join(
			fmt.Errorf("rename: %w", renameErr),
			fmt.Errorf("remove %q: %w", path, removeErr),
			removeTempFile(w.fs, tmpPath),
		)
	}

	retryErr := w.fs.Rename(tmpPath, path)
	if retryErr != nil {
		return fmt.Errorf("%w: rename %q after removing %q: %w", ErrTempKept, tmpPath, path, retryErr)
	}

	return nil
}

func writeAndSyncTempFile(file File, path string, r io.Reader) error {
	_, copyErr := io.Copy(file, r)
	if copyErr != nil {
		return fmt.Errorf("write temp file %q: %w", path, copyErr)
	}

	err := file.Sync()
	if err != nil {
		return fmt.Errorf("sync temp file %q: %w", path, err)
	}

	return nil
}

func fsyncDir(fs FS, dirPath string) error {
	dirFd, err := fs.Open(dirPath)
	if err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("open dir %q: %w", dirPath, err))
	}

	syncErr := dirFd.Sync()
	if syncErr == nil {
		return closeDir(dirPath, dirFd)
	}

	return errors.Join(
		ErrDirSync,
		fmt.Errorf("%q: %w", dirPath, syncErr),
		closeDir(dirPath, dirFd),
	)
}

func closeDir(dir string, file File) error {
	err := file.Close()
	if err == nil {
		return nil
	}

	return errors.Join(ErrDirSync, fmt.Errorf("close dir %q: %w", dir, err))
}

func closeTmpFile(path string, file File) error {
	err := file.Close()
	if err == nil {
		return nil
	}

	return fmt.Errorf("close temp file %q: %w", path, err)
}

func removeTempFile(fs FS, path string) error {
	err := fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}
