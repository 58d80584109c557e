package fs

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Op identifies an operation that [Faulty] can intercept.
type Op string

// Valid Op values.
const (
	OpOpen            Op = "open"
	OpOpenFile        Op = "openfile"
	OpReadFile        Op = "readfile"
	OpWriteFileAtomic Op = "writefileatomic"
	OpReadDir         Op = "readdir"
	OpMkdirAll        Op = "mkdirall"
	OpStat            Op = "stat"
	OpExists          Op = "exists"
	OpRemove          Op = "remove"
	OpRename          Op = "rename"
	OpChtimes         Op = "chtimes"
	OpFileRead        Op = "file.read"
	OpFileWrite       Op = "file.write"
	OpFileStat        Op = "file.stat"
	OpFileSync        Op = "file.sync"
	OpFileClose       Op = "file.close"
)

// InjectedError marks an error as intentionally injected by [Faulty].
//
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Op   Op
	Path string
	Err  error
}

// Error returns the operation, path and underlying error message.
func (e *InjectedError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by [Faulty].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// CrashError is the panic value used for crash injection.
//
// A crash stops the caller in the middle of an operation sequence, leaving the
// underlying filesystem exactly as far as it got. For [OpFileWrite] the crash
// happens after half of the buffer has been written.
type CrashError struct {
	Op   Op
	Path string
	Seq  uint64
}

// Error implements [error].
func (e *CrashError) Error() string {
	return fmt.Sprintf("faultyfs: injected crash op=%s seq=%d path=%q", e.Op, e.Seq, e.Path)
}

// Fault describes an error to inject.
type Fault struct {
	// Op is the operation to fail.
	Op Op

	// Path restricts the fault to an exact path. Empty matches every path.
	// For [OpRename] both the source and destination are checked.
	Path string

	// Err is returned (wrapped in [InjectedError]) instead of running the
	// operation.
	Err error

	// Times limits how often the fault fires. Zero means always.
	Times int
}

// Faulty wraps an [FS] and injects errors and crashes.
//
// Errors are configured with [Faulty.Inject]. Crashes are configured with
// [Faulty.CrashAt]: the Nth mutating operation panics with a [*CrashError]
// instead of completing, which tests recover from to inspect what a killed
// process would have left on disk.
//
// Faulty is not meant for production use.
type Faulty struct {
	fs FS

	mu      sync.Mutex
	faults  []*faultState
	crashAt uint64
	seq     uint64
	trace   []Op
}

type faultState struct {
	Fault

	fired int
}

// NewFaulty returns a [Faulty] that passes everything through to fsys until
// faults are configured. Panics if fsys is nil.
func NewFaulty(fsys FS) *Faulty {
	if fsys == nil {
		panic("fs is nil")
	}

	return &Faulty{fs: fsys}
}

// Inject adds a fault. Faults are checked in the order they were added.
func (f *Faulty) Inject(fault Fault) {
	if fault.Err == nil {
		panic("fault.Err is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults = append(f.faults, &faultState{Fault: fault})
}

// CrashAt makes the nth mutating operation (1-indexed, counted from now)
// panic with a [*CrashError]. Zero disables crash injection.
func (f *Faulty) CrashAt(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq = 0
	f.crashAt = n
}

// Reset removes all faults, disables crash injection and clears the trace.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults = nil
	f.crashAt = 0
	f.seq = 0
	f.trace = nil
}

// MutatingOps returns how many mutating operations ran since the last
// [Faulty.CrashAt] or [Faulty.Reset].
func (f *Faulty) MutatingOps() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.seq
}

// Trace returns the operations observed so far, in order.
func (f *Faulty) Trace() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Op, len(f.trace))
	copy(out, f.trace)

	return out
}

// before records op and returns an injected error if a fault matches.
// Mutating operations also advance the crash counter and may panic.
func (f *Faulty) before(op Op, mutating bool, paths ...string) error {
	f.mu.Lock()

	f.trace = append(f.trace, op)

	for _, fault := range f.faults {
		if fault.Op != op || !fault.matches(paths) {
			continue
		}

		if fault.Times > 0 && fault.fired >= fault.Times {
			continue
		}

		fault.fired++
		f.mu.Unlock()

		return &InjectedError{Op: op, Path: firstPath(paths), Err: fault.Err}
	}

	crash := f.advance(op, mutating, paths)
	f.mu.Unlock()

	if crash != nil && op != OpFileWrite {
		panic(crash)
	}

	if crash != nil {
		return crash
	}

	return nil
}

// advance must be called with f.mu held.
func (f *Faulty) advance(op Op, mutating bool, paths []string) *CrashError {
	if !mutating {
		return nil
	}

	f.seq++

	if f.crashAt == 0 || f.seq != f.crashAt {
		return nil
	}

	return &CrashError{Op: op, Path: firstPath(paths), Seq: f.seq}
}

func (s *faultState) matches(paths []string) bool {
	if s.Path == "" {
		return true
	}

	for _, p := range paths {
		if p == s.Path {
			return true
		}
	}

	return false
}

func firstPath(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	return paths[0]
}

// --- FS ---

func (f *Faulty) Open(path string) (File, error) {
	err := f.before(OpOpen, false, path)
	if err != nil {
		return nil, err
	}

	file, err := f.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f, path: path}, nil
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	writable := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0

	err := f.before(OpOpenFile, writable, path)
	if err != nil {
		return nil, err
	}

	file, err := f.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f, path: path, writable: writable}, nil
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	err := f.before(OpReadFile, false, path)
	if err != nil {
		return nil, err
	}

	return f.fs.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	err := f.before(OpWriteFileAtomic, true, path)
	if err != nil {
		return err
	}

	return f.fs.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) ReadDir(path string) ([]os.DirEntry, error) {
	err := f.before(OpReadDir, false, path)
	if err != nil {
		return nil, err
	}

	return f.fs.ReadDir(path)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	err := f.before(OpMkdirAll, true, path)
	if err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	err := f.before(OpStat, false, path)
	if err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

func (f *Faulty) Exists(path string) (bool, error) {
	err := f.before(OpExists, false, path)
	if err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	err := f.before(OpRemove, true, path)
	if err != nil {
		return err
	}

	return f.fs.Remove(path)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	err := f.before(OpRename, true, oldpath, newpath)
	if err != nil {
		return err
	}

	return f.fs.Rename(oldpath, newpath)
}

func (f *Faulty) Chtimes(path string, atime, mtime time.Time) error {
	err := f.before(OpChtimes, true, path)
	if err != nil {
		return err
	}

	return f.fs.Chtimes(path, atime, mtime)
}

// --- File ---

type faultyFile struct {
	File

	owner    *Faulty
	path     string
	writable bool
}

func (ff *faultyFile) Read(p []byte) (int, error) {
	err := ff.owner.before(OpFileRead, false, ff.path)
	if err != nil {
		return 0, err
	}

	return ff.File.Read(p)
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	err := ff.owner.before(OpFileWrite, true, ff.path)

	var crash *CrashError
	if errors.As(err, &crash) {
		// Torn write: half of the buffer reaches the file, then the process dies.
		_, _ = ff.File.Write(p[:len(p)/2])

		panic(crash)
	}

	if err != nil {
		return 0, err
	}

	return ff.File.Write(p)
}

func (ff *faultyFile) Stat() (os.FileInfo, error) {
	err := ff.owner.before(OpFileStat, false, ff.path)
	if err != nil {
		return nil, err
	}

	return ff.File.Stat()
}

func (ff *faultyFile) Sync() error {
	err := ff.owner.before(OpFileSync, ff.writable, ff.path)
	if err != nil {
		return err
	}

	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	err := ff.owner.before(OpFileClose, ff.writable, ff.path)
	if err != nil {
		// The descriptor is always released, like a real close that reports EIO.
		_ = ff.File.Close()

		return err
	}

	return ff.File.Close()
}

// Compile-time interface check.
var _ FS = (*Faulty)(nil)
