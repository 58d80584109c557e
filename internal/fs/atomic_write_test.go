package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/calvinalkan/rocky/internal/fs"
)

const (
	testContentOld = "old content"
	testContentNew = "new content"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	return string(data)
}

func TestAtomicWrite_CreatesFileWhenMissing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader(testContentNew))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := readFile(t, path); got != testContentNew {
		t.Fatalf("content=%q, want %q", got, testContentNew)
	}

	if _, err := os.Stat(fs.TempPath(path)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file should not survive a successful write, stat err=%v", err)
	}
}

func TestAtomicWrite_ReplacesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writeFile(t, path, testContentOld)

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader(testContentNew))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := readFile(t, path); got != testContentNew {
		t.Fatalf("content=%q, want %q", got, testContentNew)
	}
}

func TestAtomicWrite_TruncatesStaleTempFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writeFile(t, fs.TempPath(path), strings.Repeat("stale leftover from a crash ", 10))

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader(testContentNew))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := readFile(t, path); got != testContentNew {
		t.Fatalf("content=%q, want %q", got, testContentNew)
	}
}

func TestAtomicWrite_WriteFailure_LeavesDestinationUntouched(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writeFile(t, path, testContentOld)

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpFileWrite, Err: syscall.ENOSPC})

	err := fs.NewAtomicWriter(faulty).WriteWithDefaults(path, strings.NewReader(testContentNew))
	if !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("err=%v, want ENOSPC", err)
	}

	if got := readFile(t, path); got != testContentOld {
		t.Fatalf("content=%q, want %q", got, testContentOld)
	}

	if _, statErr := os.Stat(fs.TempPath(path)); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("temp file should be removed after a failed write, stat err=%v", statErr)
	}
}

func TestAtomicWrite_SyncFailure_IsReported(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writeFile(t, path, testContentOld)

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpFileSync, Path: fs.TempPath(path), Err: syscall.EIO})

	err := fs.NewAtomicWriter(faulty).WriteWithDefaults(path, strings.NewReader(testContentNew))
	if !errors.Is(err, syscall.EIO) {
		t.Fatalf("err=%v, want EIO", err)
	}

	if got := readFile(t, path); got != testContentOld {
		t.Fatalf("content=%q, want %q", got, testContentOld)
	}
}

func TestAtomicWrite_RenameFailure_RemovesDestinationAndRetries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writeFile(t, path, testContentOld)

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpRename, Err: syscall.EEXIST, Times: 1})

	err := fs.NewAtomicWriter(faulty).WriteWithDefaults(path, strings.NewReader(testContentNew))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := readFile(t, path); got != testContentNew {
		t.Fatalf("content=%q, want %q", got, testContentNew)
	}

	var renames, removes int

	for _, op := range faulty.Trace() {
		switch op {
		case fs.OpRename:
			renames++
		case fs.OpRemove:
			removes++
		}
	}

	if renames != 2 || removes != 1 {
		t.Fatalf("renames=%d removes=%d, want 2 and 1", renames, removes)
	}
}

func TestAtomicWrite_SecondRenameFailure_KeepsTempFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writeFile(t, path, testContentOld)

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpRename, Err: syscall.EACCES})

	err := fs.NewAtomicWriter(faulty).WriteWithDefaults(path, strings.NewReader(testContentNew))
	if !errors.Is(err, fs.ErrTempKept) {
		t.Fatalf("err=%v, want ErrTempKept", err)
	}

	if !errors.Is(err, syscall.EACCES) {
		t.Fatalf("err=%v, want underlying EACCES", err)
	}

	if got := readFile(t, fs.TempPath(path)); got != testContentNew {
		t.Fatalf("temp content=%q, want %q", got, testContentNew)
	}
}

func TestAtomicWrite_RemoveFailureAfterRenameFailure_KeepsDestination(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rocky.json")
	writeFile(t, path, testContentOld)

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpRename, Err: syscall.EXDEV})
	faulty.Inject(fs.Fault{Op: fs.OpRemove, Path: path, Err: syscall.EPERM})

	err := fs.NewAtomicWriter(faulty).WriteWithDefaults(path, strings.NewReader(testContentNew))
	if !errors.Is(err, syscall.EXDEV) || !errors.Is(err, syscall.EPERM) {
		t.Fatalf("err=%v, want EXDEV and EPERM", err)
	}

	if got := readFile(t, path); got != testContentOld {
		t.Fatalf("content=%q, want %q", got, testContentOld)
	}
}

func TestAtomicWrite_DirSyncFailure_FileIsInPlace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rocky.json")

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpOpen, Path: dir, Err: syscall.EIO})

	err := fs.NewAtomicWriter(faulty).WriteWithDefaults(path, strings.NewReader(testContentNew))
	if !errors.Is(err, fs.ErrDirSync) {
		t.Fatalf("err=%v, want ErrDirSync", err)
	}

	if got := readFile(t, path); got != testContentNew {
		t.Fatalf("content=%q, want %q", got, testContentNew)
	}
}

func TestAtomicWrite_RejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	writer := fs.NewAtomicWriter(fs.NewReal())

	if err := writer.Write("", strings.NewReader("x"), writer.DefaultOptions()); err == nil {
		t.Fatal("empty path: want error")
	}

	if err := writer.Write(filepath.Join(t.TempDir(), "a"), strings.NewReader("x"), fs.AtomicWriteOptions{}); err == nil {
		t.Fatal("zero perm: want error")
	}
}

func TestAtomicWrite_CrashAtEveryStep_NeverTearsDestination(t *testing.T) {
	t.Parallel()

	newContent := strings.Repeat(testContentNew, 64)

	for step := uint64(1); ; step++ {
		path := filepath.Join(t.TempDir(), "rocky.json")
		writeFile(t, path, testContentOld)

		faulty := fs.NewFaulty(fs.NewReal())
		faulty.CrashAt(step)

		crashed := runRecoveringCrash(t, func() error {
			return fs.NewAtomicWriter(faulty).WriteWithDefaults(path, strings.NewReader(newContent))
		})

		got := readFile(t, path)
		if got != testContentOld && got != newContent {
			t.Fatalf("step %d: destination torn: %q", step, got)
		}

		if !crashed {
			if got != newContent {
				t.Fatalf("step %d: completed write left %q", step, got)
			}

			return
		}
	}
}

// runRecoveringCrash runs fn and reports whether it was stopped by an
// injected crash. Any error returned by fn fails the test.
func runRecoveringCrash(t *testing.T, fn func() error) (crashed bool) {
	t.Helper()

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if _, ok := r.(*fs.CrashError); !ok {
			panic(r)
		}

		crashed = true
	}()

	err := fn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return false
}
