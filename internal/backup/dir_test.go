package backup_test

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/calvinalkan/rocky/internal/backup"
	"github.com/calvinalkan/rocky/internal/fs"
)

var epoch = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

// writeBackup creates name in dir with the given modification time.
func writeBackup(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()

	path := filepath.Join(dir, name)

	err := os.WriteFile(path, []byte(`{"version":1}`), 0o644)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = os.Chtimes(path, mtime, mtime)
	if err != nil {
		t.Fatalf("setup chtimes: %v", err)
	}

	return path
}

func names(backups []backup.Backup) []string {
	out := make([]string, 0, len(backups))
	for _, b := range backups {
		out = append(out, b.Name)
	}

	return out
}

func TestDir_List_OnlyJSONRegularFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "rocky-1.json", epoch)
	writeBackup(t, dir, "rocky-2.json", epoch)
	writeBackup(t, dir, "notes.txt", epoch)
	writeBackup(t, dir, "rocky-3.json.tmp", epoch)

	if err := os.Mkdir(filepath.Join(dir, "nested.json"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got := names(backup.NewDir(fs.NewReal(), dir).List())
	want := []string{"rocky-1.json", "rocky-2.json"}

	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("List=%v, want %v", got, want)
	}
}

func TestDir_List_FollowsSymlinksToRegularFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := writeBackup(t, t.TempDir(), "elsewhere.json", epoch.Add(time.Hour))
	writeBackup(t, dir, "rocky-1.json", epoch)

	if err := os.Symlink(target, filepath.Join(dir, "rocky-2.json")); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "rocky-3.json")); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := os.Symlink(filepath.Join(dir, "sub"), filepath.Join(dir, "rocky-4.json")); err != nil {
		t.Fatalf("setup: %v", err)
	}

	d := backup.NewDir(fs.NewReal(), dir)

	got := names(d.List())
	if len(got) != 2 || got[0] != "rocky-1.json" || got[1] != "rocky-2.json" {
		t.Fatalf("List=%v, want [rocky-1.json rocky-2.json]", got)
	}

	latest, ok := d.Latest()
	if !ok || latest.Name != "rocky-2.json" || !latest.ModTime.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("Latest=%s %v ok=%v, want rocky-2.json with target mtime", latest.Name, latest.ModTime, ok)
	}
}

func TestDir_List_MissingDirectory_IsEmpty(t *testing.T) {
	t.Parallel()

	d := backup.NewDir(fs.NewReal(), filepath.Join(t.TempDir(), "missing"))

	if got := d.List(); len(got) != 0 {
		t.Fatalf("List=%v, want empty", got)
	}

	if _, ok := d.Latest(); ok {
		t.Fatal("Latest on a missing dir should report none")
	}
}

func TestDir_List_UnreadableDirectory_IsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "rocky-1.json", epoch)

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpReadDir, Err: syscall.EACCES})

	if got := backup.NewDir(faulty, dir).List(); len(got) != 0 {
		t.Fatalf("List=%v, want empty", got)
	}
}

func TestDir_Latest_PicksGreatestModTime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "rocky-a.json", epoch.Add(2*time.Hour))
	newest := writeBackup(t, dir, "rocky-b.json", epoch.Add(5*time.Hour))
	writeBackup(t, dir, "rocky-c.json", epoch)

	latest, ok := backup.NewDir(fs.NewReal(), dir).Latest()
	if !ok {
		t.Fatal("Latest: none found")
	}

	if latest.Path != newest {
		t.Fatalf("Latest=%s, want %s", latest.Path, newest)
	}

	if !latest.ModTime.Equal(epoch.Add(5 * time.Hour)) {
		t.Fatalf("ModTime=%v", latest.ModTime)
	}
}

func TestDir_Latest_TieGoesToFirstListed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := writeBackup(t, dir, "rocky-a.json", epoch)
	writeBackup(t, dir, "rocky-b.json", epoch)

	latest, ok := backup.NewDir(fs.NewReal(), dir).Latest()
	if !ok || latest.Path != first {
		t.Fatalf("Latest=%v ok=%v, want %s", latest.Path, ok, first)
	}
}

func TestDir_Latest_SkipsUnreadableMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	readable := writeBackup(t, dir, "rocky-a.json", epoch)
	broken := writeBackup(t, dir, "rocky-b.json", epoch.Add(time.Hour))

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpStat, Path: broken, Err: syscall.EIO})

	latest, ok := backup.NewDir(faulty, dir).Latest()
	if !ok || latest.Path != readable {
		t.Fatalf("Latest=%v ok=%v, want %s", latest.Path, ok, readable)
	}
}

func TestDir_Latest_AllMetadataUnreadable_ReportsNone(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "rocky-a.json", epoch)

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpStat, Err: syscall.EIO})

	if _, ok := backup.NewDir(faulty, dir).Latest(); ok {
		t.Fatal("Latest should report none")
	}
}

func TestDir_Rotate_KeepsNewest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for i := range 10 {
		writeBackup(t, dir, backup.Name("rocky.json", epoch.Add(time.Duration(i)*24*time.Hour)),
			epoch.Add(time.Duration(i)*24*time.Hour))
	}

	d := backup.NewDir(fs.NewReal(), dir)

	removed, err := d.Rotate(7)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if len(removed) != 3 {
		t.Fatalf("removed %d files, want 3", len(removed))
	}

	got := names(d.Newest())
	if len(got) != 7 {
		t.Fatalf("kept %d files, want 7: %v", len(got), got)
	}

	for i, name := range got {
		want := backup.Name("rocky.json", epoch.Add(time.Duration(9-i)*24*time.Hour))
		if name != want {
			t.Fatalf("kept[%d]=%s, want %s", i, name, want)
		}
	}
}

func TestDir_Rotate_FewerThanKeep_RemovesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "rocky-1.json", epoch)
	writeBackup(t, dir, "rocky-2.json", epoch.Add(time.Hour))

	removed, err := backup.NewDir(fs.NewReal(), dir).Rotate(7)
	if err != nil || len(removed) != 0 {
		t.Fatalf("Rotate removed=%v err=%v", removed, err)
	}
}

func TestDir_Rotate_RemovalFailure_DoesNotStopOthers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "rocky-4.json", epoch.Add(4*time.Hour))
	writeBackup(t, dir, "rocky-3.json", epoch.Add(3*time.Hour))
	stuck := writeBackup(t, dir, "rocky-2.json", epoch.Add(2*time.Hour))
	gone := writeBackup(t, dir, "rocky-1.json", epoch.Add(1*time.Hour))

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpRemove, Path: stuck, Err: syscall.EPERM})

	removed, err := backup.NewDir(faulty, dir).Rotate(2)
	if !errors.Is(err, syscall.EPERM) {
		t.Fatalf("err=%v, want EPERM", err)
	}

	if len(removed) != 1 || removed[0] != gone {
		t.Fatalf("removed=%v, want [%s]", removed, gone)
	}

	if _, statErr := os.Stat(gone); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("%s should be removed", gone)
	}

	if _, statErr := os.Stat(stuck); statErr != nil {
		t.Fatalf("%s should still exist: %v", stuck, statErr)
	}
}

func TestDir_Rotate_UnreadableMetadata_IsPrunedFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "rocky-1.json", epoch)
	broken := writeBackup(t, dir, "rocky-9.json", epoch.Add(9*time.Hour))

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.Inject(fs.Fault{Op: fs.OpStat, Path: broken, Err: syscall.EIO})

	removed, err := backup.NewDir(faulty, dir).Rotate(1)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if len(removed) != 1 || removed[0] != broken {
		t.Fatalf("removed=%v, want [%s]", removed, broken)
	}
}
