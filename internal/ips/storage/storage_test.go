package storage

// Tests for the rename and append primitives the switch engine relies on.
//
// Focus: RenameDir never overwrites, AppendFile never truncates.
//
// Note: Simple wrappers (ReadFile, Exists, etc.) tested via integration tests.

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestRenameDir_Success(t *testing.T) {
	root := t.TempDir()
	storage := New(afero.NewOsFs())

	src := filepath.Join(root, "App")
	dst := filepath.Join(root, "App - A1")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "id.yaml"), []byte("id: A1\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := storage.RenameDir(src, dst); err != nil {
		t.Fatalf("RenameDir failed: %v", err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source should be gone, stat err=%v", err)
	}
	content, err := os.ReadFile(filepath.Join(dst, "id.yaml"))
	if err != nil {
		t.Fatalf("read moved file: %v", err)
	}
	if string(content) != "id: A1\n" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestRenameDir_RefusesExistingDestination(t *testing.T) {
	root := t.TempDir()
	storage := New(afero.NewOsFs())

	src := filepath.Join(root, "App")
	dst := filepath.Join(root, "App - A1")
	for _, dir := range []string{src, dst} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	err := storage.RenameDir(src, dst)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected destination exists error, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must stay in place: %v", err)
	}
}

func TestRenameDir_MissingSource(t *testing.T) {
	storage := New(afero.NewOsFs())
	root := t.TempDir()
	if err := storage.RenameDir(filepath.Join(root, "nope"), filepath.Join(root, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestRenameDir_RejectsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	storage := New(fs)
	if err := afero.WriteFile(fs, "/root/file", []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := storage.RenameDir("/root/file", "/root/other"); err == nil {
		t.Fatal("expected error when source is a file")
	}
}

func TestRenameDir_RejectsSymlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	link := filepath.Join(root, "App")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	storage := New(afero.NewOsFs())
	err := storage.RenameDir(link, filepath.Join(root, "moved"))
	if err == nil || !strings.Contains(err.Error(), "symlink") {
		t.Fatalf("expected symlink error, got %v", err)
	}
}

func TestAppendFile_CreatesAndAppends(t *testing.T) {
	fs := afero.NewMemMapFs()
	storage := New(fs)
	path := "/data/log/switch.log"

	if err := storage.AppendFile(path, []byte("one\n")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := storage.AppendFile(path, []byte("two\n")); err != nil {
		t.Fatalf("second append: %v", err)
	}

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "one\ntwo\n" {
		t.Fatalf("expected both lines, got %q", content)
	}
}

func TestFileAndDirExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	storage := New(fs)
	if err := afero.WriteFile(fs, "/root/App/id.yaml", []byte("id: A\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if ok, err := storage.DirExists("/root/App"); err != nil || !ok {
		t.Fatalf("expected dir to exist, ok=%v err=%v", ok, err)
	}
	if ok, err := storage.FileExists("/root/App"); err != nil || ok {
		t.Fatalf("directory must not count as file, ok=%v err=%v", ok, err)
	}
	if ok, err := storage.FileExists("/root/App/id.yaml"); err != nil || !ok {
		t.Fatalf("expected file to exist, ok=%v err=%v", ok, err)
	}
	if ok, err := storage.FileExists("/root/App/missing"); err != nil || ok {
		t.Fatalf("expected missing file, ok=%v err=%v", ok, err)
	}
}

type failingRenameFs struct {
	afero.Fs
}

func (failingRenameFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: os.ErrPermission}
}

func TestRenameDir_ErrorNamesPathsOnce(t *testing.T) {
	root := t.TempDir()
	storage := New(failingRenameFs{Fs: afero.NewOsFs()})

	src := filepath.Join(root, "App")
	dst := filepath.Join(root, "App - A1")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := storage.RenameDir(src, dst)
	if err == nil {
		t.Fatal("expected rename error")
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if strings.Count(err.Error(), src) != 1 || strings.Count(err.Error(), dst) != 1 {
		t.Fatalf("expected each path once, got %q", err.Error())
	}
}
