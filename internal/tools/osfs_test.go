package tools

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystemAbs(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret"), []byte("s3cret"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "src"), filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(outside, "missing"), filepath.Join(root, "dangling")); err != nil {
		t.Fatal(err)
	}

	fsys, err := NewOSFileSystem(root)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		want    string // Relative to root; empty when an error is expected
		outside bool
	}{
		{name: "plain file", path: "src/main.go", want: "src/main.go"},
		{name: "new nested path", path: "new/dir/file.txt", want: "new/dir/file.txt"},
		{name: "dot dot", path: "../x", outside: true},
		{name: "absolute outside", path: filepath.Join(outside, "secret"), outside: true},
		{name: "symlink out of root", path: "escape/secret", outside: true},
		{name: "symlink dir out of root", path: "escape", outside: true},
		{name: "new file under escaping link", path: "escape/new.txt", outside: true},
		{name: "dangling link", path: "dangling", outside: true},
		{name: "symlink inside root", path: "alias/main.go", want: "src/main.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fsys.Abs(tt.path)
			if tt.outside {
				if !errors.Is(err, ErrOutsideRoot) {
					t.Fatalf("Abs(%q) = %q, %v; want ErrOutsideRoot", tt.path, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Abs(%q) failed: %v", tt.path, err)
			}
			if want := filepath.Join(fsys.Root, tt.want); got != want {
				t.Errorf("Abs(%q) = %q, want %q", tt.path, got, want)
			}
		})
	}
}

func TestOSFileSystemSymlinkEscapeBlocksIO(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret"), []byte("s3cret"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatal(err)
	}

	fsys, err := NewOSFileSystem(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fsys.ReadFile("escape/secret"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("ReadFile through symlink: expected ErrOutsideRoot, got %v", err)
	}
	if err := fsys.WriteFile("escape/planted", []byte("x")); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("WriteFile through symlink: expected ErrOutsideRoot, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "planted")); err == nil {
		t.Error("file was written outside the root")
	}
}
