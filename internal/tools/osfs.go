package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that resolve outside the filesystem root.
var ErrOutsideRoot = errors.New("path escapes the working directory")

// OSFileSystem is a FileSystem on the local disk, confined to Root.
type OSFileSystem struct {
	Root string
}

// NewOSFileSystem returns a filesystem rooted at dir.
func NewOSFileSystem(dir string) (*OSFileSystem, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &OSFileSystem{Root: abs}, nil
}

// Abs resolves name against Root and rejects anything outside it, including
// paths that leave Root through a symlink.
func (f *OSFileSystem) Abs(name string) (string, error) {
	var p string
	if filepath.IsAbs(name) {
		p = filepath.Clean(name)
	} else {
		p = filepath.Join(f.Root, name)
	}
	if !f.contains(p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}

	resolved, err := resolveExisting(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	if !f.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return resolved, nil
}

func (f *OSFileSystem) contains(p string) bool {
	rel, err := filepath.Rel(f.Root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting evaluates symlinks in the deepest existing ancestor of p
// and appends the components that do not exist yet.
func resolveExisting(p string) (string, error) {
	for dir := p; ; {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			rest, err := filepath.Rel(dir, p)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		// A dangling link would be followed on write; its target is unknown.
		if info, lerr := os.Lstat(dir); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: dangling symlink %s", ErrOutsideRoot, dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return p, nil
		}
		dir = parent
	}
}

func (f *OSFileSystem) ReadFile(name string) ([]byte, error) {
	p, err := f.Abs(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// WriteFile writes data, creating parent directories as needed.
func (f *OSFileSystem) WriteFile(name string, data []byte) error {
	p, err := f.Abs(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(p, data, 0644)
}

func (f *OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := f.Abs(name)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(p)
}

func (f *OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	p, err := f.Abs(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// WalkDir walks root, passing paths relative to the filesystem root to fn.
func (f *OSFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	p, err := f.Abs(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		rel, relErr := filepath.Rel(f.Root, path)
		if relErr != nil {
			rel = path
		}
		return fn(filepath.ToSlash(rel), d, err)
	})
}
