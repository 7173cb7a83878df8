package tools

import (
	"path/filepath"
	"sort"
	"sync"
)

// PathLocker serializes writes to the same file across concurrent tasks
// while writes to different files proceed in parallel.
type PathLocker struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-path mutexes
}

// NewPathLocker creates an empty locker.
func NewPathLocker() *PathLocker {
	return &PathLocker{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for path, creating it on first use.
func (l *PathLocker) Lock(path string) {
	path = filepath.Clean(path)

	l.mu.Lock()
	pathLock, exists := l.locks[path]
	if !exists {
		pathLock = &sync.Mutex{}
		l.locks[path] = pathLock
	}
	l.mu.Unlock()

	// Acquired outside the map lock so other paths are not held up.
	pathLock.Lock()
}

// Unlock releases the mutex for path.
func (l *PathLocker) Unlock(path string) {
	path = filepath.Clean(path)

	l.mu.Lock()
	pathLock, exists := l.locks[path]
	l.mu.Unlock()

	if exists {
		pathLock.Unlock()
	}
}

// LockAll acquires every path in sorted order, so two callers locking
// overlapping sets cannot deadlock.
func (l *PathLocker) LockAll(paths []string) {
	for _, path := range sortedPaths(paths) {
		l.Lock(path)
	}
}

// UnlockAll releases every path in reverse sorted order.
func (l *PathLocker) UnlockAll(paths []string) {
	sorted := sortedPaths(paths)
	for i := len(sorted) - 1; i >= 0; i-- {
		l.Unlock(sorted[i])
	}
}

// With runs fn while holding the lock for path. A nil locker runs fn
// unguarded.
func (l *PathLocker) With(path string, fn func() error) error {
	if l == nil {
		return fn()
	}
	l.Lock(path)
	defer l.Unlock(path)
	return fn()
}

func sortedPaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	sorted := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			sorted = append(sorted, p)
		}
	}
	sort.Strings(sorted)
	return sorted
}
