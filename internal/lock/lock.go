// Package lock provides in-process and cross-process exclusion for the
// workflow state document. Hook handlers run as independent processes,
// so the flock-based FileLock is what actually serializes writers; the
// MutexMap only covers goroutines sharing one process.
package lock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*sync.Mutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.getMutex(key).Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.getMutex(key).Unlock()
}

func (m *MutexMap) getMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

// FileLock is an exclusive advisory flock. Acquire blocks until the lock
// is held, so the state document's read-check-write window is serialized
// across processes.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock, waiting for any current holder.
func (fl *FileLock) Acquire() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock: %w", err)
	}
	fl.file = f
	return nil
}

// TryAcquire takes the lock without waiting; it fails if another
// process holds it.
func (fl *FileLock) TryAcquire() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (held by another process): %w", err)
	}
	fl.file = f
	return nil
}

func (fl *FileLock) Release() error {
	if fl.file == nil {
		return nil
	}
	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	fl.file = nil
	return nil
}

// WithLock runs fn while holding the lock at path.
func WithLock(path string, fn func() error) error {
	fl := NewFileLock(path)
	if err := fl.Acquire(); err != nil {
		return err
	}
	defer func() { _ = fl.Release() }()
	return fn()
}
