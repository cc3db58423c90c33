package storage

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"
)

// FileLock is an advisory flock on "<path>.lock", shared across processes.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock guarding path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (l *FileLock) open() error {
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// Lock blocks until the exclusive lock is held.
func (l *FileLock) Lock() error {
	l.mu.Lock()

	if err := l.open(); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err != nil {
		l.file.Close()
		l.file = nil
		l.mu.Unlock()
		return err
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}

	if err := l.open(); err != nil {
		l.mu.Unlock()
		return false
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		l.file.Close()
		l.file = nil
		l.mu.Unlock()
		return false
	}
	return true
}

// LockContext polls TryLock until it succeeds or ctx is done.
func (l *FileLock) LockContext(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if l.TryLock() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock. The lock file is left in place so that
// concurrent lockers always flock the same inode.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	l.mu.Unlock()
	return nil
}
