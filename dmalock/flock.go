package dmalock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Flock is a Provider backed by flock(2) on files in a directory.
// Locks are exclusive across processes and across file descriptors within a process.
type Flock struct {
	Dir string
}

var _ Provider = Flock{}

// Acquire implements Provider interface.
func (p Flock) Acquire(name string) (Lock, error) {
	if e := os.MkdirAll(p.Dir, 0o755); e != nil {
		return nil, e
	}
	filename := filepath.Join(p.Dir, "pcidma-"+strings.ReplaceAll(name, "/", "_")+".lock")
	f, e := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if e != nil {
		return nil, fmt.Errorf("open lock file %w", e)
	}
	logger.Debug("lock file opened", zap.String("name", name), zap.String("filename", filename))
	return &flockLock{f: f, name: name}, nil
}

type flockLock struct {
	mu     sync.Mutex
	f      *os.File
	name   string
	held   bool
	closed bool
}

func (l *flockLock) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.held {
		return false
	}
	if e := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); e != nil {
		if e != unix.EWOULDBLOCK {
			logger.Warn("flock error", zap.String("name", l.name), zap.Error(e))
		}
		return false
	}
	l.held = true
	return true
}

func (l *flockLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("dmalock: unlock of unlocked lock " + l.name)
	}
	if e := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); e != nil {
		logger.Warn("funlock error", zap.String("name", l.name), zap.Error(e))
	}
	l.held = false
}

func (l *flockLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if l.held {
		return fmt.Errorf("%w: %s", ErrHeld, l.name)
	}
	l.closed = true
	return l.f.Close()
}
