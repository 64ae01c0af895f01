package dmalock

import (
	"sync"
)

// Local is an in-process Provider.
// Locks with the same name returned by the same Local are mutually exclusive.
type Local struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Provider = (*Local)(nil)

// NewLocal creates a Local provider.
func NewLocal() *Local {
	return &Local{locks: map[string]*sync.Mutex{}}
}

// Acquire implements Provider interface.
func (p *Local) Acquire(name string) (Lock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.locks[name]
	if m == nil {
		m = &sync.Mutex{}
		p.locks[name] = m
	}
	return localLock{m}, nil
}

type localLock struct {
	*sync.Mutex
}

func (localLock) Close() error {
	return nil
}
