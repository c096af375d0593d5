// Package keylatch hands out one reader/writer latch per string key, so
// callers can guard a dynamic set of named resources without allocating
// latches up front.
package keylatch

import (
	"sync"

	"gitlab.com/slon/rwlatch/latch"
)

// Registry maps keys to latches. Latches are created lazily on first use
// and are never evicted: a latch handed out once stays valid for the
// lifetime of the registry. Latches for distinct keys are independent.
type Registry struct {
	mu         sync.Mutex
	latches    map[string]*latch.Latch
	maxReaders uint32
}

// New creates a Registry whose latches admit up to latch.MaxReaders
// concurrent readers.
func New() *Registry {
	return NewLimited(latch.MaxReaders)
}

// NewLimited creates a Registry whose latches each admit up to max
// concurrent readers.
func NewLimited(max uint32) *Registry {
	return &Registry{
		latches:    make(map[string]*latch.Latch),
		maxReaders: max,
	}
}

// Get returns the latch for key, creating it on first use. Repeated calls
// with the same key return the same latch.
func (r *Registry) Get(key string) *latch.Latch {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.latches[key]
	if !ok {
		l = latch.NewLimited(r.maxReaders)
		r.latches[key] = l
	}
	return l
}

// AcquireRead acquires the latch for key in shared mode.
func (r *Registry) AcquireRead(key string) {
	r.Get(key).AcquireRead()
}

// ReleaseRead releases one shared hold of the latch for key.
func (r *Registry) ReleaseRead(key string) {
	r.Get(key).ReleaseRead()
}

// AcquireWrite acquires the latch for key in exclusive mode.
func (r *Registry) AcquireWrite(key string) {
	r.Get(key).AcquireWrite()
}

// ReleaseWrite releases an exclusive hold of the latch for key.
func (r *Registry) ReleaseWrite(key string) {
	r.Get(key).ReleaseWrite()
}
