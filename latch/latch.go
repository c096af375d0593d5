// Package latch provides a reader/writer latch with writer preference.
package latch

import (
	"math"
	"sync"
)

// MaxReaders is the default limit on the number of goroutines that may
// hold the latch for reading at the same time.
const MaxReaders = math.MaxUint32

// A Latch is a reader/writer latch.
// It can be held by an arbitrary number of readers or a single writer.
//
// Writers are preferred: once a goroutine has committed to AcquireWrite,
// no reader arriving after that point acquires before the writer releases.
// A writer's wait is therefore bounded by the readers already in flight
// when it commits. Readers get no such guarantee and may wait indefinitely
// under a continuous stream of writers.
//
// Acquisition is not reentrant: a goroutine holding the latch in any mode
// must not acquire it again, or it may deadlock. There is no fairness
// ordering among writers, no upgrade or downgrade between modes, and no
// way to cancel a blocked acquisition other than a matching release
// elsewhere.
//
// A Latch must not be copied after first use, and must not be discarded
// while any goroutine holds it or is blocked acquiring it.
type Latch struct {
	noCopy noCopy

	mu      sync.Mutex
	free    *sync.Cond // writer released, or a reader slot freed
	drained *sync.Cond // last reader released while a writer was pending

	readerCount   uint32
	writerEntered bool
	maxReaders    uint32
}

// New creates a Latch admitting up to MaxReaders concurrent readers.
func New() *Latch {
	return NewLimited(MaxReaders)
}

// NewLimited creates a Latch admitting up to max concurrent readers.
// A reader arriving at the limit blocks until a slot frees; the limit is a
// backpressure bound, not an error condition. max == 0 is treated as
// MaxReaders.
func NewLimited(max uint32) *Latch {
	if max == 0 {
		max = MaxReaders
	}
	l := &Latch{maxReaders: max}
	l.free = sync.NewCond(&l.mu)
	l.drained = sync.NewCond(&l.mu)
	return l
}

// AcquireWrite blocks until the latch can be held exclusively.
//
// It first waits for any other writer to release, then claims writer
// intent, then waits for in-flight readers to drain. The caller must not
// already hold the latch in any mode.
func (l *Latch) AcquireWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.writerEntered {
		l.free.Wait()
	}
	l.writerEntered = true
	for l.readerCount > 0 {
		l.drained.Wait()
	}
}

// ReleaseWrite releases a latch held for writing and wakes every blocked
// acquirer: waiting writers re-race for the latch, and readers blocked on
// writer intent recheck their admission. It is caller misuse to release a
// latch not held for writing.
func (l *Latch) ReleaseWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writerEntered = false
	l.free.Broadcast()
}

// AcquireRead blocks until the latch can be held for reading: no writer
// holds or is draining, and the reader limit is not exhausted. The caller
// must not already hold the latch in any mode.
func (l *Latch) AcquireRead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.writerEntered || l.readerCount == l.maxReaders {
		l.free.Wait()
	}
	l.readerCount++
}

// ReleaseRead undoes a single AcquireRead call; it does not affect other
// simultaneous readers. The last reader to release while a writer is
// draining hands the latch to that writer. It is caller misuse to release
// a latch not held for reading.
func (l *Latch) ReleaseRead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readerCount--
	if l.writerEntered {
		if l.readerCount == 0 {
			l.drained.Signal()
		}
	} else if l.readerCount == l.maxReaders-1 {
		l.free.Signal()
	}
}

// noCopy triggers go vet's copylocks check on values embedding it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
