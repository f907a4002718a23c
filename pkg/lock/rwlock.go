package lock

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds the number of concurrent readers. A writer takes the whole capacity.
const maxReaders = 1 << 30

// RWLock is the read-write lock of one physical graph.
//
// It is a weighted semaphore: readers take one unit, a writer takes all of them. The
// semaphore wakes waiters in FIFO order, so a waiting writer holds back readers that arrive
// after it and writers do not starve.
//
// The zero value is not usable; create locks with NewRWLock.
type RWLock struct {
	name string
	sem  *semaphore.Weighted
}

// NewRWLock creates an unlocked RWLock. The name shows up in diagnostics only.
func NewRWLock(name string) *RWLock {
	return &RWLock{
		name: name,
		sem:  semaphore.NewWeighted(maxReaders),
	}
}

// Name returns the diagnostic name of the lock.
func (l *RWLock) Name() string { return l.name }

// ReadLock returns the shared side.
func (l *RWLock) ReadLock() Locker { return side{owner: l, weight: 1} }

// WriteLock returns the exclusive side.
func (l *RWLock) WriteLock() Locker { return side{owner: l, weight: maxReaders} }

// RLock acquires the read side.
func (l *RWLock) RLock() { l.ReadLock().Lock() }

// RUnlock releases the read side.
func (l *RWLock) RUnlock() { l.ReadLock().Unlock() }

// Lock acquires the write side.
func (l *RWLock) Lock() { l.WriteLock().Lock() }

// Unlock releases the write side.
func (l *RWLock) Unlock() { l.WriteLock().Unlock() }

type side struct {
	owner  *RWLock
	weight int64
}

func (s side) Lock() {
	// Acquire only fails when its context is done.
	_ = s.owner.sem.Acquire(context.Background(), s.weight)
}

func (s side) Unlock() {
	s.owner.sem.Release(s.weight)
}

func (s side) TryLock() bool {
	return s.owner.sem.TryAcquire(s.weight)
}

func (s side) LockTimeout(d time.Duration) bool {
	if d <= 0 {
		return s.TryLock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.owner.sem.Acquire(ctx, s.weight) == nil
}

func (s side) LockContext(ctx context.Context) error {
	return s.owner.sem.Acquire(ctx, s.weight)
}
