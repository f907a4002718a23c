// Package lock provides the read-write locks that guard graphs and the composable lock that
// guards a union of graphs.
//
// Every physical graph owns one RWLock. A RWLock has a read side and a write side, each of
// which is a Locker. A MultiLock is itself a Locker made of an ordered list of member Lockers
// that are acquired and released as one unit.
//
// Unlike sync.RWMutex, every Locker here can be acquired with a timeout or a context, which
// is what the composable lock needs to back off instead of deadlocking.
//
// Example:
//
//	rw := lock.NewRWLock("http://example.org/graph")
//
//	err := lock.WithWrite(rw, func() error {
//		// mutate the graph
//		return nil
//	})
//
//	if !rw.ReadLock().LockTimeout(100 * time.Millisecond) {
//		return lock.ErrTimeout
//	}
//	defer rw.ReadLock().Unlock()
//
// ELI12:
//
// Think of a library book. Lots of people can read it at the same table (read lock), but
// if someone wants to write notes in it (write lock) everyone else has to wait. The
// composable lock is like borrowing several books at once: if you can't get all of them,
// you put back the ones you already have and try again a bit later, so two people never end
// up each holding half of what the other needs.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired before the caller's deadline.
var ErrTimeout = errors.New("lock: acquisition timed out")

// Locker is one side of a read-write lock, or a composition of several sides.
//
// A Locker is acquired with Lock, TryLock, LockTimeout or LockContext and released with
// Unlock. Failed acquisitions never leave anything held.
type Locker interface {
	// Lock blocks until the lock is held.
	Lock()
	// Unlock releases the lock. It must only be called by the holder.
	Unlock()
	// TryLock acquires the lock only if it is immediately available.
	TryLock() bool
	// LockTimeout waits at most d for the lock and reports whether it is held.
	LockTimeout(d time.Duration) bool
	// LockContext waits until the lock is held or ctx is done. On error nothing is held.
	LockContext(ctx context.Context) error
}

// ReadWriteLock pairs a shared read side with an exclusive write side.
type ReadWriteLock interface {
	ReadLock() Locker
	WriteLock() Locker
}

// Acquire waits at most d for l and returns ErrTimeout if it could not be acquired.
func Acquire(l Locker, d time.Duration) error {
	if !l.LockTimeout(d) {
		return ErrTimeout
	}
	return nil
}

// WithRead runs fn while holding the read side of rw. The lock is released on every exit
// path, including a panic in fn.
func WithRead(rw ReadWriteLock, fn func() error) error {
	l := rw.ReadLock()
	l.Lock()
	defer l.Unlock()
	return fn()
}

// WithWrite runs fn while holding the write side of rw.
func WithWrite(rw ReadWriteLock, fn func() error) error {
	l := rw.WriteLock()
	l.Lock()
	defer l.Unlock()
	return fn()
}

// WithReadContext is WithRead with a cancellable acquisition.
func WithReadContext(ctx context.Context, rw ReadWriteLock, fn func() error) error {
	l := rw.ReadLock()
	if err := l.LockContext(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}

// WithWriteContext is WithWrite with a cancellable acquisition.
func WithWriteContext(ctx context.Context, rw ReadWriteLock, fn func() error) error {
	l := rw.WriteLock()
	if err := l.LockContext(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
