package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default timings for MultiLock acquisition.
const (
	DefaultMemberWait     = 10 * time.Millisecond
	DefaultInitialBackoff = 2 * time.Millisecond
	DefaultMaxBackoff     = 100 * time.Millisecond
)

var errBusy = errors.New("lock: member busy")

// Options tunes how a MultiLock waits for its members.
type Options struct {
	// MemberWait is how long a single member is waited for before the whole attempt is
	// rolled back.
	MemberWait time.Duration

	// InitialBackoff is the pause after the first failed attempt. Pauses grow
	// exponentially up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultOptions returns the default acquisition timings.
func DefaultOptions() Options {
	return Options{
		MemberWait:     DefaultMemberWait,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.MemberWait <= 0 {
		o.MemberWait = DefaultMemberWait
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	return o
}

// MultiLock acquires an ordered list of member locks as one lock.
//
// Lock and LockTimeout use an all-or-nothing protocol: every member is tried with a bounded
// wait, and if any member cannot be acquired, all members acquired so far are released in
// reverse order and the whole sequence is retried after a back-off. Two MultiLocks sharing
// members in a different order therefore cannot deadlock each other.
//
// LockContext acquires members strictly in order and waits on each one without a bound; on
// cancellation it releases everything it already holds.
//
// Whatever the outcome, a MultiLock is either fully held or not held at all after an
// acquisition call returns.
type MultiLock struct {
	members []Locker
	opts    Options
}

// NewMultiLock composes members into a single lock. Member order is the acquisition order.
func NewMultiLock(members []Locker, opts Options) *MultiLock {
	return &MultiLock{
		members: append([]Locker(nil), members...),
		opts:    opts.withDefaults(),
	}
}

// Members returns the number of member locks.
func (m *MultiLock) Members() int { return len(m.members) }

// Lock blocks until every member is held.
func (m *MultiLock) Lock() {
	_ = m.acquire(context.Background())
}

// TryLock acquires every member only if all are immediately available.
func (m *MultiLock) TryLock() bool {
	return m.tryAll(0)
}

// LockTimeout retries until every member is held or d elapses.
func (m *MultiLock) LockTimeout(d time.Duration) bool {
	if d <= 0 {
		return m.TryLock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := m.acquire(ctx); err != nil {
		lockTimeouts.Inc()
		return false
	}
	return true
}

// LockContext acquires members in order, releasing all of them if ctx is cancelled
// before the last one is held.
func (m *MultiLock) LockContext(ctx context.Context) error {
	for i, member := range m.members {
		if err := member.LockContext(ctx); err != nil {
			m.release(i)
			lockInterrupts.Inc()
			return err
		}
	}
	return nil
}

// Unlock releases every member in reverse acquisition order.
func (m *MultiLock) Unlock() {
	m.release(len(m.members))
}

func (m *MultiLock) acquire(ctx context.Context) error {
	if len(m.members) == 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialBackoff
	b.MaxInterval = m.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.Retry(func() error {
		wait := m.opts.MemberWait
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if m.tryAll(wait) {
			return nil
		}
		lockRetries.Inc()
		return errBusy
	}, backoff.WithContext(b, ctx))
}

// tryAll makes one all-or-nothing pass over the members.
func (m *MultiLock) tryAll(wait time.Duration) bool {
	for i, member := range m.members {
		var ok bool
		if wait > 0 {
			ok = member.LockTimeout(wait)
		} else {
			ok = member.TryLock()
		}
		if !ok {
			m.release(i)
			return false
		}
	}
	return true
}

// release unlocks the first n members in reverse order.
func (m *MultiLock) release(n int) {
	for i := n - 1; i >= 0; i-- {
		m.members[i].Unlock()
	}
}

// CompositeRWLock is the lock of a union of graphs.
//
// Its read side holds the read side of every layer. Its write side holds the write side of
// the primary layer and the read side of every other layer, because only the primary layer
// is mutated but all layers must stay stable while it is.
type CompositeRWLock struct {
	read  *MultiLock
	write *MultiLock
}

// NewCompositeRWLock builds the lock for a primary layer and read-only layers. primary may
// be nil when no layer is writable. A lock that appears more than once is acquired once;
// when it is also the primary, the write side wins.
func NewCompositeRWLock(primary ReadWriteLock, others []ReadWriteLock, opts Options) *CompositeRWLock {
	seen := make(map[ReadWriteLock]struct{}, len(others)+1)
	var read, write []Locker

	if primary != nil {
		seen[primary] = struct{}{}
		read = append(read, primary.ReadLock())
		write = append(write, primary.WriteLock())
	}
	for _, rw := range others {
		if rw == nil {
			continue
		}
		if _, dup := seen[rw]; dup {
			continue
		}
		seen[rw] = struct{}{}
		read = append(read, rw.ReadLock())
		write = append(write, rw.ReadLock())
	}

	return &CompositeRWLock{
		read:  NewMultiLock(read, opts),
		write: NewMultiLock(write, opts),
	}
}

// ReadLock returns the conjunction of all read sides.
func (c *CompositeRWLock) ReadLock() Locker { return c.read }

// WriteLock returns the primary write side plus all other read sides.
func (c *CompositeRWLock) WriteLock() Locker { return c.write }
