package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		MemberWait:     2 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRWLock_ReadersShare(t *testing.T) {
	rw := NewRWLock("g")

	require.True(t, rw.ReadLock().TryLock())
	require.True(t, rw.ReadLock().TryLock(), "second reader must not block")
	assert.False(t, rw.WriteLock().TryLock(), "writer must wait for readers")

	rw.RUnlock()
	rw.RUnlock()
	assert.True(t, rw.WriteLock().TryLock())
	rw.Unlock()
}

func TestRWLock_WriterExcludes(t *testing.T) {
	rw := NewRWLock("g")
	rw.Lock()

	assert.False(t, rw.ReadLock().TryLock())
	assert.False(t, rw.ReadLock().LockTimeout(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := rw.WriteLock().LockContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rw.Unlock()
	assert.True(t, rw.ReadLock().LockTimeout(time.Second))
	rw.RUnlock()
}

func TestAcquire(t *testing.T) {
	rw := NewRWLock("g")
	rw.Lock()
	assert.ErrorIs(t, Acquire(rw.ReadLock(), time.Millisecond), ErrTimeout)
	rw.Unlock()
	require.NoError(t, Acquire(rw.ReadLock(), time.Millisecond))
	rw.RUnlock()
}

func TestWithWrite_ReleasesOnPanic(t *testing.T) {
	rw := NewRWLock("g")

	func() {
		defer func() { _ = recover() }()
		_ = WithWrite(rw, func() error { panic("boom") })
	}()

	assert.True(t, rw.WriteLock().TryLock(), "lock must be free after panic")
	rw.Unlock()
}

func TestWithRead_PropagatesError(t *testing.T) {
	rw := NewRWLock("g")
	want := errors.New("fail")
	err := WithRead(rw, func() error { return want })
	assert.ErrorIs(t, err, want)
	assert.True(t, rw.WriteLock().TryLock())
	rw.Unlock()
}

func TestMultiLock_NoLeakOnTimeout(t *testing.T) {
	locks := []*RWLock{NewRWLock("a"), NewRWLock("b"), NewRWLock("c")}
	members := make([]Locker, len(locks))
	for i, l := range locks {
		members[i] = l.WriteLock()
	}
	m := NewMultiLock(members, fastOptions())

	// Another holder keeps the last member busy.
	locks[2].RLock()

	ok := m.LockTimeout(30 * time.Millisecond)
	require.False(t, ok)

	locks[2].RUnlock()

	var wg sync.WaitGroup
	for _, l := range locks {
		wg.Add(1)
		go func(l *RWLock) {
			defer wg.Done()
			assert.True(t, l.WriteLock().LockTimeout(time.Second), "lock %s leaked", l.Name())
			l.Unlock()
		}(l)
	}
	wg.Wait()
}

func TestMultiLock_NoLeakOnCancel(t *testing.T) {
	a, b := NewRWLock("a"), NewRWLock("b")
	m := NewMultiLock([]Locker{a.WriteLock(), b.WriteLock()}, fastOptions())

	b.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.LockContext(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("LockContext did not return after cancel")
	}

	b.Unlock()
	assert.True(t, a.WriteLock().TryLock(), "first member leaked after cancel")
	assert.True(t, b.WriteLock().TryLock())
	a.Unlock()
	b.Unlock()
}

func TestMultiLock_BlockingLockWaitsForRelease(t *testing.T) {
	a, b := NewRWLock("a"), NewRWLock("b")
	m := NewMultiLock([]Locker{a.WriteLock(), b.WriteLock()}, fastOptions())

	b.Lock()
	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		m.Lock()
		acquired.Store(true)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load())
	// While retrying, the free member must not be held between attempts for long.
	assert.True(t, a.ReadLock().LockTimeout(time.Second))
	a.RUnlock()

	b.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MultiLock.Lock never acquired")
	}
	m.Unlock()

	assert.True(t, a.WriteLock().TryLock())
	assert.True(t, b.WriteLock().TryLock())
}

func TestMultiLock_OppositeOrderNoDeadlock(t *testing.T) {
	a, b := NewRWLock("a"), NewRWLock("b")
	m1 := NewMultiLock([]Locker{a.WriteLock(), b.WriteLock()}, fastOptions())
	m2 := NewMultiLock([]Locker{b.WriteLock(), a.WriteLock()}, fastOptions())

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m1.Lock()
			count.Add(1)
			m1.Unlock()
		}()
		go func() {
			defer wg.Done()
			m2.Lock()
			count.Add(1)
			m2.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock between opposite-order multilocks")
	}
	assert.Equal(t, int32(40), count.Load())
}

func TestMultiLock_Empty(t *testing.T) {
	m := NewMultiLock(nil, Options{})
	assert.Equal(t, 0, m.Members())
	m.Lock()
	m.Unlock()
	assert.True(t, m.TryLock())
	assert.True(t, m.LockTimeout(time.Millisecond))
	require.NoError(t, m.LockContext(context.Background()))
}

func TestCompositeRWLock(t *testing.T) {
	primary, other := NewRWLock("p"), NewRWLock("o")
	c := NewCompositeRWLock(primary, []ReadWriteLock{other, primary}, fastOptions())

	t.Run("write holds primary exclusively and others shared", func(t *testing.T) {
		c.WriteLock().Lock()
		assert.False(t, primary.ReadLock().TryLock())
		assert.True(t, other.ReadLock().TryLock(), "other layer stays readable")
		other.RUnlock()
		assert.False(t, other.WriteLock().TryLock())
		c.WriteLock().Unlock()
	})

	t.Run("read shares every layer", func(t *testing.T) {
		c.ReadLock().Lock()
		assert.True(t, primary.ReadLock().TryLock())
		primary.RUnlock()
		assert.False(t, primary.WriteLock().TryLock())
		c.ReadLock().Unlock()
	})

	t.Run("duplicate primary acquired once", func(t *testing.T) {
		assert.Equal(t, 2, c.write.Members())
		assert.True(t, c.WriteLock().LockTimeout(100*time.Millisecond))
		c.WriteLock().Unlock()
	})

	t.Run("nested composite", func(t *testing.T) {
		outer := NewCompositeRWLock(c, []ReadWriteLock{NewRWLock("x")}, fastOptions())
		require.NoError(t, WithWriteContext(context.Background(), outer, func() error {
			assert.False(t, primary.WriteLock().TryLock())
			return nil
		}))
		assert.True(t, primary.WriteLock().TryLock())
		primary.Unlock()
	})
}
