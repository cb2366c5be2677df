package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/joeycumines/go-reactor/future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct {
	n atomic.Int32
}

func (w *countingWaker) Wake() { w.n.Add(1) }

func (w *countingWaker) count() int { return int(w.n.Load()) }

func poll[T any](f future.Future[T], w future.Waker) bool {
	_, ok := f.Poll(future.NewContext(w))
	return ok
}

func TestMutex_tryLock(t *testing.T) {
	var m Mutex
	require.True(t, m.TryLock())
	require.False(t, m.TryLock())
	require.True(t, m.IsLocked())
	m.Unlock()
	require.False(t, m.IsLocked())
	require.PanicsWithValue(t, "lock: unlock of unlocked mutex", m.Unlock)
}

// A cancelled waiter that had been woken must pass the wake-up on, else the
// remaining waiter would hang.
func TestMutex_cancelWokenWaiter(t *testing.T) {
	var (
		m      Mutex
		wb, wc countingWaker
	)
	require.True(t, m.TryLock())
	b, c := m.Lock(), m.Lock()
	require.False(t, poll[struct{}](b, &wb))
	require.False(t, poll[struct{}](c, &wc))

	m.Unlock()
	require.Equal(t, 1, wb.count())
	require.Equal(t, 0, wc.count())

	b.Cancel()
	require.Equal(t, 1, wc.count())
	require.True(t, poll[struct{}](c, &wc))
	require.True(t, m.IsLocked())
	m.Unlock()
}

func TestMutex_cancelBeforeUnlock(t *testing.T) {
	var (
		m      Mutex
		wb, wc countingWaker
	)
	require.True(t, m.TryLock())
	b, c := m.Lock(), m.Lock()
	require.False(t, poll[struct{}](b, &wb))
	require.False(t, poll[struct{}](c, &wc))

	b.Cancel()
	m.Unlock()
	require.Equal(t, 0, wb.count())
	require.Equal(t, 1, wc.count())
	require.True(t, poll[struct{}](c, &wc))
	m.Unlock()
}

func TestMutex_cancelAfterAcquire(t *testing.T) {
	var m Mutex
	l := m.Lock()
	require.True(t, poll[struct{}](l, nil))
	l.Cancel()
	assert.True(t, m.IsLocked())
	m.Unlock()
}

func TestMutex_blockingCounter(t *testing.T) {
	const goroutines, iterations = 8, 500
	var (
		m       Mutex
		wg      sync.WaitGroup
		counter int
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				m.LockBlocking()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != goroutines*iterations {
		t.Errorf("expected %d, got %d", goroutines*iterations, counter)
	}
}

func TestRWLock_readers(t *testing.T) {
	var l RWLock
	require.True(t, l.TryRLock())
	require.True(t, l.TryRLock())
	require.Equal(t, 2, l.Readers())
	require.False(t, l.TryLock())
	// the failed TryLock must not leave the internal mutex held
	require.True(t, l.TryUpgradableRLock())
	require.Equal(t, 3, l.Readers())
	l.UpgradableRUnlock()
	l.RUnlock()
	l.RUnlock()
	require.Equal(t, 0, l.Readers())
	require.True(t, l.TryLock())
	require.False(t, l.TryRLock())
	l.Unlock()
}

func TestRWLock_writerWaitsForReaders(t *testing.T) {
	var (
		l      RWLock
		ww, wr countingWaker
	)
	require.True(t, l.TryRLock())
	require.True(t, l.TryRLock())

	w := l.Lock()
	require.False(t, poll[struct{}](w, &ww))
	require.True(t, l.IsWriteLocked())

	// new readers queue behind the writer
	require.False(t, l.TryRLock())
	r := l.RLock()
	require.False(t, poll[struct{}](r, &wr))

	l.RUnlock()
	require.Equal(t, 0, ww.count())
	l.RUnlock()
	require.Equal(t, 1, ww.count())
	require.True(t, poll[struct{}](w, &ww))

	l.Unlock()
	require.Equal(t, 1, wr.count())
	require.True(t, poll[struct{}](r, &wr))
	require.Equal(t, 1, l.Readers())
	l.RUnlock()
}

func TestRWLock_cancelWriterWaitingForReaders(t *testing.T) {
	var (
		l      RWLock
		ww, wr countingWaker
	)
	require.True(t, l.TryRLock())
	w := l.Lock()
	require.False(t, poll[struct{}](w, &ww))
	r := l.RLock()
	require.False(t, poll[struct{}](r, &wr))

	w.Cancel()
	require.False(t, l.IsWriteLocked())
	require.Equal(t, 1, wr.count())
	require.True(t, poll[struct{}](r, &wr))
	require.Equal(t, 2, l.Readers())

	// the internal mutex was released too
	require.True(t, l.TryUpgradableRLock())
	l.UpgradableRUnlock()
	l.RUnlock()
	l.RUnlock()
	require.True(t, l.TryLock())
	l.Unlock()
}

func TestRWLock_upgradable(t *testing.T) {
	var (
		l  RWLock
		wu countingWaker
	)
	require.True(t, l.TryUpgradableRLock())
	require.True(t, l.TryRLock())
	require.False(t, l.TryUpgradableRLock())
	require.False(t, l.TryLock())
	require.False(t, l.TryUpgrade())

	u := l.Upgrade()
	require.False(t, poll[struct{}](u, &wu))
	require.False(t, l.TryRLock())

	l.RUnlock()
	require.Equal(t, 1, wu.count())
	require.True(t, poll[struct{}](u, &wu))
	require.True(t, l.IsWriteLocked())
	require.Equal(t, 0, l.Readers())

	l.DowngradeToUpgradable()
	require.False(t, l.IsWriteLocked())
	require.Equal(t, 1, l.Readers())
	require.True(t, l.TryRLock())
	l.RUnlock()
	require.True(t, l.TryUpgrade())
	require.True(t, l.IsWriteLocked())

	l.Downgrade()
	require.Equal(t, 1, l.Readers())
	require.True(t, l.TryUpgradableRLock())
	l.DowngradeUpgradable()
	require.Equal(t, 2, l.Readers())
	require.True(t, l.TryUpgradableRLock())
	l.UpgradableRUnlock()
	l.RUnlock()
	l.RUnlock()
	require.Equal(t, 0, l.Readers())
}

func TestRWLock_cancelUpgradeReleases(t *testing.T) {
	var (
		l  RWLock
		wu countingWaker
	)
	require.True(t, l.TryUpgradableRLock())
	require.True(t, l.TryRLock())
	u := l.Upgrade()
	require.False(t, poll[struct{}](u, &wu))
	u.Cancel()
	require.False(t, l.IsWriteLocked())
	require.Equal(t, 1, l.Readers())
	require.True(t, l.TryUpgradableRLock())
	l.UpgradableRUnlock()
	l.RUnlock()
}

func TestRWLock_blocking(t *testing.T) {
	const goroutines, iterations = 6, 200
	var (
		l     RWLock
		wg    sync.WaitGroup
		value int
		bad   atomic.Bool
	)
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				switch i % 3 {
				case 0:
					l.LockBlocking()
					value++
					l.Unlock()
				case 1:
					l.RLockBlocking()
					if l.IsWriteLocked() && l.Readers() == 0 {
						bad.Store(true)
					}
					l.RUnlock()
				default:
					l.UpgradableRLockBlocking()
					l.UpgradeBlocking()
					value++
					l.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.False(t, bad.Load())
	assert.Equal(t, 4*iterations, value)
}

func TestSemaphore_bound(t *testing.T) {
	const permits, goroutines = 3, 12
	var (
		s          = NewSemaphore(permits)
		wg         sync.WaitGroup
		active     atomic.Int32
		maxActive  atomic.Int32
		iterations = 200
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				s.AcquireBlocking()
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				active.Add(-1)
				s.Release()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxActive.Load()), permits)
	assert.Equal(t, permits, s.Available())
}

func TestSemaphore_addPermits(t *testing.T) {
	var w1, w2 countingWaker
	s := NewSemaphore(0)
	require.False(t, s.TryAcquire())
	a, b := s.Acquire(), s.Acquire()
	require.False(t, poll[struct{}](a, &w1))
	require.False(t, poll[struct{}](b, &w2))
	s.AddPermits(2)
	require.Equal(t, 1, w1.count())
	require.Equal(t, 1, w2.count())
	require.True(t, poll[struct{}](a, &w1))
	require.True(t, poll[struct{}](b, &w2))
	require.Equal(t, 0, s.Available())
}

func TestSemaphore_cancelPassesPermit(t *testing.T) {
	var w1, w2 countingWaker
	s := NewSemaphore(0)
	a, b := s.Acquire(), s.Acquire()
	require.False(t, poll[struct{}](a, &w1))
	require.False(t, poll[struct{}](b, &w2))
	s.Release()
	require.Equal(t, 1, w1.count())
	a.Cancel()
	require.Equal(t, 1, w2.count())
	require.True(t, poll[struct{}](b, &w2))
}

func TestBarrier_leaderPerGeneration(t *testing.T) {
	const n, generations = 5, 2
	var (
		b       = NewBarrier(n)
		wg      sync.WaitGroup
		leaders [generations]atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range generations {
				if b.WaitBlocking().IsLeader() {
					leaders[g].Add(1)
				}
			}
		}()
	}
	wg.Wait()
	for g := range generations {
		assert.EqualValues(t, 1, leaders[g].Load(), "generation %d", g)
	}
}

func TestBarrier_zero(t *testing.T) {
	b := NewBarrier(0)
	assert.True(t, b.WaitBlocking().IsLeader())
	assert.True(t, b.WaitBlocking().IsLeader())
}

func TestBarrier_polled(t *testing.T) {
	var wa, wb countingWaker
	b := NewBarrier(3)
	x, y, z := b.Wait(), b.Wait(), b.Wait()
	require.False(t, poll[BarrierWaitResult](x, &wa))
	require.False(t, poll[BarrierWaitResult](y, &wb))
	r, ok := z.Poll(future.NewContext(nil))
	require.True(t, ok)
	require.True(t, r.IsLeader())
	require.Equal(t, 1, wa.count())
	require.Equal(t, 1, wb.count())
	r, ok = x.Poll(future.NewContext(&wa))
	require.True(t, ok)
	require.False(t, r.IsLeader())
	r, ok = y.Poll(future.NewContext(&wb))
	require.True(t, ok)
	require.False(t, r.IsLeader())
}

func TestOnceCell_singleInit(t *testing.T) {
	const goroutines = 16
	var (
		c     OnceCell[int]
		calls atomic.Int32
		wg    sync.WaitGroup
	)
	values := make([]int, goroutines)
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values[i] = c.GetOrInitBlocking(func() int {
				calls.Add(1)
				return 42
			})
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
	for i, v := range values {
		assert.Equal(t, 42, v, "goroutine %d", i)
	}
	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestOnceCell_failedInitRetries(t *testing.T) {
	var c OnceCell[string]
	errBoom := assert.AnError
	r := future.Block[future.Result[string]](c.GetOrTryInit(func() future.Future[future.Result[string]] {
		return future.Ready(future.Result[string]{Err: errBoom})
	}))
	require.ErrorIs(t, r.Err, errBoom)
	require.False(t, c.IsInitialized())

	require.Panics(t, func() {
		c.GetOrInitBlocking(func() string { panic("boom") })
	})
	require.False(t, c.IsInitialized())

	require.Equal(t, "ok", c.GetOrInitBlocking(func() string { return "ok" }))
	require.True(t, c.IsInitialized())
}

func TestOnceCell_waiterTakesOver(t *testing.T) {
	var (
		c      OnceCell[int]
		w1, w2 countingWaker
	)
	first := c.GetOrInit(func() future.Future[int] { return future.Pending[int]() })
	require.False(t, poll(first, &w1))

	second := c.GetOrInit(func() future.Future[int] { return future.Ready(7) })
	require.False(t, poll(second, &w2))

	future.Cancel(first)
	require.Equal(t, 1, w2.count())
	v, ok := second.Poll(future.NewContext(&w2))
	require.True(t, ok)
	require.Equal(t, 7, v)
}

func TestOnceCell_setAndWait(t *testing.T) {
	var (
		c OnceCell[int]
		w countingWaker
	)
	wait := c.Wait()
	require.False(t, poll[int](wait, &w))

	require.True(t, c.SetBlocking(1))
	require.False(t, c.SetBlocking(2))
	require.Equal(t, 1, w.count())

	v, ok := wait.Poll(future.NewContext(&w))
	require.True(t, ok)
	require.Equal(t, 1, v)

	full := NewOnceCell("x")
	assert.Equal(t, "x", full.WaitBlocking())
}
