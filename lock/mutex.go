package lock

import (
	"context"
	"sync/atomic"

	"github.com/joeycumines/go-reactor/event"
	"github.com/joeycumines/go-reactor/future"
)

// Mutex is a mutual exclusion lock, acquired cooperatively via
// [Mutex.Lock]. It is not fair: a caller of TryLock may acquire it ahead of
// a woken waiter, but every waiter is eventually served while the holder
// keeps releasing it. The zero value is unlocked.
type Mutex struct {
	locked  atomic.Bool
	lockOps event.Event
}

// MutexLock is the future returned by [Mutex.Lock].
type MutexLock struct {
	m        *Mutex
	listener *event.Listener
	acquired bool
}

// TryLock attempts to acquire the lock without waiting.
func (m *Mutex) TryLock() bool {
	return m.locked.CompareAndSwap(false, true)
}

// Lock returns a future that completes once the lock is held by the caller.
func (m *Mutex) Lock() *MutexLock {
	return &MutexLock{m: m}
}

// LockBlocking blocks the calling goroutine until the lock is acquired.
func (m *Mutex) LockBlocking() {
	future.Block[struct{}](m.Lock())
}

// LockContext is [Mutex.LockBlocking] but gives up once ctx is done.
func (m *Mutex) LockContext(ctx context.Context) error {
	_, err := future.BlockContext[struct{}](ctx, m.Lock())
	return err
}

// Unlock releases the lock, waking one waiter. It panics if the mutex is not
// locked.
func (m *Mutex) Unlock() {
	if !m.locked.Swap(false) {
		panic("lock: unlock of unlocked mutex")
	}
	m.lockOps.Notify(1)
}

// IsLocked reports whether the mutex is currently held.
func (m *Mutex) IsLocked() bool {
	return m.locked.Load()
}

func (x *MutexLock) Poll(cx *future.Context) (struct{}, bool) {
	for !x.acquired {
		if x.listener == nil {
			if x.m.TryLock() {
				x.acquired = true
				break
			}
			x.listener = x.m.lockOps.Listen()
			continue
		}
		if x.m.TryLock() {
			x.acquired = true
			x.listener.Cancel()
			x.listener = nil
			break
		}
		if _, ok := x.listener.Poll(cx); !ok {
			return struct{}{}, false
		}
		x.listener = nil
	}
	return struct{}{}, true
}

// Cancel abandons the acquisition. A pending notification is passed on to
// the next waiter. If the lock was already acquired, Cancel does nothing,
// and the caller still owns it.
func (x *MutexLock) Cancel() {
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
}
