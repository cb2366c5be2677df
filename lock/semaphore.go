package lock

import (
	"context"
	"sync/atomic"

	"github.com/joeycumines/go-reactor/event"
	"github.com/joeycumines/go-reactor/future"
)

// Semaphore is a counting semaphore. The number of outstanding permits
// never exceeds the number of permits it was created with, plus any added
// via [Semaphore.AddPermits].
type Semaphore struct {
	count atomic.Int64
	event event.Event
}

// SemaphoreAcquire is the future returned by [Semaphore.Acquire].
type SemaphoreAcquire struct {
	s        *Semaphore
	listener *event.Listener
	acquired bool
}

// NewSemaphore returns a semaphore with n permits.
func NewSemaphore(n int) *Semaphore {
	if n < 0 {
		panic("lock: negative semaphore permits")
	}
	s := new(Semaphore)
	s.count.Store(int64(n))
	return s
}

// TryAcquire attempts to take a permit without waiting.
func (s *Semaphore) TryAcquire() bool {
	count := s.count.Load()
	for {
		if count == 0 {
			return false
		}
		if s.count.CompareAndSwap(count, count-1) {
			return true
		}
		count = s.count.Load()
	}
}

// Acquire returns a future that completes once a permit is held.
func (s *Semaphore) Acquire() *SemaphoreAcquire {
	return &SemaphoreAcquire{s: s}
}

// AcquireBlocking blocks the calling goroutine until a permit is held.
func (s *Semaphore) AcquireBlocking() {
	future.Block[struct{}](s.Acquire())
}

// AcquireContext is [Semaphore.AcquireBlocking] but gives up once ctx is done.
func (s *Semaphore) AcquireContext(ctx context.Context) error {
	_, err := future.BlockContext[struct{}](ctx, s.Acquire())
	return err
}

// Release returns a permit, waking one waiter.
func (s *Semaphore) Release() {
	s.count.Add(1)
	s.event.Notify(1)
}

// AddPermits adds n permits, waking up to n waiters.
func (s *Semaphore) AddPermits(n int) {
	if n <= 0 {
		return
	}
	s.count.Add(int64(n))
	s.event.Notify(n)
}

// Available returns the number of permits that may currently be acquired.
func (s *Semaphore) Available() int {
	return int(s.count.Load())
}

func (x *SemaphoreAcquire) Poll(cx *future.Context) (struct{}, bool) {
	for !x.acquired {
		if x.s.TryAcquire() {
			x.acquired = true
			if x.listener != nil {
				x.listener.Cancel()
				x.listener = nil
			}
			break
		}
		if x.listener == nil {
			x.listener = x.s.event.Listen()
			continue
		}
		if _, ok := x.listener.Poll(cx); !ok {
			return struct{}{}, false
		}
		x.listener = nil
	}
	return struct{}{}, true
}

// Cancel abandons the acquisition. It does nothing if the permit was already
// acquired.
func (x *SemaphoreAcquire) Cancel() {
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
}
