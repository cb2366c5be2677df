package lock

import (
	"context"

	"github.com/joeycumines/go-reactor/event"
	"github.com/joeycumines/go-reactor/future"
)

type (
	// Barrier lets a fixed number of tasks wait for each other. Once n have
	// called [Barrier.Wait], all of them are released, one of which is
	// elected leader, and the barrier resets for the next generation.
	Barrier struct {
		n     int
		mu    Mutex
		event event.Event
		// guarded by mu
		count        int
		generationID uint64
	}

	// BarrierWaitResult is the outcome of [Barrier.Wait].
	BarrierWaitResult struct {
		isLeader bool
	}

	// BarrierWait is the future returned by [Barrier.Wait].
	BarrierWait struct {
		b        *Barrier
		lock     *MutexLock
		listener *event.Listener
		localGen uint64
		phase    barrierPhase
	}

	barrierPhase uint8
)

const (
	barrierArrive barrierPhase = iota
	barrierCheck
	barrierWaiting
	barrierRelock
	barrierDone
)

// NewBarrier returns a barrier releasing every n waiters. A barrier of zero
// behaves as a barrier of one.
func NewBarrier(n int) *Barrier {
	if n < 1 {
		n = 1
	}
	return &Barrier{n: n}
}

// IsLeader reports whether this waiter was the one to complete its
// generation. Exactly one waiter per generation is the leader.
func (x BarrierWaitResult) IsLeader() bool { return x.isLeader }

// Wait returns a future that completes once n waiters, this one included,
// have arrived. Arrival is counted once the future first acquires the
// barrier's internal lock; cancelling afterwards does not undo it.
func (b *Barrier) Wait() *BarrierWait {
	return &BarrierWait{b: b, lock: b.mu.Lock()}
}

// WaitBlocking is [Barrier.Wait], blocking the calling goroutine.
func (b *Barrier) WaitBlocking() BarrierWaitResult {
	return future.Block[BarrierWaitResult](b.Wait())
}

// WaitContext is [Barrier.WaitBlocking] but gives up once ctx is done.
func (b *Barrier) WaitContext(ctx context.Context) (BarrierWaitResult, error) {
	return future.BlockContext[BarrierWaitResult](ctx, b.Wait())
}

func (x *BarrierWait) Poll(cx *future.Context) (BarrierWaitResult, bool) {
	b := x.b
	for {
		switch x.phase {
		case barrierArrive:
			if _, ok := x.lock.Poll(cx); !ok {
				return BarrierWaitResult{}, false
			}
			x.lock = nil
			x.localGen = b.generationID
			b.count++
			if b.count >= b.n {
				b.count = 0
				b.generationID++
				b.mu.Unlock()
				b.event.NotifyAll()
				x.phase = barrierDone
				return BarrierWaitResult{isLeader: true}, true
			}
			x.phase = barrierCheck

		case barrierCheck:
			// holding mu
			if x.localGen == b.generationID && b.count < b.n {
				x.listener = b.event.Listen()
				b.mu.Unlock()
				x.phase = barrierWaiting
				continue
			}
			b.mu.Unlock()
			x.phase = barrierDone
			return BarrierWaitResult{}, true

		case barrierWaiting:
			if _, ok := x.listener.Poll(cx); !ok {
				return BarrierWaitResult{}, false
			}
			x.listener = nil
			x.lock = b.mu.Lock()
			x.phase = barrierRelock

		case barrierRelock:
			if _, ok := x.lock.Poll(cx); !ok {
				return BarrierWaitResult{}, false
			}
			x.lock = nil
			x.phase = barrierCheck

		default:
			return BarrierWaitResult{}, true
		}
	}
}

// Cancel abandons the wait.
func (x *BarrierWait) Cancel() {
	switch x.phase {
	case barrierArrive, barrierRelock:
		x.lock.Cancel()
		x.lock = nil
	case barrierWaiting:
		x.listener.Cancel()
		x.listener = nil
	default:
		return
	}
	x.phase = barrierDone
}
