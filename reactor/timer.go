package reactor

import (
	"container/heap"
	"time"

	"github.com/joeycumines/go-reactor/future"
)

// Timer is a future resolving to its deadline, once the deadline has
// passed. The timer is only scheduled while it is being polled, and
// [Timer.Cancel] unschedules it.
type Timer struct {
	reactor *Reactor
	when    time.Time
	// index is the position in the heap, or -1
	index int
	waker future.Waker
	fired bool
}

// timerHeap is a min-heap of timers
type timerHeap []*Timer

// Timer returns a timer that fires after d.
func (r *Reactor) Timer(d time.Duration) *Timer {
	return r.At(time.Now().Add(d))
}

// At returns a timer that fires at deadline.
func (r *Reactor) At(deadline time.Time) *Timer {
	return &Timer{reactor: r, when: deadline, index: -1}
}

// Timeout resolves to the output of f, or [future.ErrTimeout] if it does not
// complete within d, in which case f is cancelled.
func Timeout[T any](r *Reactor, f future.Future[T], d time.Duration) future.Future[future.Result[T]] {
	return future.Race(
		future.Map(f, func(v T) future.Result[T] {
			return future.Result[T]{Value: v}
		}),
		future.Map[time.Time](r.Timer(d), func(time.Time) future.Result[T] {
			return future.Result[T]{Err: future.ErrTimeout}
		}),
	)
}

// Deadline returns the time the timer fires.
func (t *Timer) Deadline() time.Time { return t.when }

func (t *Timer) Poll(cx *future.Context) (time.Time, bool) {
	r := t.reactor
	r.mu.Lock()
	if t.fired {
		r.mu.Unlock()
		return t.when, true
	}
	if r.closed || !time.Now().Before(t.when) {
		t.fired = true
		if t.index >= 0 {
			heap.Remove(&r.timers, t.index)
		}
		t.waker = nil
		r.mu.Unlock()
		return t.when, true
	}
	t.waker = cx.Waker()
	var earliest bool
	if t.index < 0 {
		heap.Push(&r.timers, t)
		earliest = t.index == 0
	}
	r.mu.Unlock()

	if earliest {
		// a blocked drive may be waiting for a later deadline
		r.Notify()
	}
	return time.Time{}, false
}

// Cancel unschedules the timer. Polling it again reschedules it.
func (t *Timer) Cancel() {
	r := t.reactor
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.index >= 0 {
		heap.Remove(&r.timers, t.index)
	}
	t.waker = nil
}

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// expire fires every timer due by now, appending their wakers.
func (h *timerHeap) expire(now time.Time, wakers []future.Waker) []future.Waker {
	for len(*h) != 0 && !(*h)[0].when.After(now) {
		wakers = heap.Pop(h).(*Timer).fire(wakers)
	}
	return wakers
}

// expireAll fires every timer, regardless of deadline.
func (h *timerHeap) expireAll(wakers []future.Waker) []future.Waker {
	for len(*h) != 0 {
		wakers = heap.Pop(h).(*Timer).fire(wakers)
	}
	return wakers
}

func (t *Timer) fire(wakers []future.Waker) []future.Waker {
	t.fired = true
	if t.waker != nil {
		wakers = append(wakers, t.waker)
		t.waker = nil
	}
	return wakers
}
