// Package event implements a notification primitive: an [Event] owns a FIFO
// list of [Listener] values, each of which is a future that completes once
// the event notifies it.
//
// The lock package builds every primitive on top of this one. The usual
// pattern is: try the fast path, create a listener, retry the fast path, and
// only then await the listener, so a notification between the first attempt
// and the listen call is never lost.
package event

import (
	"math"
	"sync"

	"github.com/joeycumines/go-reactor/future"
)

// Event is a publisher of notifications. The zero value is ready to use.
// An Event must not be copied after first use.
type Event struct {
	mu sync.Mutex
	// head and tail of the listener list, in arrival order
	head, tail *Listener
	// start is the first listener that has not been notified; all listeners
	// before it are notified
	start *Listener
	// len is the number of linked listeners
	len int
	// notified is the number of linked listeners that were notified
	notified int
}

// Listen registers a new listener, appended to the end of the list.
func (e *Event) Listen() *Listener {
	l := &Listener{event: e}
	e.mu.Lock()
	l.linked = true
	l.prev = e.tail
	if e.tail != nil {
		e.tail.next = l
	} else {
		e.head = l
	}
	e.tail = l
	if e.start == nil {
		e.start = l
	}
	e.len++
	e.mu.Unlock()
	return l
}

// Notify ensures at least n listeners are notified, counting listeners that
// were already notified but have not yet completed. Listeners are notified in
// the order they were registered. It returns the number of newly notified
// listeners.
func (e *Event) Notify(n int) int {
	e.mu.Lock()
	count, wakers := e.notifyLocked(n, false, nil)
	e.mu.Unlock()
	wake(wakers)
	return count
}

// NotifyAdditional notifies n listeners that have not yet been notified,
// regardless of how many already were. It returns the number of newly
// notified listeners.
func (e *Event) NotifyAdditional(n int) int {
	e.mu.Lock()
	count, wakers := e.notifyLocked(n, true, nil)
	e.mu.Unlock()
	wake(wakers)
	return count
}

// NotifyAll notifies every registered listener.
func (e *Event) NotifyAll() int {
	return e.Notify(math.MaxInt)
}

// Listeners returns the number of registered listeners.
func (e *Event) Listeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.len
}

// Notified returns the number of registered listeners that were notified and
// are yet to observe it.
func (e *Event) Notified() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notified
}

func (e *Event) notifyLocked(n int, additional bool, wakers []future.Waker) (count int, _ []future.Waker) {
	if !additional {
		n -= e.notified
	}
	for ; n > 0 && e.start != nil; n-- {
		l := e.start
		e.start = l.next
		e.notified++
		count++
		l.notified = true
		l.additional = additional
		if l.waker != nil {
			wakers = append(wakers, l.waker)
			l.waker = nil
		}
	}
	return count, wakers
}

// unlinkLocked removes l from the list, returning true if it had been
// notified.
func (e *Event) unlinkLocked(l *Listener) bool {
	if e.start == l {
		e.start = l.next
	}
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		e.head = l.next
	}
	if l.next != nil {
		l.next.prev = l.prev
	} else {
		e.tail = l.prev
	}
	l.prev, l.next = nil, nil
	l.linked = false
	l.waker = nil
	e.len--
	if l.notified {
		e.notified--
		return true
	}
	return false
}

func wake(wakers []future.Waker) {
	for _, w := range wakers {
		w.Wake()
	}
}
