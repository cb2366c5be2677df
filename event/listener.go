package event

import (
	"context"
	"time"

	"github.com/joeycumines/go-reactor/future"
)

// Listener is a single registration on an [Event]. It is a
// future.Future[struct{}] that completes once notified.
//
// A listener that is abandoned before it completes must be cancelled, see
// [Listener.Cancel], or any notification it received is lost.
type Listener struct {
	event      *Event
	prev, next *Listener
	waker      future.Waker
	linked     bool
	notified   bool
	additional bool
}

// Poll completes once the listener has been notified, at which point it is
// removed from the event's list. Polling a cancelled listener completes
// immediately.
func (l *Listener) Poll(cx *future.Context) (struct{}, bool) {
	e := l.event
	e.mu.Lock()
	if l.linked {
		if !l.notified {
			l.waker = cx.Waker()
			e.mu.Unlock()
			return struct{}{}, false
		}
		e.unlinkLocked(l)
	}
	e.mu.Unlock()
	return struct{}{}, true
}

// Cancel removes the listener from the list. If the listener had been
// notified, but had not yet observed it, the notification is passed on to
// the next listener, preserving the kind of notification. Calling Cancel
// after completion is a no-op.
func (l *Listener) Cancel() {
	l.cancel()
}

func (l *Listener) cancel() bool {
	e := l.event
	e.mu.Lock()
	if !l.linked {
		e.mu.Unlock()
		return false
	}
	var wakers []future.Waker
	notified := e.unlinkLocked(l)
	if notified {
		_, wakers = e.notifyLocked(1, l.additional, nil)
	}
	e.mu.Unlock()
	wake(wakers)
	return notified
}

// Discard is [Listener.Cancel], returning true if a notification was passed
// on.
func (l *Listener) Discard() bool {
	return l.cancel()
}

// IsNotified reports whether the listener has been notified.
func (l *Listener) IsNotified() bool {
	e := l.event
	e.mu.Lock()
	defer e.mu.Unlock()
	return l.notified
}

// Wait blocks the calling goroutine until notified.
func (l *Listener) Wait() {
	future.Block[struct{}](l)
}

// WaitContext blocks until notified or ctx is done, in which case the
// listener is cancelled.
func (l *Listener) WaitContext(ctx context.Context) error {
	_, err := future.BlockContext[struct{}](ctx, l)
	return err
}

// WaitDeadline blocks until notified or the deadline passes, returning false
// on timeout.
func (l *Listener) WaitDeadline(deadline time.Time) bool {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return l.WaitContext(ctx) == nil
}

// WaitTimeout is [Listener.WaitDeadline] relative to now.
func (l *Listener) WaitTimeout(timeout time.Duration) bool {
	return l.WaitDeadline(time.Now().Add(timeout))
}
