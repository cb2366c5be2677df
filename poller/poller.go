package poller

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// notifyKey identifies the internal notifier, and is never reported.
const notifyKey uint64 = 0

// Poller waits for readiness events on registered OS handles.
//
// All methods are safe for concurrent use. Only one goroutine waits at a
// time: a concurrent call to [Poller.Wait] returns zero events immediately.
type Poller struct {
	backend *backend
	logger  *logiface.Logger[logiface.Event]
	// lock is held for the duration of a wait
	lock sync.Mutex
	// notified is set while a notification is pending
	notified atomic.Bool
	closed   atomic.Bool
}

// New returns a poller using the native backend for the current platform.
func New(opts ...Option) (*Poller, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	p := &Poller{
		backend: b,
		logger:  cfg.logger,
	}
	p.logger.Debug().
		Str(`backend`, backendName).
		Log(`poller created`)
	return p, nil
}

// Backend returns the name of the backend in use, e.g. "epoll".
func (p *Poller) Backend() string { return backendName }

// SupportsLevel reports whether [Level] mode is supported.
func (p *Poller) SupportsLevel() bool { return p.backend.supportsLevel() }

// SupportsEdge reports whether [Edge] and [EdgeOneshot] modes are supported.
func (p *Poller) SupportsEdge() bool { return p.backend.supportsEdge() }

// Add registers h in [Oneshot] mode.
//
// The handle must remain open until it is passed to [Poller.Delete].
func (p *Poller) Add(h Handle, interest Event) error {
	return p.AddWithMode(h, interest, Oneshot)
}

// AddWithMode registers h with the given mode. It fails with
// [ErrAlreadyExists] if h is already registered.
func (p *Poller) AddWithMode(h Handle, interest Event, mode PollMode) error {
	if err := p.checkInterest(interest, mode); err != nil {
		return err
	}
	return p.backend.add(h, interest, mode)
}

// Modify changes the interest of h, in [Oneshot] mode. It is also how a
// oneshot registration is re-armed.
func (p *Poller) Modify(h Handle, interest Event) error {
	return p.ModifyWithMode(h, interest, Oneshot)
}

// ModifyWithMode changes the interest and mode of h. It fails with
// [ErrNotFound] if h is not registered.
func (p *Poller) ModifyWithMode(h Handle, interest Event, mode PollMode) error {
	if err := p.checkInterest(interest, mode); err != nil {
		return err
	}
	return p.backend.modify(h, interest, mode)
}

// Delete removes h. Deleting a handle that is not registered is not an
// error.
func (p *Poller) Delete(h Handle) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.backend.delete(h)
}

// Wait blocks until at least one event is available, the timeout elapses,
// or [Poller.Notify] is called, returning the number of events written to
// events, which is cleared first. A negative timeout waits forever; zero
// does not block.
//
// If another goroutine is already waiting, Wait returns immediately with
// zero events.
func (p *Poller) Wait(events *Events, timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if !p.lock.TryLock() {
		return 0, nil
	}
	defer p.lock.Unlock()

	if cap(events.list) == 0 {
		events.list = make([]Event, 0, DefaultEventsCapacity)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		events.Clear()
		if err := p.backend.wait(events, timeout); err != nil {
			if isInterrupted(err) {
				if timeout > 0 {
					timeout = max(time.Until(deadline), 0)
				}
				continue
			}
			return 0, err
		}
		p.notified.Store(false)
		return events.Len(), nil
	}
}

// WaitDeadline is [Poller.Wait] with an absolute deadline.
func (p *Poller) WaitDeadline(events *Events, deadline time.Time) (int, error) {
	return p.Wait(events, max(time.Until(deadline), 0))
}

// Notify wakes up the current or next call to [Poller.Wait]. Notifications
// coalesce: the backend is only signalled if no notification is pending.
func (p *Poller) Notify() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.notified.CompareAndSwap(false, true) {
		if err := p.backend.notify(); err != nil {
			p.notified.Store(false)
			p.logger.Err().
				Err(err).
				Log(`poller notify failed`)
			return err
		}
	}
	return nil
}

// Close releases the resources of the poller. Registered handles are not
// closed.
func (p *Poller) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.backend.close()
	p.logger.Debug().
		Str(`backend`, backendName).
		Log(`poller closed`)
	return err
}

func (p *Poller) checkInterest(interest Event, mode PollMode) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if interest.Key == notifyKey {
		return ErrInvalidKey
	}
	if !mode.valid() ||
		(mode == Level && !p.backend.supportsLevel()) ||
		(mode.edge() && !p.backend.supportsEdge()) {
		return ErrUnsupported
	}
	return nil
}

// timeoutMillis converts a timeout to milliseconds, rounding up, with
// negative meaning forever (-1).
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout > math.MaxInt32*time.Millisecond {
		return math.MaxInt32
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
