package reactor

import (
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-reactor/future"
	"github.com/joeycumines/go-reactor/poller"
	"github.com/joeycumines/logiface"
)

// ErrClosed is returned by operations on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

// ErrDeregistered is returned when polling a source after
// [Source.Deregister].
var ErrDeregistered = errors.New("reactor: source deregistered")

// Reactor waits on a [poller.Poller] and wakes the futures waiting for
// readiness of registered sources, or for timers.
//
// A Reactor may be used from any number of goroutines. Only one drives the
// poller at a time, see [Reactor.Drive].
type Reactor struct {
	poller  *poller.Poller
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter

	// driveLock is held for the duration of a drive
	driveLock sync.Mutex
	events    *poller.Events

	mu      sync.Mutex
	sources map[uint64]*Source
	nextKey uint64
	timers  timerHeap
	closed  bool
}

// New returns a reactor backed by a new poller, unless one is provided via
// [WithPoller].
func New(opts ...Option) (*Reactor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	p := cfg.poller
	if p == nil {
		p, err = poller.New(poller.WithLogger(cfg.logger))
		if err != nil {
			return nil, err
		}
	}

	r := &Reactor{
		poller:  p,
		logger:  cfg.logger,
		events:  poller.NewEvents(cfg.eventsCapacity),
		sources: make(map[uint64]*Source),
		nextKey: 1,
	}
	if len(cfg.errorRates) != 0 {
		r.limiter = catrate.NewLimiter(cfg.errorRates)
	}
	return r, nil
}

// Poller returns the underlying poller.
func (r *Reactor) Poller() *poller.Poller { return r.poller }

// Notify wakes the current or next [Reactor.Drive]. A failure to notify
// leaves drivers blocked indefinitely, so it panics.
func (r *Reactor) Notify() {
	if err := r.poller.Notify(); err != nil {
		if errors.Is(err, poller.ErrClosed) {
			return
		}
		r.logger.Err().
			Err(err).
			Log(`reactor notify failed`)
		panic(err)
	}
}

// Register adds h to the poller, returning a [Source] that may be awaited
// for readiness. The handle must stay open until the source is
// deregistered.
func (r *Reactor) Register(h poller.Handle) (*Source, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	key := r.nextKey
	r.nextKey++
	s := &Source{
		reactor: r,
		handle:  h,
		key:     key,
		armed:   poller.None(key),
	}
	r.sources[key] = s
	r.mu.Unlock()

	if err := r.poller.Add(h, poller.None(key)); err != nil {
		r.mu.Lock()
		delete(r.sources, key)
		r.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// RegisterConn is [Reactor.Register] for the handle underlying conn.
func (r *Reactor) RegisterConn(conn syscall.Conn) (*Source, error) {
	h, err := poller.ConnHandle(conn)
	if err != nil {
		return nil, err
	}
	return r.Register(h)
}

// Drive waits for events, for up to timeout, and wakes the futures they
// concern, returning the number of wakers invoked. A negative timeout waits
// until an event, a timer, or [Reactor.Notify].
//
// If another goroutine is already driving, Drive returns zero immediately.
func (r *Reactor) Drive(timeout time.Duration) (int, error) {
	if !r.driveLock.TryLock() {
		return 0, nil
	}
	wakers, err := r.drive(timeout)
	r.driveLock.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
	return len(wakers), err
}

func (r *Reactor) drive(timeout time.Duration) (wakers []future.Waker, _ error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return wakers, ErrClosed
	}
	if len(r.timers) != 0 {
		delay := max(time.Until(r.timers[0].when), 0)
		if timeout < 0 || delay < timeout {
			timeout = delay
		}
	}
	r.mu.Unlock()

	n, err := r.poller.Wait(r.events, timeout)
	if err != nil {
		return wakers, err
	}

	for ev := range r.events.Iter() {
		r.mu.Lock()
		s := r.sources[ev.Key]
		r.mu.Unlock()
		if s == nil {
			r.logger.Trace().
				Uint64(`key`, ev.Key).
				Log(`reactor dropped event for unknown source`)
			continue
		}
		wakers = s.dispatch(ev, wakers)
	}

	r.mu.Lock()
	wakers = r.timers.expire(time.Now(), wakers)
	r.mu.Unlock()

	if n != 0 {
		r.logger.Trace().
			Int(`events`, n).
			Int(`wakers`, len(wakers)).
			Log(`reactor drive`)
	}
	return wakers, nil
}

// Tick drives without blocking, logging and discarding any error.
func (r *Reactor) Tick() int {
	n, err := r.Drive(0)
	if err != nil && r.allowLog(err) {
		r.logger.Trace().
			Err(err).
			Log(`reactor tick failed`)
	}
	return n
}

func (r *Reactor) allowLog(err error) bool {
	if r.limiter == nil {
		return true
	}
	_, ok := r.limiter.Allow(err.Error())
	return ok
}

// Close deregisters all sources, fires all pending timers, and closes the
// poller. Futures waiting on sources are woken, and will observe
// [ErrDeregistered].
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sources := r.sources
	r.sources = nil
	var wakers []future.Waker
	wakers = r.timers.expireAll(wakers)
	r.mu.Unlock()

	for _, s := range sources {
		var ok bool
		if wakers, ok = s.detach(wakers); ok {
			_ = r.poller.Delete(s.handle)
		}
	}
	err := r.poller.Close()
	for _, w := range wakers {
		w.Wake()
	}
	return err
}
