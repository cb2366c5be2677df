package reactor

import (
	"errors"
	"sync"

	"github.com/joeycumines/go-reactor/future"
	"github.com/joeycumines/go-reactor/poller"
)

const (
	read = iota
	write
)

// Source is a handle registered with a [Reactor].
//
// Each direction has a single waker slot: only the most recent waiter for
// readability, and the most recent waiter for writability, is woken.
type Source struct {
	reactor *Reactor
	handle  poller.Handle
	key     uint64

	mu   sync.Mutex
	dirs [2]struct {
		waker future.Waker
		// ready caches a readiness event until the next poll
		ready bool
		// seq identifies the registration of waker
		seq uint64
	}
	// armed is the interest currently enabled in the poller
	armed        poller.Event
	deregistered bool
}

// Key returns the key the source is registered with.
func (s *Source) Key() uint64 { return s.key }

// Handle returns the registered handle.
func (s *Source) Handle() poller.Handle { return s.handle }

// PollReadable reports whether the handle has become readable, since the
// last time this returned true. If not, the waker from cx will be invoked
// once it does.
//
// Readiness is a hint: the subsequent read may still fail with EAGAIN, in
// which case the caller should poll again.
func (s *Source) PollReadable(cx *future.Context) (bool, error) {
	ok, _, err := s.poll(read, cx)
	return ok, err
}

// PollWritable is [Source.PollReadable] for writability.
func (s *Source) PollWritable(cx *future.Context) (bool, error) {
	ok, _, err := s.poll(write, cx)
	return ok, err
}

// Readable returns a future resolving once the handle is readable.
func (s *Source) Readable() *Readiness { return &Readiness{source: s, dir: read} }

// Writable returns a future resolving once the handle is writable.
func (s *Source) Writable() *Readiness { return &Readiness{source: s, dir: write} }

// Deregister removes the source from the reactor and the poller. Pending
// waiters are woken, and will observe [ErrDeregistered]. Events already
// received for the source are dropped. It is safe to call more than once.
func (s *Source) Deregister() error {
	r := s.reactor
	r.mu.Lock()
	if r.sources[s.key] == s {
		delete(r.sources, s.key)
	}
	r.mu.Unlock()

	wakers, ok := s.detach(nil)
	if !ok {
		return nil
	}
	err := r.poller.Delete(s.handle)
	for _, w := range wakers {
		w.Wake()
	}
	if errors.Is(err, poller.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Source) poll(dir int, cx *future.Context) (ok bool, seq uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deregistered {
		return false, 0, ErrDeregistered
	}
	d := &s.dirs[dir]
	if d.ready {
		d.ready = false
		d.waker = nil
		d.seq++
		return true, 0, s.armLocked()
	}
	d.waker = cx.Waker()
	d.seq++
	if err := s.armLocked(); err != nil {
		d.waker = nil
		return false, 0, err
	}
	return false, d.seq, nil
}

// cancel clears the waker slot for dir, if it still belongs to seq.
func (s *Source) cancel(dir int, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &s.dirs[dir]
	if d.seq != seq || d.waker == nil {
		return
	}
	d.waker = nil
	if !s.deregistered {
		_ = s.armLocked()
	}
}

// armLocked enables interest in the directions with a waiter.
func (s *Source) armLocked() error {
	want := poller.None(s.key)
	want.Readable = s.dirs[read].waker != nil
	want.Writable = s.dirs[write].waker != nil
	if want.Readable == s.armed.Readable && want.Writable == s.armed.Writable {
		return nil
	}
	if !want.Readable && !want.Writable {
		// leave the oneshot registration to expire
		return nil
	}
	if err := s.reactor.poller.Modify(s.handle, want); err != nil {
		return err
	}
	s.armed = want
	return nil
}

// dispatch records ev, appending the wakers to invoke. An event reporting
// neither direction, e.g. an error condition, readies both.
func (s *Source) dispatch(ev poller.Event, wakers []future.Waker) []future.Waker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deregistered {
		return wakers
	}
	readable, writable := ev.Readable, ev.Writable
	if !readable && !writable {
		readable, writable = true, true
	}
	for dir, ready := range [2]bool{readable, writable} {
		if !ready {
			continue
		}
		// consumed by the next poll, whether or not a waiter is woken
		d := &s.dirs[dir]
		d.ready = true
		if d.waker != nil {
			wakers = append(wakers, d.waker)
			d.waker = nil
		}
	}
	// the oneshot registration was disarmed by delivery
	s.armed = poller.None(s.key)
	if err := s.armLocked(); err != nil {
		s.reactor.logger.Trace().
			Err(err).
			Uint64(`key`, s.key).
			Log(`reactor failed to re-arm source`)
		// wake the remaining waiters, so they observe the error on poll
		for dir := range s.dirs {
			if d := &s.dirs[dir]; d.waker != nil {
				wakers = append(wakers, d.waker)
				d.waker = nil
				d.ready = true
			}
		}
	}
	return wakers
}

// detach marks the source deregistered, appending its waiters to wakers.
// It returns false if the source was already deregistered.
func (s *Source) detach(wakers []future.Waker) ([]future.Waker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deregistered {
		return wakers, false
	}
	s.deregistered = true
	for dir := range s.dirs {
		d := &s.dirs[dir]
		if d.waker != nil {
			wakers = append(wakers, d.waker)
			d.waker = nil
		}
	}
	return wakers, true
}

// Readiness is a future resolving once a [Source] is ready in one
// direction, to nil or the error that prevented waiting.
type Readiness struct {
	source *Source
	dir    int
	seq    uint64
	err    error
	done   bool
}

func (x *Readiness) Poll(cx *future.Context) (error, bool) {
	if x.done {
		return x.err, true
	}
	ok, seq, err := x.source.poll(x.dir, cx)
	if ok || err != nil {
		x.done, x.err, x.seq = true, err, 0
		return err, true
	}
	x.seq = seq
	return nil, false
}

// Cancel releases the waker slot, if it is still held by this future.
func (x *Readiness) Cancel() {
	if !x.done && x.seq != 0 {
		x.source.cancel(x.dir, x.seq)
		x.seq = 0
	}
}
