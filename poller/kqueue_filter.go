//go:build (darwin || dragonfly || freebsd || openbsd) && !poller_poll

package poller

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type (
	// Filter is a kqueue event source other than a file descriptor. See
	// [Signal], [Process] and [Timer].
	Filter interface {
		kevent(flags int) unix.Kevent_t
		source() kqueueSource
	}

	// Signal watches for delivery of a signal number. Events are readable.
	// The signal is still delivered to the process as usual, so it should
	// be captured via os/signal, or ignored.
	Signal int

	// Process watches a process for one of [ProcessOps]. Events are
	// readable.
	Process struct {
		PID int
		Ops ProcessOps
	}

	// ProcessOps selects the process event to watch.
	ProcessOps uint8

	// Timer fires every Timeout, or once in a oneshot mode. IDs are a
	// namespace of their own. Events are readable.
	Timer struct {
		ID      int
		Timeout time.Duration
	}
)

const (
	// ProcessExit fires once the process exits.
	ProcessExit ProcessOps = iota
	// ProcessFork fires when the process forks.
	ProcessFork
	// ProcessExec fires when the process calls exec.
	ProcessExec
)

// AddFilter registers filter with the given key and mode. It fails with
// [ErrAlreadyExists] if an equivalent filter is registered.
func (p *Poller) AddFilter(filter Filter, key uint64, mode PollMode) error {
	if err := p.checkInterest(Event{Key: key}, mode); err != nil {
		return err
	}
	b := p.backend
	source := filter.source()
	if err := b.addSource(source, key); err != nil {
		return fmt.Errorf("%w: %v", err, filter)
	}
	if err := b.submit([]unix.Kevent_t{filter.kevent(unix.EV_ADD | kqueueModeFlags(mode))}); err != nil {
		b.removeSource(source)
		return err
	}
	return nil
}

// ModifyFilter changes the key and mode of filter, re-arming it. For a
// [Timer], it also restarts the timer with the new timeout.
func (p *Poller) ModifyFilter(filter Filter, key uint64, mode PollMode) error {
	if err := p.checkInterest(Event{Key: key}, mode); err != nil {
		return err
	}
	b := p.backend
	if err := b.updateSource(filter.source(), key); err != nil {
		return fmt.Errorf("%w: %v", err, filter)
	}
	return b.submit([]unix.Kevent_t{filter.kevent(unix.EV_ADD | kqueueModeFlags(mode))})
}

// DeleteFilter removes filter. Deleting a filter that is not registered is
// not an error.
func (p *Poller) DeleteFilter(filter Filter) error {
	if p.closed.Load() {
		return ErrClosed
	}
	b := p.backend
	err := b.submit([]unix.Kevent_t{filter.kevent(unix.EV_DELETE)})
	b.removeSource(filter.source())
	return err
}

func (x Signal) kevent(flags int) (k unix.Kevent_t) {
	unix.SetKevent(&k, int(x), unix.EVFILT_SIGNAL, flags|unix.EV_RECEIPT)
	return k
}

func (x Signal) source() kqueueSource {
	return kqueueSource{kind: kqueueSourceSignal, id: int(x)}
}

func (x Signal) String() string { return fmt.Sprintf("signal %d", int(x)) }

func (x Process) kevent(flags int) (k unix.Kevent_t) {
	unix.SetKevent(&k, x.PID, unix.EVFILT_PROC, flags|unix.EV_RECEIPT)
	switch x.Ops {
	case ProcessFork:
		k.Fflags = unix.NOTE_FORK
	case ProcessExec:
		k.Fflags = unix.NOTE_EXEC
	default:
		k.Fflags = unix.NOTE_EXIT
	}
	return k
}

func (x Process) source() kqueueSource {
	return kqueueSource{kind: kqueueSourcePID, id: x.PID}
}

func (x Process) String() string { return fmt.Sprintf("process %d", x.PID) }

func (x Timer) kevent(flags int) (k unix.Kevent_t) {
	unix.SetKevent(&k, x.ID, unix.EVFILT_TIMER, flags|unix.EV_RECEIPT)
	setKeventData(&k.Data, int64((x.Timeout+time.Millisecond-1)/time.Millisecond))
	return k
}

func (x Timer) source() kqueueSource {
	return kqueueSource{kind: kqueueSourceTimer, id: x.ID}
}

func (x Timer) String() string { return fmt.Sprintf("timer %d", x.ID) }

// setKeventData sets the data field, the width of which varies by platform.
func setKeventData[T ~int32 | ~int64](p *T, v int64) { *p = T(v) }
