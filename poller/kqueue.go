//go:build (darwin || dragonfly || freebsd || openbsd) && !poller_poll

package poller

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	backendName   = `kqueue`
	reportsErrors = false
)

type (
	// backend is the kqueue backend.
	backend struct {
		kq       int
		notifier kqueueNotifier
		mu       sync.RWMutex
		// sources maps each registration to its key, so keys never need to
		// round-trip through udata
		sources map[kqueueSource]uint64
		// buf is only used by wait, which the Poller serialises
		buf []unix.Kevent_t
	}

	kqueueSource struct {
		kind kqueueSourceKind
		id   int
	}

	kqueueSourceKind uint8
)

const (
	kqueueSourceFD kqueueSourceKind = iota
	kqueueSourceSignal
	kqueueSourcePID
	kqueueSourceTimer
)

func newBackend(cfg *options) (*backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kq)
	b := &backend{
		kq:      kq,
		sources: make(map[kqueueSource]uint64),
		buf:     make([]unix.Kevent_t, cfg.eventsCapacity),
	}
	if b.notifier, err = newKqueueNotifier(); err != nil {
		_ = closeFDs(kq)
		return nil, err
	}
	if err := b.notifier.register(b); err != nil {
		_ = b.close()
		return nil, fmt.Errorf("poller: register notifier: %w", err)
	}
	return b, nil
}

func (b *backend) supportsLevel() bool { return true }

func (b *backend) supportsEdge() bool { return true }

func (b *backend) add(fd Handle, ev Event, mode PollMode) error {
	source := kqueueSource{kind: kqueueSourceFD, id: fd}
	if err := b.addSource(source, ev.Key); err != nil {
		return fmt.Errorf("%w: fd %d", err, fd)
	}
	if err := b.modify(fd, ev, mode); err != nil {
		b.removeSource(source)
		return err
	}
	return nil
}

func (b *backend) modify(fd Handle, ev Event, mode PollMode) error {
	if err := b.updateSource(kqueueSource{kind: kqueueSourceFD, id: fd}, ev.Key); err != nil {
		return fmt.Errorf("%w: fd %d", err, fd)
	}
	return b.submitFD(fd, ev.Readable, ev.Writable, kqueueModeFlags(mode))
}

func (b *backend) delete(fd Handle) error {
	source := kqueueSource{kind: kqueueSourceFD, id: fd}
	b.mu.RLock()
	_, ok := b.sources[source]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	err := b.submitFD(fd, false, false, 0)
	b.removeSource(source)
	if errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

func (b *backend) submitFD(fd int, readable, writable bool, modeFlags int) error {
	var changes [2]unix.Kevent_t
	flags := func(interested bool) int {
		if interested {
			return unix.EV_ADD | modeFlags | unix.EV_RECEIPT
		}
		return unix.EV_DELETE | unix.EV_RECEIPT
	}
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, flags(readable))
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, flags(writable))
	return b.submit(changes[:])
}

// submit applies changes, each of which must carry EV_RECEIPT.
func (b *backend) submit(changes []unix.Kevent_t) error {
	receipts := make([]unix.Kevent_t, len(changes))
	var (
		n   int
		err error
	)
	for {
		n, err = unix.Kevent(b.kq, changes, receipts, nil)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return os.NewSyscallError("kevent", err)
	}
	for _, r := range receipts[:n] {
		if int(r.Flags)&unix.EV_ERROR == 0 {
			continue
		}
		// removing a filter that was never added, or was consumed by
		// EV_ONESHOT, is fine
		switch errno := syscall.Errno(r.Data); errno {
		case 0, unix.ENOENT, unix.EPIPE:
		default:
			return os.NewSyscallError("kevent", errno)
		}
	}
	return nil
}

func (b *backend) addSource(source kqueueSource, key uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[source]; ok {
		return ErrAlreadyExists
	}
	b.sources[source] = key
	return nil
}

func (b *backend) updateSource(source kqueueSource, key uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[source]; !ok {
		return ErrNotFound
	}
	b.sources[source] = key
	return nil
}

func (b *backend) removeSource(source kqueueSource) {
	b.mu.Lock()
	delete(b.sources, source)
	b.mu.Unlock()
}

func (b *backend) wait(events *Events, timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		v := unix.NsecToTimespec(int64(timeout))
		ts = &v
	}
	buf := b.buf[:min(len(b.buf), events.Capacity())]
	n, err := unix.Kevent(b.kq, nil, buf, ts)
	if err != nil {
		return os.NewSyscallError("kevent", err)
	}

	var notified bool
	b.mu.RLock()
	for i := range buf[:n] {
		k := &buf[i]
		if b.notifier.isNotification(k) {
			notified = true
			continue
		}
		var (
			filter = int(k.Filter)
			ident  = int(k.Ident)
			source kqueueSource
		)
		switch filter {
		case unix.EVFILT_READ, unix.EVFILT_WRITE:
			source = kqueueSource{kind: kqueueSourceFD, id: ident}
		case unix.EVFILT_SIGNAL:
			source = kqueueSource{kind: kqueueSourceSignal, id: ident}
		case unix.EVFILT_PROC:
			source = kqueueSource{kind: kqueueSourcePID, id: ident}
		case unix.EVFILT_TIMER:
			source = kqueueSource{kind: kqueueSourceTimer, id: ident}
		default:
			continue
		}
		key, ok := b.sources[source]
		if !ok {
			continue
		}
		events.push(Event{
			Key:      key,
			Readable: filter != unix.EVFILT_WRITE,
			Writable: filter == unix.EVFILT_WRITE || (filter == unix.EVFILT_READ && int(k.Flags)&unix.EV_EOF != 0),
		})
	}
	b.mu.RUnlock()

	if notified {
		if err := b.notifier.rearm(b); err != nil {
			return fmt.Errorf("poller: re-arm notifier: %w", err)
		}
	}
	return nil
}

func (b *backend) notify() error {
	return b.notifier.notify(b)
}

func (b *backend) close() error {
	return errors.Join(b.notifier.close(), closeFDs(b.kq))
}

func kqueueModeFlags(mode PollMode) int {
	switch mode {
	case Oneshot:
		return unix.EV_ONESHOT
	case Edge:
		return unix.EV_CLEAR
	case EdgeOneshot:
		return unix.EV_ONESHOT | unix.EV_CLEAR
	default:
		return 0
	}
}
