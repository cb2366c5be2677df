//go:build solaris && !poller_poll

package poller

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	backendName   = `event ports`
	reportsErrors = true

	portReadFlags  = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLPRI
	portWriteFlags = unix.POLLOUT | unix.POLLHUP | unix.POLLERR
)

// backend is the event ports backend. Associations are always oneshot: the
// kernel drops an fd once it delivers an event for it.
type backend struct {
	port *unix.EventPort
	// registered tracks fds added via add, independent of whether they are
	// currently associated
	mu         sync.Mutex
	registered map[int]struct{}

	notifyRead  int
	notifyWrite int

	// buf is only used by wait, which the Poller serialises
	buf []unix.PortEvent
}

func newBackend(cfg *options) (*backend, error) {
	port, err := unix.NewEventPort()
	if err != nil {
		return nil, os.NewSyscallError("port_create", err)
	}
	r, w, err := newPipe()
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	b := &backend{
		port:        port,
		registered:  make(map[int]struct{}),
		notifyRead:  r,
		notifyWrite: w,
		buf:         make([]unix.PortEvent, cfg.eventsCapacity),
	}
	if err := b.armNotifier(); err != nil {
		_ = b.close()
		return nil, fmt.Errorf("poller: register notifier: %w", err)
	}
	return b, nil
}

func (b *backend) supportsLevel() bool { return false }

func (b *backend) supportsEdge() bool { return false }

func (b *backend) add(fd Handle, ev Event, _ PollMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.registered[fd]; ok || fd == b.notifyRead {
		return fmt.Errorf("%w: fd %d", ErrAlreadyExists, fd)
	}
	if err := b.associate(fd, ev); err != nil {
		return err
	}
	b.registered[fd] = struct{}{}
	return nil
}

func (b *backend) modify(fd Handle, ev Event, _ PollMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.registered[fd]; !ok {
		return fmt.Errorf("%w: fd %d", ErrNotFound, fd)
	}
	if err := b.dissociate(fd); err != nil {
		return err
	}
	return b.associate(fd, ev)
}

func (b *backend) delete(fd Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.registered[fd]; !ok {
		return nil
	}
	delete(b.registered, fd)
	err := b.dissociate(fd)
	if errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// associate arms fd, unless ev has no interest. Must be locked.
func (b *backend) associate(fd int, ev Event) error {
	var flags int
	if ev.Readable {
		flags |= portReadFlags
	}
	if ev.Writable {
		flags |= portWriteFlags
	}
	if ev.Extra.IsHUP() {
		flags |= unix.POLLHUP
	}
	if ev.Extra.IsPRI() {
		flags |= unix.POLLPRI
	}
	if flags == 0 {
		return nil
	}
	if err := b.port.AssociateFd(uintptr(fd), flags, ev.Key); err != nil {
		return os.NewSyscallError("port_associate", err)
	}
	return nil
}

// dissociate disarms fd, if it is still associated. Must be locked.
func (b *backend) dissociate(fd int) error {
	if !b.port.FdIsWatched(uintptr(fd)) {
		return nil
	}
	if err := b.port.DissociateFd(uintptr(fd)); err != nil && !errors.Is(err, unix.ENOENT) {
		return os.NewSyscallError("port_dissociate", err)
	}
	return nil
}

func (b *backend) wait(events *Events, timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		v := unix.NsecToTimespec(int64(timeout))
		ts = &v
	}
	buf := b.buf[:min(len(b.buf), events.Capacity())]
	n, err := b.port.Get(buf, 1, ts)
	if err != nil && !errors.Is(err, unix.ETIME) {
		return os.NewSyscallError("port_getn", err)
	}

	var notified bool
	for i := range buf[:n] {
		e := &buf[i]
		key, _ := e.Cookie.(uint64)
		if key == notifyKey {
			notified = true
			continue
		}
		flags := int(e.Events)
		events.push(Event{
			Key:      key,
			Readable: flags&portReadFlags != 0,
			Writable: flags&portWriteFlags != 0,
			Extra:    portExtra(flags),
		})
		// drop the reference to the cookie
		e.Cookie = nil
	}

	if notified {
		var drain [64]byte
		drainFD(b.notifyRead, drain[:])
		if err := b.armNotifier(); err != nil {
			return fmt.Errorf("poller: re-arm notifier: %w", err)
		}
	}
	return nil
}

func (b *backend) armNotifier() error {
	if err := b.port.AssociateFd(uintptr(b.notifyRead), unix.POLLIN, notifyKey); err != nil {
		return os.NewSyscallError("port_associate", err)
	}
	return nil
}

func (b *backend) notify() error {
	return wakeFD(b.notifyWrite, []byte{1})
}

func (b *backend) close() error {
	var err error
	if e := b.port.Close(); e != nil {
		err = os.NewSyscallError("close", e)
	}
	return errors.Join(err, closeFDs(b.notifyRead, b.notifyWrite))
}

func portExtra(flags int) (x EventExtra) {
	x.set(extraHUP, flags&unix.POLLHUP != 0)
	x.set(extraPRI, flags&unix.POLLPRI != 0)
	x.set(extraErr, flags&unix.POLLERR != 0)
	x.set(extraConnectFailed, flags&unix.POLLERR != 0 && flags&unix.POLLHUP != 0)
	return x
}
