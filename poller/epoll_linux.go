//go:build !poller_poll

package poller

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	backendName   = `epoll`
	reportsErrors = true

	epollReadFlags  = unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI
	epollWriteFlags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
)

// backend is the epoll backend.
type backend struct {
	epfd     int
	notifier epollNotifier
	// buf is only used by wait, which the Poller serialises
	buf []unix.EpollEvent
}

// epollNotifier is an eventfd, or a pipe where eventfd is unavailable.
type epollNotifier struct {
	readFD  int
	writeFD int
}

func newBackend(cfg *options) (*backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	notifier, err := newEpollNotifier()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	b := &backend{
		epfd:     epfd,
		notifier: notifier,
		buf:      make([]unix.EpollEvent, cfg.eventsCapacity),
	}
	if err := b.ctl(unix.EPOLL_CTL_ADD, notifier.readFD, Readable(notifyKey), Oneshot); err != nil {
		_ = b.close()
		return nil, fmt.Errorf("poller: register notifier: %w", err)
	}
	return b, nil
}

func (b *backend) supportsLevel() bool { return true }

func (b *backend) supportsEdge() bool { return true }

func (b *backend) add(fd Handle, ev Event, mode PollMode) error {
	err := b.ctl(unix.EPOLL_CTL_ADD, fd, ev, mode)
	if errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("%w: fd %d: %w", ErrAlreadyExists, fd, err)
	}
	return err
}

func (b *backend) modify(fd Handle, ev Event, mode PollMode) error {
	err := b.ctl(unix.EPOLL_CTL_MOD, fd, ev, mode)
	if errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%w: fd %d: %w", ErrNotFound, fd, err)
	}
	return err
}

func (b *backend) delete(fd Handle) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == nil || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return os.NewSyscallError("epoll_ctl", err)
}

func (b *backend) ctl(op int, fd int, ev Event, mode PollMode) error {
	e := unix.EpollEvent{Events: epollFlags(ev, mode)}
	e.Fd = int32(uint32(ev.Key))
	e.Pad = int32(uint32(ev.Key >> 32))
	if err := unix.EpollCtl(b.epfd, op, fd, &e); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func (b *backend) wait(events *Events, timeout time.Duration) error {
	buf := b.buf[:min(len(b.buf), events.Capacity())]
	n, err := unix.EpollWait(b.epfd, buf, timeoutMillis(timeout))
	if err != nil {
		return os.NewSyscallError("epoll_wait", err)
	}
	var notified bool
	for _, e := range buf[:n] {
		key := uint64(uint32(e.Fd)) | uint64(uint32(e.Pad))<<32
		if key == notifyKey {
			notified = true
			continue
		}
		events.push(Event{
			Key:      key,
			Readable: e.Events&epollReadFlags != 0,
			Writable: e.Events&epollWriteFlags != 0,
			Extra:    epollExtra(e.Events),
		})
	}
	if notified {
		b.notifier.clear()
		if err := b.ctl(unix.EPOLL_CTL_MOD, b.notifier.readFD, Readable(notifyKey), Oneshot); err != nil {
			return fmt.Errorf("poller: re-arm notifier: %w", err)
		}
	}
	return nil
}

func (b *backend) notify() error {
	return b.notifier.notify()
}

func (b *backend) close() error {
	return errors.Join(b.notifier.close(), closeFDs(b.epfd))
}

func epollFlags(ev Event, mode PollMode) uint32 {
	var flags uint32
	switch mode {
	case Oneshot:
		flags = unix.EPOLLONESHOT
	case Edge:
		flags = unix.EPOLLET
	case EdgeOneshot:
		flags = unix.EPOLLET | unix.EPOLLONESHOT
	}
	if ev.Readable {
		flags |= epollReadFlags
	}
	if ev.Writable {
		flags |= epollWriteFlags
	}
	if ev.Extra.IsHUP() {
		flags |= unix.EPOLLHUP
	}
	if ev.Extra.IsPRI() {
		flags |= unix.EPOLLPRI
	}
	return flags
}

func epollExtra(flags uint32) (x EventExtra) {
	x.set(extraHUP, flags&unix.EPOLLHUP != 0)
	x.set(extraPRI, flags&unix.EPOLLPRI != 0)
	x.set(extraErr, flags&unix.EPOLLERR != 0)
	x.set(extraConnectFailed, flags&unix.EPOLLERR != 0 && flags&unix.EPOLLHUP != 0)
	return x
}

func newEpollNotifier() (epollNotifier, error) {
	if fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK); err == nil {
		return epollNotifier{readFD: fd, writeFD: fd}, nil
	}
	r, w, err := newPipe()
	if err != nil {
		return epollNotifier{}, err
	}
	return epollNotifier{readFD: r, writeFD: w}, nil
}

func (x epollNotifier) isEventfd() bool { return x.readFD == x.writeFD }

func (x epollNotifier) notify() error {
	if x.isEventfd() {
		var buf [8]byte
		binary.NativeEndian.PutUint64(buf[:], 1)
		return wakeFD(x.writeFD, buf[:])
	}
	return wakeFD(x.writeFD, []byte{1})
}

func (x epollNotifier) clear() {
	var buf [64]byte
	if x.isEventfd() {
		drainFD(x.readFD, buf[:8])
	} else {
		drainFD(x.readFD, buf[:])
	}
}

func (x epollNotifier) close() error {
	if x.isEventfd() {
		return closeFDs(x.readFD)
	}
	return closeFDs(x.readFD, x.writeFD)
}
