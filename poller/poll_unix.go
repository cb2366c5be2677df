//go:build poller_poll || (unix && !linux && !darwin && !dragonfly && !freebsd && !openbsd && !solaris)

package poller

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const (
	backendName   = `poll`
	reportsErrors = true

	pollReadFlags  = unix.POLLIN | unix.POLLPRI | unix.POLLHUP | unix.POLLERR
	pollWriteFlags = unix.POLLOUT | unix.POLLHUP | unix.POLLERR
)

type (
	// backend is the poll(2) backend. The fd table is owned by whoever
	// holds mu, which includes a waiting poller for the duration of the
	// syscall. Modifications wake the waiter via the notify pipe, then
	// queue on mu.
	backend struct {
		mu sync.Mutex
		// opsComplete is signalled when waitingOps drops to zero, or on
		// notify
		opsComplete *sync.Cond
		waitingOps  atomic.Int64
		// notified is set by notify, and distinguishes user notifications
		// from ones sent by modifications
		notified atomic.Bool

		notifyRead  int
		notifyWrite int

		// pollFDs and entries are index-aligned, index 0 being the notifier
		pollFDs []unix.PollFd
		entries []pollEntry
		index   map[int]int
	}

	pollEntry struct {
		fd     int
		key    uint64
		events int16
		// oneshot registrations are disarmed after delivering an event
		oneshot bool
	}
)

func newBackend(*options) (*backend, error) {
	r, w, err := newPipe()
	if err != nil {
		return nil, err
	}
	b := &backend{
		notifyRead:  r,
		notifyWrite: w,
		pollFDs:     []unix.PollFd{{Fd: int32(r), Events: unix.POLLIN}},
		entries:     []pollEntry{{fd: r}},
		index:       make(map[int]int),
	}
	b.opsComplete = sync.NewCond(&b.mu)
	return b, nil
}

func (b *backend) supportsLevel() bool { return true }

func (b *backend) supportsEdge() bool { return false }

func (b *backend) add(fd Handle, ev Event, mode PollMode) error {
	if fd == b.notifyRead {
		return fmt.Errorf("%w: fd %d is the notifier", ErrAlreadyExists, fd)
	}
	return b.modifyFDs(func() error {
		if _, ok := b.index[fd]; ok {
			return fmt.Errorf("%w: fd %d", ErrAlreadyExists, fd)
		}
		b.index[fd] = len(b.entries)
		b.entries = append(b.entries, pollEntry{})
		b.pollFDs = append(b.pollFDs, unix.PollFd{})
		b.set(len(b.entries)-1, fd, ev, mode)
		return nil
	})
}

func (b *backend) modify(fd Handle, ev Event, mode PollMode) error {
	return b.modifyFDs(func() error {
		i, ok := b.index[fd]
		if !ok {
			return fmt.Errorf("%w: fd %d", ErrNotFound, fd)
		}
		b.set(i, fd, ev, mode)
		return nil
	})
}

func (b *backend) delete(fd Handle) error {
	return b.modifyFDs(func() error {
		i, ok := b.index[fd]
		if !ok {
			return nil
		}
		delete(b.index, fd)
		last := len(b.entries) - 1
		if i != last {
			b.entries[i] = b.entries[last]
			b.pollFDs[i] = b.pollFDs[last]
			b.index[b.entries[i].fd] = i
		}
		b.entries = b.entries[:last]
		b.pollFDs = b.pollFDs[:last]
		return nil
	})
}

// set updates entry i, which must be locked.
func (b *backend) set(i int, fd int, ev Event, mode PollMode) {
	var events int16
	if ev.Readable {
		events |= unix.POLLIN | unix.POLLPRI
	}
	if ev.Writable {
		events |= unix.POLLOUT
	}
	if ev.Extra.IsHUP() {
		events |= unix.POLLHUP
	}
	if ev.Extra.IsPRI() {
		events |= unix.POLLPRI
	}
	b.entries[i] = pollEntry{
		fd:      fd,
		key:     ev.Key,
		events:  events,
		oneshot: mode == Oneshot,
	}
	b.arm(i, events)
}

// arm sets the interest of pollFDs[i]. Entries with no interest are skipped
// by the kernel, as a negative fd, else they would still report hang-ups.
func (b *backend) arm(i int, events int16) {
	if events == 0 {
		b.pollFDs[i] = unix.PollFd{Fd: -1}
		return
	}
	b.pollFDs[i] = unix.PollFd{Fd: int32(b.entries[i].fd), Events: events}
}

func (b *backend) modifyFDs(fn func() error) error {
	b.waitingOps.Add(1)
	sent := wakeFD(b.notifyWrite, []byte{1}) == nil
	b.mu.Lock()
	if sent {
		b.popNotification()
	}
	err := fn()
	if b.waitingOps.Add(-1) == 0 {
		b.opsComplete.Signal()
	}
	b.mu.Unlock()
	return err
}

func (b *backend) wait(events *Events, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		for {
			if b.notified.Swap(false) {
				b.popNotification()
				return nil
			}
			if b.waitingOps.Load() == 0 {
				break
			}
			b.opsComplete.Wait()
		}

		if !deadline.IsZero() {
			timeout = max(time.Until(deadline), 0)
		}
		n, err := unix.Poll(b.pollFDs, timeoutMillis(timeout))
		if err != nil {
			return os.NewSyscallError("poll", err)
		}

		notified := b.pollFDs[0].Revents != 0
		if notified {
			n--
			var buf [64]byte
			drainFD(b.notifyRead, buf[:])
		}
		if !b.notified.Swap(false) && n == 0 && notified {
			// woken by a modification
			continue
		}

		for i := 1; i < len(b.pollFDs) && n > 0 && !events.full(); i++ {
			revents := b.pollFDs[i].Revents
			if revents == 0 {
				continue
			}
			n--
			b.pollFDs[i].Revents = 0
			events.push(Event{
				Key:      b.entries[i].key,
				Readable: revents&pollReadFlags != 0,
				Writable: revents&pollWriteFlags != 0,
				Extra:    pollExtra(revents),
			})
			if b.entries[i].oneshot {
				b.entries[i].events = 0
				b.arm(i, 0)
			}
		}
		return nil
	}
}

func (b *backend) popNotification() {
	var buf [1]byte
	_, _ = unix.Read(b.notifyRead, buf[:])
}

func (b *backend) notify() error {
	if !b.notified.Swap(true) {
		if err := wakeFD(b.notifyWrite, []byte{1}); err != nil {
			return err
		}
		b.opsComplete.Signal()
	}
	return nil
}

func (b *backend) close() error {
	return closeFDs(b.notifyRead, b.notifyWrite)
}

func pollExtra(revents int16) (x EventExtra) {
	x.set(extraHUP, revents&unix.POLLHUP != 0)
	x.set(extraPRI, revents&unix.POLLPRI != 0)
	x.set(extraErr, revents&unix.POLLERR != 0)
	x.set(extraConnectFailed, revents&(unix.POLLERR|unix.POLLHUP) != 0)
	return x
}
