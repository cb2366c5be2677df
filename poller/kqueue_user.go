//go:build (darwin || dragonfly || freebsd) && !poller_poll

package poller

import (
	"golang.org/x/sys/unix"
)

// kqueueNotifier triggers an EVFILT_USER event.
type kqueueNotifier struct{}

func newKqueueNotifier() (kqueueNotifier, error) {
	return kqueueNotifier{}, nil
}

func (kqueueNotifier) register(b *backend) error {
	return b.submit([]unix.Kevent_t{userKevent(unix.EV_ADD|unix.EV_CLEAR|unix.EV_RECEIPT, 0)})
}

func (kqueueNotifier) isNotification(k *unix.Kevent_t) bool {
	return int(k.Filter) == unix.EVFILT_USER && k.Ident == 0
}

// rearm is a no-op, the event was registered with EV_CLEAR.
func (kqueueNotifier) rearm(*backend) error { return nil }

func (kqueueNotifier) notify(b *backend) error {
	return b.submit([]unix.Kevent_t{userKevent(unix.EV_ADD|unix.EV_RECEIPT, unix.NOTE_TRIGGER)})
}

func (kqueueNotifier) close() error { return nil }

func userKevent(flags int, fflags uint32) (k unix.Kevent_t) {
	unix.SetKevent(&k, 0, unix.EVFILT_USER, flags)
	k.Fflags = fflags
	return k
}
