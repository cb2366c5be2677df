//go:build openbsd && !poller_poll

package poller

import (
	"golang.org/x/sys/unix"
)

// kqueueNotifier is a self-pipe, the read end of which is registered in
// oneshot mode, re-armed after each delivery.
type kqueueNotifier struct {
	readFD  int
	writeFD int
}

func newKqueueNotifier() (kqueueNotifier, error) {
	r, w, err := newPipe()
	if err != nil {
		return kqueueNotifier{}, err
	}
	return kqueueNotifier{readFD: r, writeFD: w}, nil
}

func (x kqueueNotifier) register(b *backend) error {
	return b.submitFD(x.readFD, true, false, unix.EV_ONESHOT)
}

func (x kqueueNotifier) isNotification(k *unix.Kevent_t) bool {
	return int(k.Filter) == unix.EVFILT_READ && int(k.Ident) == x.readFD
}

func (x kqueueNotifier) rearm(b *backend) error {
	var buf [64]byte
	drainFD(x.readFD, buf[:])
	return x.register(b)
}

func (x kqueueNotifier) notify(*backend) error {
	return wakeFD(x.writeFD, []byte{1})
}

func (x kqueueNotifier) close() error {
	return closeFDs(x.readFD, x.writeFD)
}
