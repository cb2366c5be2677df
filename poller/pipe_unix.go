//go:build unix

package poller

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// newPipe creates a non-blocking, close-on-exec pipe, returning the read
// and write ends.
func newPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, os.NewSyscallError("pipe", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, os.NewSyscallError("fcntl", err)
		}
	}
	return fds[0], fds[1], nil
}

// wakeFD writes buf to fd, treating a full buffer as success, since it
// means a wake-up is already pending.
func wakeFD(fd int, buf []byte) error {
	for {
		_, err := unix.Write(fd, buf)
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return os.NewSyscallError("write", err)
		}
	}
}

// drainFD reads from the non-blocking fd until it would block.
func drainFD(fd int, buf []byte) {
	for {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func closeFDs(fds ...int) error {
	var errs []error
	for _, fd := range fds {
		if fd < 0 {
			continue
		}
		if err := unix.Close(fd); err != nil {
			errs = append(errs, os.NewSyscallError("close", err))
		}
	}
	return errors.Join(errs...)
}
