//go:build unix

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Handle is an OS handle: a file descriptor.
type Handle = int

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}
