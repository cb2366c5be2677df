//go:build windows

package poller

import (
	"golang.org/x/sys/windows"
)

// Handle is an OS handle: a socket, for most operations.
type Handle = windows.Handle

func isInterrupted(error) bool { return false }
