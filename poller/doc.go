// Package poller provides a uniform interface to the readiness notification
// facility of the operating system: epoll on Linux and Android, kqueue on
// the BSDs and Darwin, event ports on Solaris and illumos, IOCP (via AFD)
// on Windows, and poll(2) on any other Unix, or anywhere with the
// poller_poll build tag.
//
// A [Poller] watches OS handles, each registered with a caller-chosen key
// and an interest in readability and/or writability. [Poller.Wait] blocks
// until at least one watched handle is ready, the timeout elapses, or
// [Poller.Notify] is called, filling an [Events] buffer with what happened.
//
// # Modes
//
// Each registration has a [PollMode]. In the default, [Oneshot], interest
// is cleared once an event is delivered, and must be re-armed with
// [Poller.Modify]. [Level] reports for as long as the condition holds,
// [Edge] reports only on transitions, and [EdgeOneshot] combines the two.
// Use [Poller.SupportsLevel] and [Poller.SupportsEdge] to check what the
// current backend can do; unsupported modes fail with [ErrUnsupported].
//
// # Keys
//
// Key 0 is reserved for internal use, and is refused with [ErrInvalidKey].
//
// # Safety
//
// Always call [Poller.Delete] before closing a handle, to avoid stale events
// being delivered for a recycled handle.
package poller
