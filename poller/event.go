package poller

import (
	"iter"
)

// DefaultEventsCapacity is the capacity of an [Events] buffer created with a
// non-positive capacity.
const DefaultEventsCapacity = 1024

type (
	// Event is both an interest, passed when registering a handle, and a
	// readiness report, delivered by [Poller.Wait].
	Event struct {
		// Key identifies the registration. Zero is reserved.
		Key uint64
		// Readable is interest in, or readiness for, reading.
		Readable bool
		// Writable is interest in, or readiness for, writing.
		Writable bool
		// Extra holds backend-specific detail, see [EventExtra].
		Extra EventExtra
	}

	// EventExtra carries conditions beyond readability and writability.
	// Backends that cannot observe a condition never report it.
	EventExtra struct {
		flags extraFlags
	}

	// Events is a reusable buffer of events, filled by [Poller.Wait].
	// It is not safe for concurrent use.
	Events struct {
		list []Event
	}

	extraFlags uint8
)

const (
	extraHUP extraFlags = 1 << iota
	extraPRI
	extraErr
	extraConnectFailed
)

// Readable returns an interest in readability only.
func Readable(key uint64) Event { return Event{Key: key, Readable: true} }

// Writable returns an interest in writability only.
func Writable(key uint64) Event { return Event{Key: key, Writable: true} }

// All returns an interest in both readability and writability.
func All(key uint64) Event { return Event{Key: key, Readable: true, Writable: true} }

// None returns an empty interest, which keeps the handle registered without
// delivering events.
func None(key uint64) Event { return Event{Key: key} }

// SetInterrupt adds or removes interest in hang-up conditions. Only epoll,
// poll, event ports and IOCP observe it.
func (ev *Event) SetInterrupt(active bool) { ev.Extra.set(extraHUP, active) }

// SetPriority adds or removes interest in urgent data. Only epoll, poll,
// event ports and IOCP observe it.
func (ev *Event) SetPriority(active bool) { ev.Extra.set(extraPRI, active) }

// IsInterrupt reports whether the event is a hang-up, which usually means
// the handle was closed by the peer.
func (ev Event) IsInterrupt() bool { return ev.Extra.IsHUP() }

// IsPriority reports whether urgent data is available.
func (ev Event) IsPriority() bool { return ev.Extra.IsPRI() }

// WithoutExtra returns a copy of the event without any extra detail, useful
// for comparing events.
func (ev Event) WithoutExtra() Event {
	ev.Extra = EventExtra{}
	return ev
}

// IsHUP reports a hang-up.
func (x EventExtra) IsHUP() bool { return x.flags&extraHUP != 0 }

// IsPRI reports urgent data.
func (x EventExtra) IsPRI() bool { return x.flags&extraPRI != 0 }

// IsErr reports an error condition on the handle, such as a failed
// connect. The second return value is false if the backend cannot report
// errors.
func (x EventExtra) IsErr() (failed bool, ok bool) {
	return x.flags&extraErr != 0, reportsErrors
}

// IsConnectFailed reports a failed connect. The second return value is false
// if the backend cannot report it.
func (x EventExtra) IsConnectFailed() (failed bool, ok bool) {
	return x.flags&extraConnectFailed != 0, reportsErrors
}

func (x *EventExtra) set(flag extraFlags, active bool) {
	if active {
		x.flags |= flag
	} else {
		x.flags &^= flag
	}
}

// NewEvents returns an empty buffer for up to capacity events per wait.
func NewEvents(capacity int) *Events {
	if capacity <= 0 {
		capacity = DefaultEventsCapacity
	}
	return &Events{list: make([]Event, 0, capacity)}
}

// Len returns the number of buffered events.
func (x *Events) Len() int { return len(x.list) }

// Capacity returns the maximum number of events a wait will return.
func (x *Events) Capacity() int { return cap(x.list) }

// At returns the i-th buffered event.
func (x *Events) At(i int) Event { return x.list[i] }

// Clear empties the buffer.
func (x *Events) Clear() { x.list = x.list[:0] }

// Iter yields the buffered events, in the order the backend returned them.
func (x *Events) Iter() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for _, ev := range x.list {
			if !yield(ev) {
				return
			}
		}
	}
}

func (x *Events) full() bool { return len(x.list) >= cap(x.list) }

func (x *Events) push(ev Event) { x.list = append(x.list, ev) }
