//go:build windows

package poller

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

// wtExecuteOnlyOnce is WT_EXECUTEONLYONCE.
const wtExecuteOnlyOnce = 0x00000008

var (
	modkernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procRegisterWaitForSingleObject = modkernel32.NewProc("RegisterWaitForSingleObject")
	procUnregisterWait              = modkernel32.NewProc("UnregisterWait")

	// waitCallback is shared, as callbacks are a limited resource. Its
	// context is an ID in waitRegistry.
	waitCallback = sync.OnceValue(func() uintptr {
		return windows.NewCallback(func(id uintptr, _ uintptr) uintptr {
			if w, ok := waitRegistry.LoadAndDelete(id); ok {
				w.(*waitable).signalled(id)
			}
			return 0
		})
	})
	waitRegistry sync.Map
	waitIDs      atomic.Uintptr
)

type (
	// waitable is the state of a registered waitable handle, e.g. a process
	// or an event object.
	waitable struct {
		// overlapped is only used for its address, to identify the packet
		overlapped windows.Overlapped

		b        *backend
		mu       sync.Mutex
		handle   windows.Handle
		interest Event
		mode     PollMode
		status   waitableStatus
		// id and wait are set while waiting
		id   uintptr
		wait windows.Handle
	}

	waitableStatus uint8

	// CompletionPacket is a custom event, delivered by [Poller.Post].
	CompletionPacket struct {
		overlapped windows.Overlapped
		event      Event
	}
)

const (
	waitableIdle waitableStatus = iota
	waitableWaiting
	waitableCancelled
)

// NewCompletionPacket returns a packet which delivers ev when posted.
func NewCompletionPacket(ev Event) *CompletionPacket {
	return &CompletionPacket{event: ev}
}

// Event returns the event the packet delivers.
func (c *CompletionPacket) Event() Event { return c.event }

// Post queues packet, delivering its event from a current or future call to
// [Poller.Wait], and waking it. A packet may be posted any number of times.
func (p *Poller) Post(packet *CompletionPacket) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.backend.post(&packet.overlapped, packet)
}

// AddWaitable registers a waitable handle, such as a process, or an event
// object. It is reported readable or writable, per the interest, once
// signalled. Waitables are keyed separately from sockets.
func (p *Poller) AddWaitable(h windows.Handle, interest Event, mode PollMode) error {
	if err := p.checkInterest(interest, mode); err != nil {
		return err
	}
	b := p.backend
	w := &waitable{
		b:        b,
		handle:   h,
		interest: interest,
		mode:     mode,
	}
	b.mu.Lock()
	if _, ok := b.waitables[h]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: waitable %#x", ErrAlreadyExists, h)
	}
	b.waitables[h] = w
	b.mu.Unlock()
	return b.update(w)
}

// ModifyWaitable changes the interest and mode of a waitable handle,
// re-arming it.
func (p *Poller) ModifyWaitable(h windows.Handle, interest Event, mode PollMode) error {
	if err := p.checkInterest(interest, mode); err != nil {
		return err
	}
	b := p.backend
	b.mu.RLock()
	w, ok := b.waitables[h]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: waitable %#x", ErrNotFound, h)
	}
	w.mu.Lock()
	w.interest = interest
	w.mode = mode
	idle := w.status == waitableIdle
	w.mu.Unlock()
	if !idle {
		return nil
	}
	return b.update(w)
}

// DeleteWaitable removes a waitable handle. Deleting a handle that is not
// registered is not an error.
func (p *Poller) DeleteWaitable(h windows.Handle) error {
	if p.closed.Load() {
		return ErrClosed
	}
	b := p.backend
	b.mu.Lock()
	w, ok := b.waitables[h]
	delete(b.waitables, h)
	b.mu.Unlock()
	if ok {
		w.cancel()
	}
	return nil
}

func (b *backend) applyWaitable(w *waitable) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != waitableIdle || (!w.interest.Readable && !w.interest.Writable) {
		return nil
	}
	id := waitIDs.Add(1)
	waitRegistry.Store(id, w)
	r1, _, err := procRegisterWaitForSingleObject.Call(
		uintptr(unsafe.Pointer(&w.wait)),
		uintptr(w.handle),
		waitCallback(),
		id,
		windows.INFINITE,
		wtExecuteOnlyOnce,
	)
	if r1 == 0 {
		waitRegistry.Delete(id)
		return os.NewSyscallError("RegisterWaitForSingleObject", err)
	}
	w.id = id
	w.status = waitableWaiting
	return nil
}

// signalled runs on a thread pool thread, once the handle is signalled.
func (w *waitable) signalled(id uintptr) {
	w.mu.Lock()
	if w.status != waitableWaiting || w.id != id {
		w.mu.Unlock()
		return
	}
	wait, key := w.wait, w.interest.Key
	w.status = waitableIdle
	w.wait = 0
	w.mu.Unlock()

	unregisterWait(wait)
	if err := w.b.post(&w.overlapped, w); err != nil {
		w.b.logger.Err().
			Err(err).
			Uint64(`key`, key).
			Log(`poller failed to post waitable`)
	}
}

func (b *backend) completeWaitable(w *waitable) (Event, bool, error) {
	w.mu.Lock()
	if w.status == waitableCancelled {
		w.mu.Unlock()
		return Event{}, false, nil
	}
	ev := w.interest
	if w.mode == Oneshot {
		w.interest = None(w.interest.Key)
	}
	w.mu.Unlock()
	if err := b.update(w); err != nil {
		return Event{}, false, err
	}
	return ev, ev.Readable || ev.Writable, nil
}

func (w *waitable) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == waitableWaiting {
		waitRegistry.Delete(w.id)
		unregisterWait(w.wait)
		w.wait = 0
	}
	w.status = waitableCancelled
}

// unregisterWait releases a wait, without waiting for a running callback.
func unregisterWait(wait windows.Handle) {
	_, _, _ = procUnregisterWait.Call(uintptr(wait))
}
