//go:build windows

package poller

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/windows"
)

const (
	backendName   = `iocp`
	reportsErrors = true
)

// Completion keys, identifying the kind of each dequeued packet.
const (
	completionKeyAFD uintptr = iota + 1
	completionKeyNotify
	completionKeyPosted
)

type (
	// backend is the IOCP backend. Sockets are polled with IOCTL_AFD_POLL,
	// each completion of which is re-submitted until the socket is deleted.
	// Waitable handles are watched by the system thread pool, which posts a
	// packet to the port when the handle is signalled.
	backend struct {
		port   windows.Handle
		logger *logiface.Logger[logiface.Event]

		afdMu sync.Mutex
		afds  []*afdDevice

		mu        sync.RWMutex
		sockets   map[windows.Handle]*afdSocket
		waitables map[windows.Handle]*waitable

		// packets holds everything the port may return a pointer to, keyed
		// by that address, keeping it reachable until dequeued
		packetsMu sync.Mutex
		packets   map[uintptr]*packetRef

		// updates queues socket and waitable updates made while no wait is
		// in progress, for the next wait to apply
		updatesMu sync.Mutex
		updates   *queue.Queue
		polling   bool

		// buf is only used by wait, which the Poller serialises
		buf []completion
	}

	packetRef struct {
		packet any
		refs   int
	}

	completion struct {
		key        uintptr
		overlapped *windows.Overlapped
	}

	// afdSocket is the state of a registered socket. The iosb must be the
	// first field: the port returns its address.
	afdSocket struct {
		iosb windows.IO_STATUS_BLOCK
		info afdPollInfo

		pinner runtime.Pinner

		mu       sync.Mutex
		socket   windows.Handle
		base     windows.Handle
		device   *afdDevice
		interest Event
		mode     PollMode
		// errors keeps error conditions in the mask until an event is
		// delivered for a oneshot registration
		errors   bool
		status   socketStatus
		mask     uint32
		deleting bool
	}

	socketStatus uint8
)

const (
	socketIdle socketStatus = iota
	socketPolling
	socketCancelled
)

func newBackend(cfg *options) (*backend, error) {
	if err := loadAFD(); err != nil {
		return nil, fmt.Errorf("%w: ntdll: %w", ErrUnsupported, err)
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, os.NewSyscallError("CreateIoCompletionPort", err)
	}
	b := &backend{
		port:      port,
		logger:    cfg.logger,
		sockets:   make(map[windows.Handle]*afdSocket),
		waitables: make(map[windows.Handle]*waitable),
		packets:   make(map[uintptr]*packetRef),
		updates:   queue.New(),
		buf:       make([]completion, cfg.eventsCapacity),
	}
	// \Device\Afd is missing on old Windows and Wine
	device, err := openAFDDevice(port)
	if err != nil {
		_ = windows.CloseHandle(port)
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	b.afds = append(b.afds, device)
	return b, nil
}

func (b *backend) supportsLevel() bool { return true }

func (b *backend) supportsEdge() bool { return false }

func (b *backend) add(socket Handle, ev Event, mode PollMode) error {
	base, err := baseSocket(socket)
	if err != nil {
		return err
	}
	device, err := b.acquireDevice()
	if err != nil {
		return err
	}
	s := &afdSocket{
		socket:   socket,
		base:     base,
		device:   device,
		interest: ev,
		mode:     mode,
		errors:   true,
	}
	b.mu.Lock()
	if _, ok := b.sockets[socket]; ok {
		b.mu.Unlock()
		b.releaseDevice(device)
		return fmt.Errorf("%w: socket %#x", ErrAlreadyExists, socket)
	}
	b.sockets[socket] = s
	b.mu.Unlock()
	return b.update(s)
}

func (b *backend) modify(socket Handle, ev Event, mode PollMode) error {
	b.mu.RLock()
	s, ok := b.sockets[socket]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: socket %#x", ErrNotFound, socket)
	}
	s.mu.Lock()
	s.interest = ev
	s.mode = mode
	s.errors = true
	changed := s.status != socketPolling || s.mask != afdInterestMask(ev, true)
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return b.update(s)
}

func (b *backend) delete(socket Handle) error {
	b.mu.Lock()
	s, ok := b.sockets[socket]
	delete(b.sockets, socket)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.beginDelete(s)
}

// beginDelete cancels any poll in flight. The socket is released once idle.
func (b *backend) beginDelete(s *afdSocket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting {
		return nil
	}
	s.deleting = true
	switch s.status {
	case socketIdle:
		b.releaseDevice(s.device)
	case socketPolling:
		if err := s.device.cancel(s); err != nil {
			return err
		}
		s.status = socketCancelled
	}
	return nil
}

// update applies the current interest of p, a socket or waitable, now if a
// wait is in progress, otherwise at the start of the next wait.
func (b *backend) update(p any) error {
	b.updatesMu.Lock()
	if !b.polling {
		b.updates.Add(p)
		b.updatesMu.Unlock()
		return nil
	}
	b.updatesMu.Unlock()
	return b.apply(p)
}

func (b *backend) apply(p any) error {
	switch p := p.(type) {
	case *afdSocket:
		return b.applySocket(p)
	case *waitable:
		return b.applyWaitable(p)
	default:
		panic(fmt.Sprintf("poller: unexpected update %T", p))
	}
}

func (b *backend) applySocket(s *afdSocket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting {
		return nil
	}
	mask := afdInterestMask(s.interest, s.errors)
	switch s.status {
	case socketPolling:
		if mask == s.mask {
			return nil
		}
		// the cancelled completion re-submits with the new mask
		if err := s.device.cancel(s); err != nil {
			return err
		}
		s.status = socketCancelled
		return nil
	case socketCancelled:
		return nil
	}
	if mask == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&s.iosb))
	s.pinner.Pin(s)
	b.retain(addr, s)
	if err := s.device.poll(s, mask); err != nil {
		b.release(addr)
		s.pinner.Unpin()
		if errors.Is(err, windows.ERROR_INVALID_HANDLE) {
			// the socket was closed, it will never complete
			return nil
		}
		return err
	}
	s.status = socketPolling
	s.mask = mask
	return nil
}

// completeSocket handles the completion of a poll, returning the event to
// deliver, if any.
func (b *backend) completeSocket(s *afdSocket) (Event, bool, error) {
	s.mu.Lock()
	s.pinner.Unpin()
	s.status = socketIdle
	if s.deleting {
		s.mu.Unlock()
		b.releaseDevice(s.device)
		return Event{}, false, nil
	}

	ev := None(s.interest.Key)
	switch status := s.iosb.Status; {
	case status == windows.STATUS_CANCELLED:
	case int32(status) < 0:
		ev.Readable = true
		ev.Writable = true
	case s.info.HandleCount >= 1:
		mask := s.info.Handles[0].Events
		if mask&afdPollLocalClose != 0 {
			s.mu.Unlock()
			b.mu.Lock()
			if b.sockets[s.socket] == s {
				delete(b.sockets, s.socket)
			}
			b.mu.Unlock()
			return Event{}, false, b.beginDelete(s)
		}
		ev = afdEvent(s.interest.Key, mask)
	}

	ev.Readable = ev.Readable && s.interest.Readable
	ev.Writable = ev.Writable && s.interest.Writable
	deliver := ev.Readable || ev.Writable || ev.Extra.flags&s.interest.Extra.flags != 0
	if deliver && s.mode == Oneshot {
		s.interest = None(s.interest.Key)
		s.errors = false
	}
	s.mu.Unlock()

	if err := b.update(s); err != nil {
		return Event{}, false, err
	}
	return ev, deliver, nil
}

func (b *backend) acquireDevice() (*afdDevice, error) {
	b.afdMu.Lock()
	defer b.afdMu.Unlock()
	for _, d := range b.afds {
		if d.sockets < afdDeviceSockets {
			d.sockets++
			return d, nil
		}
	}
	d, err := openAFDDevice(b.port)
	if err != nil {
		return nil, err
	}
	d.sockets++
	b.afds = append(b.afds, d)
	return d, nil
}

func (b *backend) releaseDevice(d *afdDevice) {
	b.afdMu.Lock()
	d.sockets--
	b.afdMu.Unlock()
}

func (b *backend) retain(addr uintptr, packet any) {
	b.packetsMu.Lock()
	defer b.packetsMu.Unlock()
	if ref, ok := b.packets[addr]; ok {
		ref.refs++
		return
	}
	b.packets[addr] = &packetRef{packet: packet, refs: 1}
}

func (b *backend) release(addr uintptr) any {
	b.packetsMu.Lock()
	defer b.packetsMu.Unlock()
	ref, ok := b.packets[addr]
	if !ok {
		return nil
	}
	if ref.refs--; ref.refs == 0 {
		delete(b.packets, addr)
	}
	return ref.packet
}

func (b *backend) wait(events *Events, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := b.beginPolling(); err != nil {
			b.endPolling()
			return err
		}
		if !deadline.IsZero() {
			timeout = max(time.Until(deadline), 0)
		}
		n, err := b.dequeue(b.buf[:min(len(b.buf), events.Capacity()-events.Len())], timeout)
		b.endPolling()
		if err != nil {
			return err
		}

		var notified bool
		for _, c := range b.buf[:n] {
			ev, ok, err := b.complete(c)
			if err != nil {
				return err
			}
			switch {
			case c.key == completionKeyNotify:
				notified = true
			case ok:
				events.push(ev)
			}
		}

		if notified || events.Len() > 0 || timeout == 0 {
			return nil
		}
	}
}

func (b *backend) beginPolling() error {
	b.updatesMu.Lock()
	b.polling = true
	pending := make([]any, 0, b.updates.Length())
	for b.updates.Length() > 0 {
		pending = append(pending, b.updates.Remove())
	}
	b.updatesMu.Unlock()
	var errs []error
	for _, p := range pending {
		if err := b.apply(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *backend) endPolling() {
	b.updatesMu.Lock()
	b.polling = false
	b.updatesMu.Unlock()
}

// dequeue waits for the first completion, then takes any others without
// blocking.
func (b *backend) dequeue(buf []completion, timeout time.Duration) (int, error) {
	ms := completionTimeout(timeout)
	var n int
	for n < len(buf) {
		var (
			qty uint32
			c   completion
		)
		err := windows.GetQueuedCompletionStatus(b.port, &qty, &c.key, &c.overlapped, ms)
		if c.overlapped == nil && c.key == 0 {
			if err == nil || errors.Is(err, windows.WAIT_TIMEOUT) {
				break
			}
			return n, os.NewSyscallError("GetQueuedCompletionStatus", err)
		}
		// a failed I/O still dequeues its packet, with the status in the iosb
		buf[n] = c
		n++
		ms = 0
	}
	return n, nil
}

func (b *backend) complete(c completion) (Event, bool, error) {
	switch c.key {
	case completionKeyAFD:
		s, ok := b.release(uintptr(unsafe.Pointer(c.overlapped))).(*afdSocket)
		if !ok {
			return Event{}, false, nil
		}
		return b.completeSocket(s)
	case completionKeyPosted:
		switch p := b.release(uintptr(unsafe.Pointer(c.overlapped))).(type) {
		case *CompletionPacket:
			return p.event, true, nil
		case *waitable:
			return b.completeWaitable(p)
		}
	}
	return Event{}, false, nil
}

func (b *backend) post(overlapped *windows.Overlapped, packet any) error {
	addr := uintptr(unsafe.Pointer(overlapped))
	b.retain(addr, packet)
	if err := windows.PostQueuedCompletionStatus(b.port, 0, completionKeyPosted, overlapped); err != nil {
		b.release(addr)
		return os.NewSyscallError("PostQueuedCompletionStatus", err)
	}
	return nil
}

func (b *backend) notify() error {
	if err := windows.PostQueuedCompletionStatus(b.port, 0, completionKeyNotify, nil); err != nil {
		return os.NewSyscallError("PostQueuedCompletionStatus", err)
	}
	return nil
}

func (b *backend) close() error {
	b.mu.Lock()
	for _, w := range b.waitables {
		w.cancel()
	}
	clear(b.waitables)
	clear(b.sockets)
	b.mu.Unlock()

	var errs []error
	b.afdMu.Lock()
	for _, d := range b.afds {
		errs = append(errs, d.close())
	}
	b.afds = nil
	b.afdMu.Unlock()
	errs = append(errs, windows.CloseHandle(b.port))

	b.packetsMu.Lock()
	for _, ref := range b.packets {
		if s, ok := ref.packet.(*afdSocket); ok {
			s.pinner.Unpin()
		}
	}
	clear(b.packets)
	b.packetsMu.Unlock()
	return errors.Join(errs...)
}

// completionTimeout converts a timeout to milliseconds, rounding up, with
// negative meaning INFINITE.
func completionTimeout(timeout time.Duration) uint32 {
	if timeout < 0 {
		return windows.INFINITE
	}
	if timeout > (windows.INFINITE-2)*time.Millisecond {
		return windows.INFINITE - 1
	}
	return uint32((timeout + time.Millisecond - 1) / time.Millisecond)
}
