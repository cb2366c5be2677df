package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-reactor/event"
	"github.com/joeycumines/go-reactor/future"
)

var (
	// ErrClosed is returned when sending on a closed channel, or receiving
	// from a closed channel that is empty.
	ErrClosed = errors.New("channel: closed")

	// ErrFull is returned by [Channel.TrySend] when the channel is full.
	ErrFull = errors.New("channel: full")

	// ErrEmpty is returned by [Channel.TryRecv] when the channel is empty.
	ErrEmpty = errors.New("channel: empty")
)

// Channel is a multi-producer, multi-consumer queue, safe for concurrent
// use, whose send and receive operations suspend cooperatively.
//
// Closing a channel stops sends, but items already buffered may still be
// received.
type Channel[T any] struct {
	mu sync.Mutex
	// items is the buffer of T values
	items *queue.Queue
	// capacity is zero for unbounded channels
	capacity int
	closed   bool

	// sendOps is notified when space frees up
	sendOps event.Event
	// recvOps is notified when items arrive
	recvOps event.Event
}

// Bounded returns a channel buffering up to capacity items. It panics if
// capacity is less than one.
func Bounded[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		panic("channel: capacity must be at least 1")
	}
	return &Channel[T]{items: queue.New(), capacity: capacity}
}

// Unbounded returns a channel whose sends never wait.
func Unbounded[T any]() *Channel[T] {
	return &Channel[T]{items: queue.New()}
}

// TrySend sends v without waiting, failing with [ErrFull] or [ErrClosed].
func (c *Channel[T]) TrySend(v T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.capacity != 0 && c.items.Length() >= c.capacity {
		c.mu.Unlock()
		return ErrFull
	}
	c.items.Add(v)
	c.mu.Unlock()
	c.recvOps.NotifyAdditional(1)
	return nil
}

// TryRecv receives without waiting, failing with [ErrEmpty], or with
// [ErrClosed] once the channel is closed and drained.
func (c *Channel[T]) TryRecv() (T, error) {
	c.mu.Lock()
	if c.items.Length() == 0 {
		closed := c.closed
		c.mu.Unlock()
		var zero T
		if closed {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}
	// nil interface values are stored as nil
	v, _ := c.items.Remove().(T)
	c.mu.Unlock()
	if c.capacity != 0 {
		c.sendOps.NotifyAdditional(1)
	}
	return v, nil
}

// Send returns a future that sends v once there is space, resolving to nil,
// or to [ErrClosed].
func (c *Channel[T]) Send(v T) *SendFuture[T] {
	return &SendFuture[T]{ch: c, value: v}
}

// SendBlocking blocks the calling goroutine until v is sent.
func (c *Channel[T]) SendBlocking(v T) error {
	return future.Block[error](c.Send(v))
}

// SendContext is [Channel.SendBlocking], but gives up once ctx is done.
func (c *Channel[T]) SendContext(ctx context.Context, v T) error {
	err, ctxErr := future.BlockContext[error](ctx, c.Send(v))
	if ctxErr != nil {
		return ctxErr
	}
	return err
}

// Recv returns a future that receives an item, or resolves to [ErrClosed]
// once the channel is closed and drained.
func (c *Channel[T]) Recv() *RecvFuture[T] {
	return &RecvFuture[T]{ch: c}
}

// RecvBlocking blocks the calling goroutine until an item is received.
func (c *Channel[T]) RecvBlocking() (T, error) {
	return future.Block[future.Result[T]](c.Recv()).Get()
}

// RecvContext is [Channel.RecvBlocking], but gives up once ctx is done.
func (c *Channel[T]) RecvContext(ctx context.Context) (T, error) {
	res, err := future.BlockContext[future.Result[T]](ctx, c.Recv())
	if err != nil {
		return res.Value, err
	}
	return res.Get()
}

// Close closes the channel, waking all waiting senders and receivers. It
// returns false if the channel was already closed.
func (c *Channel[T]) Close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()
	c.sendOps.NotifyAll()
	c.recvOps.NotifyAll()
	return true
}

// IsClosed reports whether the channel is closed.
func (c *Channel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of buffered items.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Length()
}

// Cap returns the capacity, or zero if the channel is unbounded.
func (c *Channel[T]) Cap() int { return c.capacity }

// IsEmpty reports whether there are no buffered items.
func (c *Channel[T]) IsEmpty() bool { return c.Len() == 0 }

// IsFull reports whether a send would have to wait. Unbounded channels are
// never full.
func (c *Channel[T]) IsFull() bool {
	return c.capacity != 0 && c.Len() >= c.capacity
}

// SendFuture is the future returned by [Channel.Send].
type SendFuture[T any] struct {
	ch       *Channel[T]
	value    T
	listener *event.Listener
	err      error
	done     bool
}

func (x *SendFuture[T]) Poll(cx *future.Context) (error, bool) {
	for !x.done {
		err := x.ch.TrySend(x.value)
		if err != ErrFull {
			x.finish(err)
			break
		}
		if x.listener == nil {
			x.listener = x.ch.sendOps.Listen()
			continue
		}
		if _, ok := x.listener.Poll(cx); !ok {
			return nil, false
		}
		x.listener = nil
	}
	return x.err, true
}

// Cancel abandons the send, passing on any wake-up to the next sender.
func (x *SendFuture[T]) Cancel() {
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
}

func (x *SendFuture[T]) finish(err error) {
	x.Cancel()
	var zero T
	x.value = zero
	x.err = err
	x.done = true
}

// RecvFuture is the future returned by [Channel.Recv].
type RecvFuture[T any] struct {
	ch       *Channel[T]
	listener *event.Listener
	result   future.Result[T]
	done     bool
}

func (x *RecvFuture[T]) Poll(cx *future.Context) (future.Result[T], bool) {
	for !x.done {
		v, err := x.ch.TryRecv()
		if err != ErrEmpty {
			x.Cancel()
			x.result = future.Result[T]{Value: v, Err: err}
			x.done = true
			break
		}
		if x.listener == nil {
			x.listener = x.ch.recvOps.Listen()
			continue
		}
		if _, ok := x.listener.Poll(cx); !ok {
			return future.Result[T]{}, false
		}
		x.listener = nil
	}
	return x.result, true
}

// Cancel abandons the receive, passing on any wake-up to the next receiver.
func (x *RecvFuture[T]) Cancel() {
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
}
