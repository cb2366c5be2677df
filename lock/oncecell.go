package lock

import (
	"sync/atomic"

	"github.com/joeycumines/go-reactor/event"
	"github.com/joeycumines/go-reactor/future"
)

const (
	onceUninit uint32 = iota
	onceInitializing
	onceInit
)

type (
	// OnceCell holds a value that is initialised at most once. Concurrent
	// initialisers are serialised: one runs, the others wait, and if the
	// running one fails, panics, or is cancelled, one waiter takes over.
	//
	// The zero value is an empty cell. A OnceCell must not be copied after
	// first use.
	OnceCell[T any] struct {
		state atomic.Uint32
		value T
		// woken when an initialiser finishes or gives up
		activeInitializers event.Event
		// woken only on success
		passiveWaiters event.Event
	}

	// OnceCellInit is the future returned by [OnceCell.GetOrTryInit].
	OnceCellInit[T any] struct {
		c            *OnceCell[T]
		fn           func() future.Future[future.Result[T]]
		init         future.Future[future.Result[T]]
		listener     *event.Listener
		initializing bool
		done         bool
	}

	// OnceCellWait is the future returned by [OnceCell.Wait].
	OnceCellWait[T any] struct {
		c        *OnceCell[T]
		listener *event.Listener
	}
)

// NewOnceCell returns a cell already holding value.
func NewOnceCell[T any](value T) *OnceCell[T] {
	c := &OnceCell[T]{value: value}
	c.state.Store(onceInit)
	return c
}

// Get returns the value, if initialised.
func (c *OnceCell[T]) Get() (value T, ok bool) {
	if c.state.Load() == onceInit {
		return c.value, true
	}
	return value, false
}

// IsInitialized reports whether the cell holds a value.
func (c *OnceCell[T]) IsInitialized() bool {
	return c.state.Load() == onceInit
}

// GetOrTryInit returns a future resolving to the value, running fn to
// produce it if the cell is empty and no other initialiser is active. If the
// initialiser resolves with an error, the cell stays empty, the error is
// returned, and one other waiting initialiser is woken to try.
func (c *OnceCell[T]) GetOrTryInit(fn func() future.Future[future.Result[T]]) *OnceCellInit[T] {
	return &OnceCellInit[T]{c: c, fn: fn}
}

// GetOrInit is [OnceCell.GetOrTryInit] for an infallible initialiser.
func (c *OnceCell[T]) GetOrInit(fn func() future.Future[T]) future.Future[T] {
	return future.Map[future.Result[T]](
		c.GetOrTryInit(func() future.Future[future.Result[T]] {
			return future.Map(fn(), func(v T) future.Result[T] { return future.Result[T]{Value: v} })
		}),
		func(r future.Result[T]) T { return r.Value },
	)
}

// GetOrInitBlocking is [OnceCell.GetOrInit] for a synchronous initialiser,
// blocking the calling goroutine.
func (c *OnceCell[T]) GetOrInitBlocking(fn func() T) T {
	if v, ok := c.Get(); ok {
		return v
	}
	return future.Block(c.GetOrInit(func() future.Future[T] {
		return future.Ready(fn())
	}))
}

// Set returns a future that stores value if the cell is empty, resolving to
// true if it did so, or false if the cell was initialised by someone else.
func (c *OnceCell[T]) Set(value T) future.Future[bool] {
	var set bool
	return future.Map[future.Result[T]](
		c.GetOrTryInit(func() future.Future[future.Result[T]] {
			set = true
			return future.Ready(future.Result[T]{Value: value})
		}),
		func(future.Result[T]) bool { return set },
	)
}

// SetBlocking is [OnceCell.Set], blocking the calling goroutine.
func (c *OnceCell[T]) SetBlocking(value T) bool {
	return future.Block(c.Set(value))
}

// Wait returns a future that resolves once the cell has been initialised,
// without ever running an initialiser.
func (c *OnceCell[T]) Wait() *OnceCellWait[T] {
	return &OnceCellWait[T]{c: c}
}

// WaitBlocking is [OnceCell.Wait], blocking the calling goroutine.
func (c *OnceCell[T]) WaitBlocking() T {
	return future.Block[T](c.Wait())
}

func (c *OnceCell[T]) abortInit() {
	c.state.Store(onceUninit)
	c.activeInitializers.Notify(1)
}

func (x *OnceCellInit[T]) Poll(cx *future.Context) (future.Result[T], bool) {
	if x.done {
		panic("lock: poll of completed once cell init")
	}
	if x.initializing {
		return x.pollInit(cx)
	}
	c := x.c
	for {
		switch c.state.Load() {
		case onceInit:
			x.cancelListener()
			x.done = true
			return future.Result[T]{Value: c.value}, true

		case onceInitializing:
			if x.listener == nil {
				x.listener = c.activeInitializers.Listen()
				continue
			}
			if _, ok := x.listener.Poll(cx); !ok {
				return future.Result[T]{}, false
			}
			x.listener = nil

		default:
			if !c.state.CompareAndSwap(onceUninit, onceInitializing) {
				continue
			}
			x.cancelListener()
			x.initializing = true
			return x.pollInit(cx)
		}
	}
}

func (x *OnceCellInit[T]) pollInit(cx *future.Context) (result future.Result[T], ok bool) {
	c := x.c
	panicking := true
	defer func() {
		if panicking {
			x.initializing = false
			x.done = true
			x.init = nil
			c.abortInit()
		}
	}()

	if x.init == nil {
		fn := x.fn
		x.fn = nil
		x.init = fn()
	}

	result, ok = x.init.Poll(cx)
	panicking = false
	if !ok {
		return result, false
	}

	x.initializing = false
	x.done = true
	x.init = nil
	if result.Err != nil {
		c.abortInit()
		return result, true
	}

	c.value = result.Value
	c.state.Store(onceInit)
	c.activeInitializers.NotifyAll()
	c.passiveWaiters.NotifyAll()
	return result, true
}

func (x *OnceCellInit[T]) cancelListener() {
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
}

// Cancel abandons the future. If it was running the initialiser, the
// initialiser is cancelled, and another waiter is woken to take over.
func (x *OnceCellInit[T]) Cancel() {
	if x.done {
		return
	}
	x.done = true
	x.cancelListener()
	if x.initializing {
		x.initializing = false
		future.Cancel(x.init)
		x.init = nil
		x.c.abortInit()
	}
}

func (x *OnceCellWait[T]) Poll(cx *future.Context) (T, bool) {
	c := x.c
	for {
		if v, ok := c.Get(); ok {
			if x.listener != nil {
				x.listener.Cancel()
				x.listener = nil
			}
			return v, true
		}
		if x.listener == nil {
			x.listener = c.passiveWaiters.Listen()
			continue
		}
		if _, ok := x.listener.Poll(cx); !ok {
			var zero T
			return zero, false
		}
		x.listener = nil
	}
}

// Cancel abandons the wait.
func (x *OnceCellWait[T]) Cancel() {
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
}
