package threadpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-reactor/future"
)

// ThreadHandle is the result of a job submitted via [Push]. It is a
// future.Future[future.Result[T]], and may also be waited on with
// [ThreadHandle.Join].
//
// A job that panicked resolves to a [*future.PanicError].
type ThreadHandle[T any] struct {
	done   chan struct{}
	result future.Result[T]

	mu       sync.Mutex
	waker    future.Waker
	detached atomic.Bool
}

func newThreadHandle[T any]() *ThreadHandle[T] {
	return &ThreadHandle[T]{done: make(chan struct{})}
}

// Join blocks the calling goroutine until the job completes.
func (h *ThreadHandle[T]) Join() (T, error) {
	<-h.done
	return h.result.Get()
}

// JoinContext is [ThreadHandle.Join], but gives up once ctx is done. The
// job is not interrupted.
func (h *ThreadHandle[T]) JoinContext(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.result.Get()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed once the job completes.
func (h *ThreadHandle[T]) Done() <-chan struct{} { return h.done }

func (h *ThreadHandle[T]) Poll(cx *future.Context) (future.Result[T], bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
	}
	h.mu.Lock()
	h.waker = cx.Waker()
	h.mu.Unlock()
	select {
	case <-h.done:
		return h.result, true
	default:
		return future.Result[T]{}, false
	}
}

// Detach gives up interest in the result: the job still runs, but no
// waker will be invoked on completion.
func (h *ThreadHandle[T]) Detach() {
	h.detached.Store(true)
	h.mu.Lock()
	h.waker = nil
	h.mu.Unlock()
}

// IsDetached reports whether [ThreadHandle.Detach] was called.
func (h *ThreadHandle[T]) IsDetached() bool { return h.detached.Load() }

func (h *ThreadHandle[T]) complete(result future.Result[T]) {
	h.result = result
	close(h.done)
	if h.detached.Load() {
		return
	}
	h.mu.Lock()
	w := h.waker
	h.waker = nil
	h.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}
