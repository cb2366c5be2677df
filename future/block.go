package future

import (
	"context"
)

// parker is a waker that unblocks a goroutine parked in Block.
type parker struct {
	ch chan struct{}
}

func newParker() *parker {
	return &parker{ch: make(chan struct{}, 1)}
}

func (p *parker) Wake() {
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

// Block polls f on the calling goroutine until it is ready, parking between
// polls. It must not be called from within a task, as it blocks the executor.
func Block[T any](f Future[T]) T {
	p := newParker()
	cx := NewContext(p)
	for {
		if v, ok := f.Poll(cx); ok {
			return v
		}
		<-p.ch
	}
}

// BlockContext is like [Block], but gives up once ctx is done, cancelling f
// and returning the context's error.
func BlockContext[T any](ctx context.Context, f Future[T]) (T, error) {
	p := newParker()
	cx := NewContext(p)
	for {
		if v, ok := f.Poll(cx); ok {
			return v, nil
		}
		select {
		case <-p.ch:
		case <-ctx.Done():
			Cancel(f)
			var zero T
			return zero, ctx.Err()
		}
	}
}
