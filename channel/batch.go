package channel

import (
	"github.com/joeycumines/go-reactor/future"
)

// BatchConfig models optional configuration for [Channel.RecvBatch].
type BatchConfig struct {
	// MaxSize is the maximum number of values to receive. Setting this to a
	// value < 0 disables the maximum.
	//
	// Defaults to 16, if 0.
	MaxSize int

	// MinSize is the number of values to wait for, before receiving only
	// what is already buffered. Setting this to a value < 0 allows resolving
	// without receiving any values.
	//
	// Defaults to 1, if 0.
	MinSize int
}

// BatchFuture is the future returned by [Channel.RecvBatch]. It resolves to
// the number of values passed to the handler.
type BatchFuture[T any] struct {
	ch      *Channel[T]
	handler func(value T) error
	recv    *RecvFuture[T]
	maxSize int
	minSize int
	result  future.Result[int]
	done    bool
}

// RecvBatch returns a future that receives as many values as possible,
// given the constraints of cfg, which may be nil. Each value is passed to
// handler, and an error from handler ends the batch, with that error.
//
// If the channel is closed and drained, the batch ends with [ErrClosed], in
// which case the minimum size may not have been reached.
//
// To bound how long the minimum size is waited for, race the future against
// a timer. Values already passed to handler remain received.
func (c *Channel[T]) RecvBatch(cfg *BatchConfig, handler func(value T) error) *BatchFuture[T] {
	if handler == nil {
		panic(`channel: nil handler`)
	}
	x := &BatchFuture[T]{
		ch:      c,
		handler: handler,
		maxSize: 16,
		minSize: 1,
	}
	if cfg != nil {
		if cfg.MaxSize != 0 {
			x.maxSize = cfg.MaxSize
		}
		if cfg.MinSize != 0 {
			x.minSize = cfg.MinSize
		}
	}
	return x
}

func (x *BatchFuture[T]) Poll(cx *future.Context) (future.Result[int], bool) {
	for !x.done {
		if x.maxSize >= 0 && x.result.Value >= x.maxSize {
			x.done = true
			break
		}

		var value T
		var err error
		if x.result.Value < x.minSize {
			if x.recv == nil {
				x.recv = x.ch.Recv()
			}
			res, ok := x.recv.Poll(cx)
			if !ok {
				return future.Result[int]{}, false
			}
			x.recv = nil
			value, err = res.Get()
		} else {
			value, err = x.ch.TryRecv()
			if err == ErrEmpty {
				x.done = true
				break
			}
		}

		if err == nil {
			x.result.Value++
			err = x.handler(value)
		}
		if err != nil {
			x.result.Err = err
			x.done = true
		}
	}
	return x.result, true
}

// Cancel abandons the batch. Values already passed to the handler remain
// received.
func (x *BatchFuture[T]) Cancel() {
	if x.recv != nil {
		x.recv.Cancel()
		x.recv = nil
	}
}
