package threadpool

import (
	"errors"
	"io"

	"github.com/joeycumines/go-reactor/future"
)

// DefaultUnblockCapacity is the buffer size of an [Unblock], if not
// otherwise specified.
const DefaultUnblockCapacity = 8 << 20

const unblockChunkSize = 8 << 10

var (
	// ErrNotReader is returned when reading from an [Unblock] whose value is
	// not an io.Reader.
	ErrNotReader = errors.New("threadpool: unblock: not an io.Reader")

	// ErrNotWriter is returned when writing to an [Unblock] whose value is
	// not an io.Writer.
	ErrNotWriter = errors.New("threadpool: unblock: not an io.Writer")

	// ErrNotSeeker is returned when seeking an [Unblock] whose value is not
	// an io.Seeker.
	ErrNotSeeker = errors.New("threadpool: unblock: not an io.Seeker")

	// ErrUnblockClosed is returned by operations on a closed [Unblock].
	ErrUnblockClosed = errors.New("threadpool: unblock: closed")
)

type unblockState uint8

const (
	unblockIdle unblockState = iota
	unblockReading
	unblockWriting
	// unblockBusy covers jobs that return the value, without a pipe
	unblockBusy
	unblockClosed
)

type unblockResult[T any] struct {
	value T
	err   error
}

// Unblock adapts a blocking value, typically an io.Reader and/or
// io.Writer, for use from cooperative tasks. Reads and writes are performed
// by a job on a [Pool], and exchanged through a bounded buffer.
//
// While reading, the job keeps reading ahead until the buffer is full.
// Switching to any other operation stops it, discarding what was buffered.
// While writing, data is only guaranteed to reach the value once
// [Unblock.Flush] or [Unblock.Close] resolves. If the value implements
// Flush() error, it is called whenever writing stops.
//
// An Unblock is not safe for concurrent use, and each of its futures must
// be polled to completion before the next operation is started. A stop may
// wait on a blocked read or write of the value.
type Unblock[T any] struct {
	pool     *Pool
	capacity int
	state    unblockState
	value    T
	pipe     *pipe
	task     *ThreadHandle[unblockResult[T]]
	// closing is set while a close of the value is running
	closing bool
	// err is set if a job panicked, losing the value
	err error
}

// NewUnblock wraps value, running its operations on p, or [Shared] if p is
// nil.
func NewUnblock[T any](p *Pool, value T) *Unblock[T] {
	return NewUnblockCapacity(p, DefaultUnblockCapacity, value)
}

// NewUnblockCapacity is [NewUnblock] with a custom buffer capacity, which
// must be at least one.
func NewUnblockCapacity[T any](p *Pool, capacity int, value T) *Unblock[T] {
	if capacity < 1 {
		panic("threadpool: unblock capacity must be at least 1")
	}
	if p == nil {
		p = Shared()
	}
	return &Unblock[T]{pool: p, capacity: capacity, value: value}
}

// Read returns a future reading into b, resolving to the number of bytes
// read, or an error such as io.EOF.
func (u *Unblock[T]) Read(b []byte) future.Future[future.Result[int]] {
	return future.Func[future.Result[int]](func(cx *future.Context) (future.Result[int], bool) {
		n, err, ok := u.pollRead(cx, b)
		return future.Result[int]{Value: n, Err: err}, ok
	})
}

// Write returns a future writing all of b, resolving to the number of bytes
// written, which is less than len(b) only on error.
func (u *Unblock[T]) Write(b []byte) future.Future[future.Result[int]] {
	return &unblockWrite[T]{u: u, b: b}
}

// Flush returns a future that stops any running operation, resolving once
// written data has reached the value.
func (u *Unblock[T]) Flush() future.Future[error] {
	return future.Func[error](func(cx *future.Context) (error, bool) {
		if u.state == unblockClosed {
			return u.err, true
		}
		return u.pollStop(cx)
	})
}

// Close returns a future that flushes, then closes the value if it is an
// io.Closer. Further operations fail with [ErrUnblockClosed].
func (u *Unblock[T]) Close() future.Future[error] {
	return future.Func[error](u.pollClose)
}

// Seek returns a future seeking the value, which must be an io.Seeker.
// Data read ahead is discarded, so offsets relative to io.SeekCurrent
// count from what the job has read, not what was returned.
func (u *Unblock[T]) Seek(offset int64, whence int) future.Future[future.Result[int64]] {
	return future.Map(WithValue(u, func(value *T) future.Result[int64] {
		s, ok := any(*value).(io.Seeker)
		if !ok {
			return future.Result[int64]{Err: ErrNotSeeker}
		}
		n, err := s.Seek(offset, whence)
		return future.Result[int64]{Value: n, Err: err}
	}), func(res future.Result[future.Result[int64]]) future.Result[int64] {
		if res.Err != nil {
			return future.Result[int64]{Err: res.Err}
		}
		return res.Value
	})
}

// Value returns a future that stops any running operation, then resolves
// to the value. Errors from the stopped operation are ignored.
func (u *Unblock[T]) Value() future.Future[future.Result[T]] {
	return future.Func[future.Result[T]](func(cx *future.Context) (future.Result[T], bool) {
		if _, ok := u.pollStop(cx); !ok {
			return future.Result[T]{}, false
		}
		if u.state == unblockClosed {
			return future.Result[T]{Err: u.closedErr()}, true
		}
		return future.Result[T]{Value: u.value}, true
	})
}

// WithValue returns a future that stops any running operation, then calls
// fn with the value, on the pool. Errors from the stopped operation are
// ignored.
func WithValue[T, R any](u *Unblock[T], fn func(value *T) R) future.Future[future.Result[R]] {
	return &unblockWithValue[T, R]{u: u, fn: fn}
}

func (u *Unblock[T]) closedErr() error {
	if u.err != nil {
		return u.err
	}
	return ErrUnblockClosed
}

// start runs job with the value on the pool, leaving the caller to set the
// new state.
func (u *Unblock[T]) start(job func(value T) unblockResult[T]) error {
	value := u.value
	h, err := Push(u.pool, func() unblockResult[T] { return job(value) })
	if err != nil {
		return err
	}
	var zero T
	u.value = zero
	u.task = h
	return nil
}

// pollStop waits for the running job, if any, to return the value,
// resolving to the job's error.
func (u *Unblock[T]) pollStop(cx *future.Context) (error, bool) {
	switch u.state {
	case unblockReading:
		u.pipe.closeReader()
	case unblockWriting:
		u.pipe.closeWriter()
	case unblockBusy:
	default:
		return nil, true
	}
	res, ok := u.task.Poll(cx)
	if !ok {
		return nil, false
	}
	u.task, u.pipe = nil, nil
	if res.Err != nil {
		u.state, u.err = unblockClosed, res.Err
		return res.Err, true
	}
	u.state, u.value = unblockIdle, res.Value.value
	return res.Value.err, true
}

func (u *Unblock[T]) pollRead(cx *future.Context, b []byte) (int, error, bool) {
	if len(b) == 0 {
		return 0, nil, true
	}
	for {
		switch u.state {
		case unblockIdle:
			r, ok := any(u.value).(io.Reader)
			if !ok {
				return 0, ErrNotReader, true
			}
			p := newPipe(u.capacity)
			if err := u.start(func(value T) unblockResult[T] {
				return unblockResult[T]{value: value, err: p.fill(r)}
			}); err != nil {
				return 0, err, true
			}
			u.state, u.pipe = unblockReading, p

		case unblockReading:
			n, err, ok := u.pipe.pollRead(cx, b)
			if !ok {
				return 0, nil, false
			}
			if err == nil {
				return n, nil, true
			}
			// drained, and the job has finished
			err, ok = u.pollStop(cx)
			if !ok {
				return 0, nil, false
			}
			if err != nil {
				return 0, err, true
			}
			return 0, io.EOF, true

		case unblockClosed:
			return 0, u.closedErr(), true

		default:
			if err, ok := u.pollStop(cx); !ok {
				return 0, nil, false
			} else if err != nil {
				return 0, err, true
			}
		}
	}
}

func (u *Unblock[T]) pollWrite(cx *future.Context, b []byte) (int, error, bool) {
	for {
		switch u.state {
		case unblockIdle:
			w, ok := any(u.value).(io.Writer)
			if !ok {
				return 0, ErrNotWriter, true
			}
			p := newPipe(u.capacity)
			if err := u.start(func(value T) unblockResult[T] {
				err := p.drain(w)
				if f, ok := w.(interface{ Flush() error }); ok {
					if flushErr := f.Flush(); err == nil {
						err = flushErr
					}
				}
				return unblockResult[T]{value: value, err: err}
			}); err != nil {
				return 0, err, true
			}
			u.state, u.pipe = unblockWriting, p

		case unblockWriting:
			n, err, ok := u.pipe.pollWrite(cx, b)
			if !ok {
				return 0, nil, false
			}
			if err == nil {
				return n, nil, true
			}
			// the job stopped early, and its error explains why
			err, ok = u.pollStop(cx)
			if !ok {
				return 0, nil, false
			}
			if err == nil {
				err = io.ErrClosedPipe
			}
			return 0, err, true

		case unblockClosed:
			return 0, u.closedErr(), true

		default:
			if err, ok := u.pollStop(cx); !ok {
				return 0, nil, false
			} else if err != nil {
				return 0, err, true
			}
		}
	}
}

func (u *Unblock[T]) pollClose(cx *future.Context) (error, bool) {
	for {
		switch u.state {
		case unblockClosed:
			return nil, true

		case unblockIdle:
			c, ok := any(u.value).(io.Closer)
			if !ok {
				var zero T
				u.state, u.value = unblockClosed, zero
				return nil, true
			}
			if err := u.start(func(value T) unblockResult[T] {
				return unblockResult[T]{value: value, err: c.Close()}
			}); err != nil {
				return err, true
			}
			u.state, u.closing = unblockBusy, true

		default:
			err, ok := u.pollStop(cx)
			if !ok {
				return nil, false
			}
			if u.closing {
				var zero T
				u.state, u.value, u.closing = unblockClosed, zero, false
				return err, true
			}
			if err != nil {
				return err, true
			}
		}
	}
}

type unblockWrite[T any] struct {
	u *Unblock[T]
	b []byte
	n int
}

func (x *unblockWrite[T]) Poll(cx *future.Context) (future.Result[int], bool) {
	for x.n < len(x.b) {
		n, err, ok := x.u.pollWrite(cx, x.b[x.n:])
		if !ok {
			return future.Result[int]{}, false
		}
		x.n += n
		if err != nil {
			return future.Result[int]{Value: x.n, Err: err}, true
		}
	}
	return future.Result[int]{Value: x.n}, true
}

type unblockWithValue[T, R any] struct {
	u       *Unblock[T]
	fn      func(value *T) R
	out     R
	started bool
}

func (x *unblockWithValue[T, R]) Poll(cx *future.Context) (future.Result[R], bool) {
	u := x.u
	for !x.started {
		switch u.state {
		case unblockClosed:
			return future.Result[R]{Err: u.closedErr()}, true
		case unblockIdle:
			if err := u.start(func(value T) unblockResult[T] {
				x.out = x.fn(&value)
				return unblockResult[T]{value: value}
			}); err != nil {
				return future.Result[R]{Err: err}, true
			}
			u.state, x.started = unblockBusy, true
		default:
			if _, ok := u.pollStop(cx); !ok {
				return future.Result[R]{}, false
			}
		}
	}
	err, ok := u.pollStop(cx)
	if !ok {
		return future.Result[R]{}, false
	}
	if err != nil {
		return future.Result[R]{Err: err}, true
	}
	return future.Result[R]{Value: x.out}, true
}
