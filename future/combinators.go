package future

type (
	readyFuture[T any] struct {
		value T
	}

	pendingFuture[T any] struct{}

	mapFuture[T, U any] struct {
		inner Future[T]
		fn    func(T) U
		value U
		done  bool
	}

	thenFuture[T, U any] struct {
		first  Future[T]
		fn     func(T) Future[U]
		second Future[U]
	}

	raceFuture[T any] struct {
		a, b  Future[T]
		value T
		done  bool
	}

	yieldFuture struct {
		yielded bool
	}

	pollOnceFuture[T any] struct {
		inner Future[T]
	}
)

// Ready returns a future that is immediately ready with value.
func Ready[T any](value T) Future[T] { return readyFuture[T]{value: value} }

// Pending returns a future that never completes.
func Pending[T any]() Future[T] { return pendingFuture[T]{} }

// Map returns a future resolving to fn applied to the output of f.
func Map[T, U any](f Future[T], fn func(T) U) Future[U] {
	return &mapFuture[T, U]{inner: f, fn: fn}
}

// Then chains f with the future returned by fn.
func Then[T, U any](f Future[T], fn func(T) Future[U]) Future[U] {
	return &thenFuture[T, U]{first: f, fn: fn}
}

// Race polls a then b, resolving to whichever is ready first. The loser is
// cancelled.
func Race[T any](a, b Future[T]) Future[T] {
	return &raceFuture[T]{a: a, b: b}
}

// Yield returns a future that is pending exactly once, waking itself
// immediately, so the current task is moved to the back of the run queue.
func Yield() Future[struct{}] { return &yieldFuture{} }

// PollOnce polls f a single time, resolving to the result of that poll. It
// allows checking readiness without suspending.
func PollOnce[T any](f Future[T]) Future[bool] {
	return pollOnceFuture[T]{inner: f}
}

func (x readyFuture[T]) Poll(*Context) (T, bool) { return x.value, true }

func (pendingFuture[T]) Poll(*Context) (v T, _ bool) { return v, false }

func (x *mapFuture[T, U]) Poll(cx *Context) (U, bool) {
	if !x.done {
		v, ok := x.inner.Poll(cx)
		if !ok {
			return x.value, false
		}
		x.value = x.fn(v)
		x.done = true
	}
	return x.value, true
}

func (x *mapFuture[T, U]) Cancel() {
	if !x.done {
		Cancel(x.inner)
	}
}

func (x *thenFuture[T, U]) Poll(cx *Context) (U, bool) {
	if x.second == nil {
		v, ok := x.first.Poll(cx)
		if !ok {
			var zero U
			return zero, false
		}
		x.second = x.fn(v)
	}
	return x.second.Poll(cx)
}

func (x *thenFuture[T, U]) Cancel() {
	if x.second == nil {
		Cancel(x.first)
	} else {
		Cancel(x.second)
	}
}

func (x *raceFuture[T]) Poll(cx *Context) (T, bool) {
	if x.done {
		return x.value, true
	}
	if v, ok := x.a.Poll(cx); ok {
		x.value, x.done = v, true
		Cancel(x.b)
		return v, true
	}
	if v, ok := x.b.Poll(cx); ok {
		x.value, x.done = v, true
		Cancel(x.a)
		return v, true
	}
	return x.value, false
}

func (x *raceFuture[T]) Cancel() {
	if !x.done {
		Cancel(x.a)
		Cancel(x.b)
	}
}

func (x *yieldFuture) Poll(cx *Context) (struct{}, bool) {
	if x.yielded {
		return struct{}{}, true
	}
	x.yielded = true
	cx.Waker().Wake()
	return struct{}{}, false
}

func (x pollOnceFuture[T]) Poll(cx *Context) (bool, bool) {
	_, ok := x.inner.Poll(cx)
	return ok, true
}
