package executor

import (
	"sync"

	"github.com/joeycumines/go-reactor/future"
	"github.com/joeycumines/go-reactor/threadpool"
)

type taskState uint8

const (
	// taskIdle is waiting to be woken
	taskIdle taskState = iota
	taskScheduled
	taskRunning
	// taskRunningWoken was woken while running, and will be rescheduled
	taskRunningWoken
	taskDone
)

// Task is a spawned future. It is itself a
// future.Future[future.Result[T]], resolving once the task completes, and
// a [future.Waker] for the spawned future.
//
// A task that panicked resolves to a [*future.PanicError], and a cancelled
// task to [future.ErrCancelled].
type Task[T any] struct {
	ex     *Executor
	name   string
	poll   func(cx *future.Context) (future.Result[T], bool)
	cancel func()
	cx     *future.Context

	mu              sync.Mutex
	state           taskState
	cancelRequested bool
	detached        bool
	result          future.Result[T]
	joiner          future.Waker
}

// Spawn schedules f to run on ex.
func Spawn[T any](ex *Executor, f future.Future[T], name string) *Task[T] {
	t := newTask(ex, name,
		func(cx *future.Context) (future.Result[T], bool) {
			v, ok := f.Poll(cx)
			return future.Result[T]{Value: v}, ok
		},
		func() { future.Cancel(f) },
	)
	t.state = taskScheduled
	ex.schedule(t)
	return t
}

// SpawnBlocking runs fn on the thread pool of ex, returning a task that
// completes with it. Cancelling the task does not interrupt fn.
func SpawnBlocking[T any](ex *Executor, fn func() T, name string) *Task[T] {
	h, err := threadpool.Push(ex.threadPool(), fn)
	if err != nil {
		t := newTask[T](ex, name, nil, nil)
		t.state = taskDone
		t.result = future.Result[T]{Err: err}
		return t
	}
	t := newTask(ex, name, h.Poll, h.Detach)
	t.state = taskScheduled
	ex.schedule(t)
	return t
}

func newTask[T any](ex *Executor, name string, poll func(cx *future.Context) (future.Result[T], bool), cancel func()) *Task[T] {
	t := &Task[T]{
		ex:     ex,
		name:   name,
		poll:   poll,
		cancel: cancel,
	}
	t.cx = future.NewContext(t)
	return t
}

// Name returns the name the task was spawned with.
func (t *Task[T]) Name() string { return t.name }

// IsFinished reports whether the task has completed, including by
// cancellation.
func (t *Task[T]) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskDone
}

func (t *Task[T]) Poll(cx *future.Context) (future.Result[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == taskDone {
		return t.result, true
	}
	if !t.detached {
		t.joiner = cx.Waker()
	}
	return future.Result[T]{}, false
}

// Cancel stops the task, unless it already finished. The spawned future
// is cancelled, and the task resolves to [future.ErrCancelled]. If the
// task is running, this happens once the current poll returns.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	switch t.state {
	case taskDone:
		t.mu.Unlock()
		return
	case taskRunning, taskRunningWoken:
		t.cancelRequested = true
		t.mu.Unlock()
		return
	}
	joiner := t.finishLocked(future.Result[T]{Err: future.ErrCancelled})
	t.mu.Unlock()
	t.cancel()
	if joiner != nil {
		joiner.Wake()
	}
}

// Detach lets the task run to completion in the background, without
// waking any joiner.
func (t *Task[T]) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detached = true
	t.joiner = nil
}

// Wake schedules the task to be polled.
func (t *Task[T]) Wake() {
	t.mu.Lock()
	switch t.state {
	case taskIdle:
		t.state = taskScheduled
		t.mu.Unlock()
		t.ex.schedule(t)
		return
	case taskRunning:
		t.state = taskRunningWoken
	}
	t.mu.Unlock()
}

func (t *Task[T]) run() {
	t.mu.Lock()
	if t.state != taskScheduled {
		t.mu.Unlock()
		return
	}
	t.state = taskRunning
	t.mu.Unlock()

	result, ok := t.step()

	t.mu.Lock()
	var joiner future.Waker
	switch {
	case ok:
		joiner = t.finishLocked(result)
	case t.cancelRequested:
		joiner = t.finishLocked(future.Result[T]{Err: future.ErrCancelled})
		defer t.cancel()
	case t.state == taskRunningWoken:
		t.state = taskScheduled
		defer t.ex.schedule(t)
	default:
		t.state = taskIdle
	}
	t.mu.Unlock()
	if joiner != nil {
		joiner.Wake()
	}
}

func (t *Task[T]) step() (result future.Result[T], ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := future.NewPanicError(r)
			result, ok = future.Result[T]{Err: err}, true
			t.ex.logPanic(t.name, err)
		}
	}()
	return t.poll(t.cx)
}

// finishLocked completes the task, returning the joiner to wake.
func (t *Task[T]) finishLocked(result future.Result[T]) future.Waker {
	t.state = taskDone
	t.result = result
	t.poll = nil
	joiner := t.joiner
	t.joiner = nil
	return joiner
}
