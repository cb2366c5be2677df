package threadpool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-reactor/future"
	"github.com/joeycumines/logiface"
)

var (
	// ErrClosed is returned when submitting to a closed pool.
	ErrClosed = errors.New("threadpool: closed")

	// ErrInvalidMaxThreads is returned for a thread limit less than one.
	ErrInvalidMaxThreads = errors.New("threadpool: max threads must be at least 1")
)

// Pool runs blocking functions on dedicated goroutines, each locked to an
// OS thread, so that cooperative tasks may await them.
//
// Shared pools, see [NewShared], start workers on demand, and let them exit
// once idle. Exclusive pools, see [Exclusive], start all their workers
// up front, and keep them until closed.
type Pool struct {
	name      string
	logger    *logiface.Logger[logiface.Event]
	limiter   *catrate.Limiter
	exclusive bool

	mu sync.Mutex
	// jobs is the queue of pending func() values
	jobs *queue.Queue
	// idle holds a wake channel per parked worker, most recent last
	idle       []chan struct{}
	maxThreads int
	threads    int
	// started counts workers ever started, identifying them in logs
	started int
	closed  bool
}

// NewShared returns a pool of up to maxThreads workers, started as jobs
// arrive. Idle workers exit after [MaxIdleTime], unless they are within the
// process-wide [MaxUnusedThreads] limit.
func NewShared(maxThreads int, opts ...Option) (*Pool, error) {
	return newPool(maxThreads, false, opts)
}

// Exclusive returns a pool that immediately starts maxThreads workers,
// which run until the pool is closed.
func Exclusive(maxThreads int, opts ...Option) (*Pool, error) {
	return newPool(maxThreads, true, opts)
}

func newPool(maxThreads int, exclusive bool, opts []Option) (*Pool, error) {
	if maxThreads < 1 {
		return nil, ErrInvalidMaxThreads
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		name:       cfg.name,
		logger:     cfg.logger,
		limiter:    catrate.NewLimiter(defaultPanicRates),
		exclusive:  exclusive,
		jobs:       queue.New(),
		maxThreads: maxThreads,
	}
	if exclusive {
		p.mu.Lock()
		for p.threads < p.maxThreads {
			p.startLocked()
		}
		p.mu.Unlock()
	}
	return p, nil
}

// Push submits fn, returning a handle to its result.
func Push[T any](p *Pool, fn func() T) (*ThreadHandle[T], error) {
	h := newThreadHandle[T]()
	if err := p.submit(func() { h.complete(call(p, fn)) }); err != nil {
		return nil, err
	}
	return h, nil
}

// PushFuture is [Push], returning the handle as a future.
func PushFuture[T any](p *Pool, fn func() T) (future.Future[future.Result[T]], error) {
	h, err := Push(p, fn)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// MaxThreads returns the maximum number of workers.
func (p *Pool) MaxThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxThreads
}

// SetMaxThreads changes the maximum number of workers. Excess workers exit
// once they finish their current job. Exclusive pools start any additional
// workers immediately.
func (p *Pool) SetMaxThreads(n int) error {
	if n < 1 {
		return ErrInvalidMaxThreads
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.maxThreads = n
	for excess := p.threads - n; excess > 0; excess-- {
		if !p.wakeLocked() {
			break
		}
	}
	if p.exclusive {
		for p.threads < p.maxThreads {
			p.startLocked()
		}
	} else {
		for i := p.jobs.Length(); i > 0 && p.threads < p.maxThreads; i-- {
			p.startLocked()
		}
	}
	return nil
}

// NumThreads returns the number of running workers.
func (p *Pool) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads
}

// Unprocessed returns the number of jobs waiting for a worker.
func (p *Pool) Unprocessed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs.Length()
}

// Close stops accepting jobs. Jobs already submitted still run, after
// which the workers exit. Close does not wait for them.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for len(p.idle) != 0 {
		p.wakeLocked()
	}
	p.logger.Debug().
		Str(`pool`, p.name).
		Int(`threads`, p.threads).
		Int(`unprocessed`, p.jobs.Length()).
		Log(`threadpool closed`)
	return nil
}

func (p *Pool) submit(job func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.jobs.Add(job)
	if !p.wakeLocked() && p.threads < p.maxThreads {
		p.startLocked()
	}
	return nil
}

// wakeLocked wakes the most recently parked worker, if any.
func (p *Pool) wakeLocked() bool {
	n := len(p.idle)
	if n == 0 {
		return false
	}
	wake := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	wake <- struct{}{}
	return true
}

func (p *Pool) startLocked() {
	p.threads++
	p.started++
	go p.worker(p.started)
}

func (p *Pool) worker(id int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.logger.Debug().
		Str(`pool`, p.name).
		Int(`worker`, id).
		Log(`threadpool worker started`)

	wake := make(chan struct{}, 1)
	for {
		p.mu.Lock()
		if p.threads > p.maxThreads || (p.closed && p.jobs.Length() == 0) {
			p.threads--
			p.mu.Unlock()
			p.logger.Debug().
				Str(`pool`, p.name).
				Int(`worker`, id).
				Log(`threadpool worker stopped`)
			return
		}
		if p.jobs.Length() != 0 {
			job := p.jobs.Remove().(func())
			p.mu.Unlock()
			job()
			continue
		}
		p.idle = append(p.idle, wake)
		p.mu.Unlock()

		if !p.park(wake) {
			p.logger.Debug().
				Str(`pool`, p.name).
				Int(`worker`, id).
				Log(`threadpool worker exited idle`)
			return
		}
	}
}

// park waits to be woken, returning false if the worker was instead
// removed, after idling for too long.
func (p *Pool) park(wake chan struct{}) bool {
	if p.exclusive {
		<-wake
		return true
	}

	unusedThreads.Add(1)
	defer unusedThreads.Add(-1)

	timer := time.NewTimer(MaxIdleTime())
	defer timer.Stop()
	for {
		select {
		case <-wake:
			return true
		case <-timer.C:
		}

		p.mu.Lock()
		if unusedThreads.Load() <= maxUnusedThreads.Load() || !p.unparkLocked(wake) {
			p.mu.Unlock()
			timer.Reset(MaxIdleTime())
			continue
		}
		p.threads--
		p.mu.Unlock()
		return false
	}
}

// unparkLocked removes wake from the idle list, returning false if it was
// already removed, in which case a wake-up is on its way.
func (p *Pool) unparkLocked(wake chan struct{}) bool {
	for i, v := range p.idle {
		if v == wake {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return true
		}
	}
	return false
}

func call[T any](p *Pool, fn func() T) (result future.Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			err := future.NewPanicError(r)
			result = future.Result[T]{Err: err}
			p.logPanic(err)
		}
	}()
	return future.Result[T]{Value: fn()}
}

func (p *Pool) logPanic(err *future.PanicError) {
	msg := fmt.Sprint(err.Value)
	if _, ok := p.limiter.Allow(msg); !ok {
		return
	}
	p.logger.Warning().
		Str(`pool`, p.name).
		Str(`panic`, msg).
		Str(`stack`, string(err.Stack)).
		Log(`threadpool job panicked`)
}
