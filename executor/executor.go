package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-reactor/future"
	"github.com/joeycumines/go-reactor/reactor"
	"github.com/joeycumines/go-reactor/threadpool"
	"github.com/joeycumines/logiface"
)

// runBudget is the number of tasks run between polls of the reactor.
const runBudget = 64

// Executor runs tasks cooperatively, on whichever goroutine calls
// [Executor.Tick] or [Run]. Tasks may be spawned, and woken, from any
// goroutine.
type Executor struct {
	reactor     *reactor.Reactor
	ownsReactor bool
	pool        *threadpool.Pool
	logger      *logiface.Logger[logiface.Event]
	limiter     *catrate.Limiter

	mu sync.Mutex
	// queue holds the runnable values that are ready, in FIFO order
	queue *queue.Queue
}

type runnable interface {
	run()
}

// New returns an executor, driving a new reactor unless one is provided via
// [WithReactor].
func New(opts ...Option) (*Executor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	ex := &Executor{
		reactor: cfg.reactor,
		pool:    cfg.pool,
		logger:  cfg.logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 10,
			time.Minute: 100,
		}),
		queue: queue.New(),
	}
	if ex.reactor == nil {
		ex.reactor, err = reactor.New(reactor.WithLogger(cfg.logger))
		if err != nil {
			return nil, err
		}
		ex.ownsReactor = true
	}
	return ex, nil
}

// Reactor returns the reactor driven by the executor.
func (ex *Executor) Reactor() *reactor.Reactor { return ex.reactor }

// Len returns the number of tasks ready to run.
func (ex *Executor) Len() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.queue.Length()
}

// Tick runs at most one ready task, polling the reactor without blocking if
// none were ready. It reports whether a task was run.
func (ex *Executor) Tick() bool {
	if ex.runOne() {
		return true
	}
	ex.reactor.Tick()
	return ex.runOne()
}

// Close closes the reactor, if the executor created it.
func (ex *Executor) Close() error {
	if ex.ownsReactor {
		return ex.reactor.Close()
	}
	return nil
}

// Run polls f on the calling goroutine until it completes, running ready
// tasks in between, and blocking on the reactor when there is nothing to
// do. A panic within f propagates to the caller.
func Run[T any](ex *Executor, f future.Future[T]) T {
	var woken atomic.Bool
	woken.Store(true)
	cx := future.NewContext(future.WakerFunc(func() {
		if woken.CompareAndSwap(false, true) {
			ex.reactor.Notify()
		}
	}))

	for {
		if woken.Swap(false) {
			if v, ok := f.Poll(cx); ok {
				return v
			}
		}

		for range runBudget {
			if !ex.runOne() {
				break
			}
		}

		if woken.Load() || ex.Len() != 0 {
			ex.reactor.Tick()
			continue
		}

		if _, err := ex.reactor.Drive(-1); err != nil {
			if errors.Is(err, reactor.ErrClosed) {
				panic(fmt.Errorf("executor: run: %w", err))
			}
			if _, ok := ex.limiter.Allow(`drive`); ok {
				ex.logger.Trace().
					Err(err).
					Log(`executor drive failed`)
			}
		}
	}
}

func (ex *Executor) schedule(r runnable) {
	ex.mu.Lock()
	ex.queue.Add(r)
	ex.mu.Unlock()
	ex.reactor.Notify()
}

func (ex *Executor) runOne() bool {
	ex.mu.Lock()
	if ex.queue.Length() == 0 {
		ex.mu.Unlock()
		return false
	}
	r := ex.queue.Remove().(runnable)
	ex.mu.Unlock()
	r.run()
	return true
}

func (ex *Executor) threadPool() *threadpool.Pool {
	if ex.pool != nil {
		return ex.pool
	}
	return threadpool.Shared()
}

func (ex *Executor) logPanic(name string, err *future.PanicError) {
	if _, ok := ex.limiter.Allow(name); !ok {
		return
	}
	ex.logger.Warning().
		Str(`task`, name).
		Str(`panic`, fmt.Sprint(err.Value)).
		Str(`stack`, string(err.Stack)).
		Log(`executor task panicked`)
}
