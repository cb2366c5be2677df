package threadpool

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxUnusedThreads is the initial value of [MaxUnusedThreads].
	DefaultMaxUnusedThreads = 2

	// DefaultMaxIdleTime is the initial value of [MaxIdleTime].
	DefaultMaxIdleTime = 15 * time.Second

	// DefaultSharedMaxThreads is the thread limit of the pool returned by
	// [Shared].
	DefaultSharedMaxThreads = 512
)

var (
	maxUnusedThreads atomic.Int64
	maxIdleTime      atomic.Int64
	// unusedThreads counts idle workers of shared pools
	unusedThreads atomic.Int64

	sharedPool = sync.OnceValue(func() *Pool {
		p, err := NewShared(DefaultSharedMaxThreads, WithName(`shared`))
		if err != nil {
			panic(err)
		}
		return p
	})
)

func init() {
	maxUnusedThreads.Store(DefaultMaxUnusedThreads)
	maxIdleTime.Store(int64(DefaultMaxIdleTime))
}

// Shared returns the process-wide pool, creating it on first use.
func Shared() *Pool { return sharedPool() }

// SetMaxUnusedThreads sets the number of idle workers, across all shared
// pools, that are kept indefinitely. Idle workers beyond this exit once
// they have been idle for [MaxIdleTime]. Negative values are treated as 0.
func SetMaxUnusedThreads(n int) {
	maxUnusedThreads.Store(int64(max(n, 0)))
}

// MaxUnusedThreads returns the value set by [SetMaxUnusedThreads].
func MaxUnusedThreads() int { return int(maxUnusedThreads.Load()) }

// SetMaxIdleTime sets how long a worker of a shared pool waits for a job
// before it may exit. Non-positive values are treated as 1ms.
func SetMaxIdleTime(d time.Duration) {
	maxIdleTime.Store(int64(max(d, time.Millisecond)))
}

// MaxIdleTime returns the value set by [SetMaxIdleTime].
func MaxIdleTime() time.Duration { return time.Duration(maxIdleTime.Load()) }

// NumUnusedThreads returns the number of idle workers across all shared
// pools.
func NumUnusedThreads() int { return int(unusedThreads.Load()) }
