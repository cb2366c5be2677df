// Package executor runs futures as cooperative tasks, on a single goroutine
// at a time.
//
// Tasks are polled in FIFO order from a run queue. A pending task is only
// queued again once its waker is invoked, by the reactor, a lock, a channel,
// or anything else. [Run] drives the executor until a given future
// completes, blocking on the reactor whenever no task is ready.
//
// Blocking functions are offloaded with [SpawnBlocking], which runs them on
// a [threadpool.Pool].
package executor
