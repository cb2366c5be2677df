// Package threadpool offloads blocking work from cooperative tasks.
//
// Jobs are plain functions, run on workers that are each locked to an OS
// thread. [Push] returns a [ThreadHandle], which a task awaits as a future,
// and any other goroutine may [ThreadHandle.Join]. A panicking job does not
// affect its pool: the panic is delivered through the handle.
//
// [Unblock] wraps a blocking io.Reader or io.Writer, exposing its reads and
// writes as futures backed by pool jobs.
//
// Idle workers of shared pools exit, subject to the process-wide limits set
// by [SetMaxUnusedThreads] and [SetMaxIdleTime].
package threadpool
