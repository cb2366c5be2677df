// Package lock implements synchronization primitives for cooperative tasks:
// [Mutex], [RWLock], [Semaphore], [Barrier] and [OnceCell].
//
// Every acquire operation returns a future, which suspends the calling task
// (by way of an event listener) rather than blocking its goroutine. The
// futures implement Cancel: an abandoned acquisition must be cancelled, so
// that a wake-up it already received is passed on to the next waiter.
// Blocking variants, suffixed Blocking or Context, exist for callers that
// are not tasks.
package lock
