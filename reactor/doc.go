// Package reactor bridges a [poller.Poller] and futures: it registers OS
// handles as [Source] values, and [Reactor.Drive] waits for readiness and
// wakes whatever was waiting.
//
// Sources are registered in oneshot mode, with interest enabled only while
// a waker is stored for a direction. Readiness that arrives with nobody
// waiting is cached, and consumed by the next poll of that direction.
//
// [Timer] futures provide deadlines, bounding how long a drive blocks.
package reactor
