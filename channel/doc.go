// Package channel implements bounded and unbounded multi-producer,
// multi-consumer channels for cooperative tasks.
//
// Unlike Go channels, sends and receives are futures, so a task waiting on
// a channel suspends rather than blocking its goroutine. Waiting senders
// and receivers are queued on event listeners, woken in FIFO order.
package channel
