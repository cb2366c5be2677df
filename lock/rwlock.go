package lock

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/joeycumines/go-reactor/event"
	"github.com/joeycumines/go-reactor/future"
)

const (
	// rwWriterBit is set while a writer holds, or is waiting to hold, the
	// lock. No new readers are admitted while it is set.
	rwWriterBit int64 = 1
	// rwOneReader is the increment of the reader count.
	rwOneReader int64 = 2
)

type (
	// RWLock is a reader-writer lock, with support for an upgradable read
	// lock: at most one holder of an upgradable read lock may coexist with
	// any number of readers, and may later upgrade it to a write lock.
	//
	// Writers are favoured: once a writer is waiting for readers to drain,
	// new readers wait for it. The zero value is unlocked.
	RWLock struct {
		// mutex is held by writers and upgradable readers
		mutex Mutex
		// state is a count of readers (in units of rwOneReader), plus
		// rwWriterBit
		state     atomic.Int64
		noReaders event.Event
		noWriter  event.Event
	}

	// RLockFuture is returned by [RWLock.RLock].
	RLockFuture struct {
		l        *RWLock
		listener *event.Listener
		acquired bool
	}

	// WLockFuture is returned by [RWLock.Lock].
	WLockFuture struct {
		l        *RWLock
		lock     *MutexLock
		listener *event.Listener
		phase    wlockPhase
	}

	// UpgradableRLockFuture is returned by [RWLock.UpgradableRLock].
	UpgradableRLockFuture struct {
		l        *RWLock
		lock     *MutexLock
		acquired bool
	}

	// UpgradeFuture is returned by [RWLock.Upgrade].
	UpgradeFuture struct {
		l        *RWLock
		listener *event.Listener
		done     bool
	}

	wlockPhase uint8
)

const (
	wlockMutex wlockPhase = iota
	wlockReaders
	wlockAcquired
	wlockCancelled
)

// TryRLock attempts to acquire a read lock without waiting.
func (l *RWLock) TryRLock() bool {
	state := l.state.Load()
	for {
		if state&rwWriterBit != 0 {
			return false
		}
		if state > math.MaxInt64-rwOneReader {
			panic("lock: too many readers")
		}
		if l.state.CompareAndSwap(state, state+rwOneReader) {
			return true
		}
		state = l.state.Load()
	}
}

// RLock returns a future that completes once a read lock is held.
func (l *RWLock) RLock() *RLockFuture {
	return &RLockFuture{l: l}
}

// RLockBlocking blocks until a read lock is held.
func (l *RWLock) RLockBlocking() {
	future.Block[struct{}](l.RLock())
}

// RLockContext is [RWLock.RLockBlocking] but gives up once ctx is done.
func (l *RWLock) RLockContext(ctx context.Context) error {
	_, err := future.BlockContext[struct{}](ctx, l.RLock())
	return err
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() {
	l.readUnlock()
}

func (l *RWLock) readUnlock() {
	old := l.state.Add(-rwOneReader) + rwOneReader
	if old < rwOneReader {
		panic("lock: runlock of unlocked rwlock")
	}
	// the last reader lets a waiting writer in
	if old&^rwWriterBit == rwOneReader {
		l.noReaders.Notify(1)
	}
}

// TryLock attempts to acquire the write lock without waiting.
func (l *RWLock) TryLock() bool {
	if !l.mutex.TryLock() {
		return false
	}
	if l.state.CompareAndSwap(0, rwWriterBit) {
		return true
	}
	l.mutex.Unlock()
	return false
}

// Lock returns a future that completes once the write lock is held.
func (l *RWLock) Lock() *WLockFuture {
	return &WLockFuture{l: l, lock: l.mutex.Lock()}
}

// LockBlocking blocks until the write lock is held.
func (l *RWLock) LockBlocking() {
	future.Block[struct{}](l.Lock())
}

// LockContext is [RWLock.LockBlocking] but gives up once ctx is done.
func (l *RWLock) LockContext(ctx context.Context) error {
	_, err := future.BlockContext[struct{}](ctx, l.Lock())
	return err
}

// Unlock releases the write lock.
func (l *RWLock) Unlock() {
	l.writeUnlock()
}

func (l *RWLock) writeUnlock() {
	if l.state.And(^rwWriterBit)&rwWriterBit == 0 {
		panic("lock: unlock of rwlock not write locked")
	}
	l.noWriter.Notify(1)
	l.mutex.Unlock()
}

// TryUpgradableRLock attempts to acquire an upgradable read lock without
// waiting.
func (l *RWLock) TryUpgradableRLock() bool {
	if !l.mutex.TryLock() {
		return false
	}
	l.addReader()
	return true
}

// UpgradableRLock returns a future that completes once an upgradable read
// lock is held.
func (l *RWLock) UpgradableRLock() *UpgradableRLockFuture {
	return &UpgradableRLockFuture{l: l, lock: l.mutex.Lock()}
}

// UpgradableRLockBlocking blocks until an upgradable read lock is held.
func (l *RWLock) UpgradableRLockBlocking() {
	future.Block[struct{}](l.UpgradableRLock())
}

// UpgradableRUnlock releases an upgradable read lock.
func (l *RWLock) UpgradableRUnlock() {
	l.readUnlock()
	l.mutex.Unlock()
}

// TryUpgrade attempts to upgrade an upgradable read lock, held by the caller,
// to a write lock. It fails if there are other readers.
func (l *RWLock) TryUpgrade() bool {
	return l.state.CompareAndSwap(rwOneReader, rwWriterBit)
}

// Upgrade converts an upgradable read lock, held by the caller, into a write
// lock. New readers are refused immediately; the returned future completes
// once the existing readers have left. Cancelling the future releases the
// lock entirely.
func (l *RWLock) Upgrade() *UpgradeFuture {
	l.state.Add(rwWriterBit - rwOneReader)
	return &UpgradeFuture{l: l}
}

// UpgradeBlocking is [RWLock.Upgrade], blocking until complete.
func (l *RWLock) UpgradeBlocking() {
	future.Block[struct{}](l.Upgrade())
}

// Downgrade converts the write lock, held by the caller, into a read lock.
func (l *RWLock) Downgrade() {
	l.state.Add(rwOneReader - rwWriterBit)
	l.mutex.Unlock()
	l.noWriter.Notify(1)
}

// DowngradeUpgradable converts an upgradable read lock, held by the caller,
// into a plain read lock, allowing another upgradable reader or writer to
// queue.
func (l *RWLock) DowngradeUpgradable() {
	l.mutex.Unlock()
}

// DowngradeToUpgradable converts the write lock, held by the caller, into an
// upgradable read lock.
func (l *RWLock) DowngradeToUpgradable() {
	l.state.Add(rwOneReader - rwWriterBit)
	l.noWriter.Notify(1)
}

// Readers returns the current number of readers, including any upgradable
// reader.
func (l *RWLock) Readers() int {
	return int(l.state.Load() / rwOneReader)
}

// IsWriteLocked reports whether a writer holds or is acquiring the lock.
func (l *RWLock) IsWriteLocked() bool {
	return l.state.Load()&rwWriterBit != 0
}

func (l *RWLock) addReader() {
	if l.state.Add(rwOneReader) < 0 {
		panic("lock: too many readers")
	}
}

func (x *RLockFuture) Poll(cx *future.Context) (struct{}, bool) {
	for !x.acquired {
		if x.l.TryRLock() {
			x.acquired = true
			if x.listener != nil {
				x.listener.Cancel()
				x.listener = nil
			}
			break
		}
		if x.listener == nil {
			x.listener = x.l.noWriter.Listen()
			continue
		}
		if _, ok := x.listener.Poll(cx); !ok {
			return struct{}{}, false
		}
		x.listener = nil
		// pass it along to the next reader in line
		x.l.noWriter.Notify(1)
	}
	return struct{}{}, true
}

// Cancel abandons the acquisition. It does nothing once the lock is held.
func (x *RLockFuture) Cancel() {
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
}

func (x *WLockFuture) Poll(cx *future.Context) (struct{}, bool) {
	for {
		switch x.phase {
		case wlockMutex:
			if _, ok := x.lock.Poll(cx); !ok {
				return struct{}{}, false
			}
			x.lock = nil
			if x.l.state.Or(rwWriterBit) == 0 {
				x.phase = wlockAcquired
			} else {
				x.phase = wlockReaders
			}

		case wlockReaders:
			if x.l.state.Load() == rwWriterBit {
				if x.listener != nil {
					x.listener.Cancel()
					x.listener = nil
				}
				x.phase = wlockAcquired
				continue
			}
			if x.listener == nil {
				x.listener = x.l.noReaders.Listen()
				continue
			}
			if _, ok := x.listener.Poll(cx); !ok {
				return struct{}{}, false
			}
			x.listener = nil

		case wlockAcquired:
			return struct{}{}, true

		default:
			panic("lock: poll of cancelled write lock")
		}
	}
}

// Cancel abandons the acquisition. If the writer was already waiting for
// readers to drain, the writer bit and internal mutex are released.
func (x *WLockFuture) Cancel() {
	switch x.phase {
	case wlockMutex:
		x.lock.Cancel()
		x.lock = nil
	case wlockReaders:
		if x.listener != nil {
			x.listener.Cancel()
			x.listener = nil
		}
		x.l.writeUnlock()
	default:
		return
	}
	x.phase = wlockCancelled
}

func (x *UpgradableRLockFuture) Poll(cx *future.Context) (struct{}, bool) {
	if !x.acquired {
		if _, ok := x.lock.Poll(cx); !ok {
			return struct{}{}, false
		}
		x.lock = nil
		x.l.addReader()
		x.acquired = true
	}
	return struct{}{}, true
}

// Cancel abandons the acquisition. It does nothing once the lock is held.
func (x *UpgradableRLockFuture) Cancel() {
	if x.lock != nil {
		x.lock.Cancel()
		x.lock = nil
	}
}

func (x *UpgradeFuture) Poll(cx *future.Context) (struct{}, bool) {
	for !x.done {
		if x.l.state.Load() == rwWriterBit {
			if x.listener != nil {
				x.listener.Cancel()
				x.listener = nil
			}
			x.done = true
			break
		}
		if x.listener == nil {
			x.listener = x.l.noReaders.Listen()
			continue
		}
		if _, ok := x.listener.Poll(cx); !ok {
			return struct{}{}, false
		}
		x.listener = nil
	}
	return struct{}{}, true
}

// Cancel abandons the upgrade, releasing the lock entirely. It does nothing
// once the upgrade has completed.
func (x *UpgradeFuture) Cancel() {
	if x.done {
		return
	}
	x.done = true
	if x.listener != nil {
		x.listener.Cancel()
		x.listener = nil
	}
	x.l.writeUnlock()
}
