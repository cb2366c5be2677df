package channel_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor/channel"
	"github.com/joeycumines/go-reactor/future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

func TestBounded_trySendRecv(t *testing.T) {
	ch := channel.Bounded[int](2)
	assert.Equal(t, 2, ch.Cap())
	assert.True(t, ch.IsEmpty())

	require.NoError(t, ch.TrySend(1))
	require.NoError(t, ch.TrySend(2))
	assert.True(t, ch.IsFull())
	require.ErrorIs(t, ch.TrySend(3), channel.ErrFull)
	assert.Equal(t, 2, ch.Len())

	v, err := ch.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = ch.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	_, err = ch.TryRecv()
	require.ErrorIs(t, err, channel.ErrEmpty)
}

func TestBounded_invalidCapacity(t *testing.T) {
	assert.Panics(t, func() { channel.Bounded[int](0) })
}

func TestUnbounded(t *testing.T) {
	ch := channel.Unbounded[string]()
	assert.Zero(t, ch.Cap())
	for range 1000 {
		require.NoError(t, ch.TrySend(`x`))
	}
	assert.False(t, ch.IsFull())
	assert.Equal(t, 1000, ch.Len())
}

func TestChannel_nilInterfaceValues(t *testing.T) {
	ch := channel.Unbounded[error]()
	require.NoError(t, ch.TrySend(nil))
	v, err := ch.TryRecv()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestChannel_Close(t *testing.T) {
	ch := channel.Bounded[int](4)
	require.NoError(t, ch.TrySend(1))

	assert.True(t, ch.Close())
	assert.False(t, ch.Close())
	assert.True(t, ch.IsClosed())
	require.ErrorIs(t, ch.TrySend(2), channel.ErrClosed)

	// buffered items drain
	v, err := ch.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	_, err = ch.TryRecv()
	require.ErrorIs(t, err, channel.ErrClosed)
}

func TestRecv_wokenBySend(t *testing.T) {
	ch := channel.Bounded[int](1)
	recv := ch.Recv()
	var w countingWaker
	_, ok := recv.Poll(future.NewContext(&w))
	require.False(t, ok)

	require.NoError(t, ch.TrySend(5))
	assert.Equal(t, int32(1), w.n.Load())
	res, ok := recv.Poll(future.NewContext(nil))
	require.True(t, ok)
	assert.Equal(t, future.Result[int]{Value: 5}, res)
}

func TestSend_wokenByRecv(t *testing.T) {
	ch := channel.Bounded[int](1)
	require.NoError(t, ch.TrySend(1))

	send := ch.Send(2)
	var w countingWaker
	_, ok := send.Poll(future.NewContext(&w))
	require.False(t, ok)

	_, err := ch.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, int32(1), w.n.Load())
	err, ok = send.Poll(future.NewContext(nil))
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Len())
}

func TestClose_wakesWaiters(t *testing.T) {
	ch := channel.Bounded[int](1)
	recv := ch.Recv()
	var rw countingWaker
	_, ok := recv.Poll(future.NewContext(&rw))
	require.False(t, ok)

	full := channel.Bounded[int](1)
	require.NoError(t, full.TrySend(0))
	send := full.Send(1)
	var sw countingWaker
	_, ok = send.Poll(future.NewContext(&sw))
	require.False(t, ok)

	ch.Close()
	full.Close()
	assert.Equal(t, int32(1), rw.n.Load())
	assert.Equal(t, int32(1), sw.n.Load())

	res, ok := recv.Poll(future.NewContext(nil))
	require.True(t, ok)
	require.ErrorIs(t, res.Err, channel.ErrClosed)
	err, ok := send.Poll(future.NewContext(nil))
	require.True(t, ok)
	require.ErrorIs(t, err, channel.ErrClosed)
}

func TestRecv_cancelRenotifies(t *testing.T) {
	ch := channel.Unbounded[int]()
	first, second := ch.Recv(), ch.Recv()
	var fw, sw countingWaker
	_, ok := first.Poll(future.NewContext(&fw))
	require.False(t, ok)
	_, ok = second.Poll(future.NewContext(&sw))
	require.False(t, ok)

	require.NoError(t, ch.TrySend(1))
	assert.Equal(t, int32(1), fw.n.Load())
	assert.Zero(t, sw.n.Load())

	// the first receiver gives up, so the item goes to the second
	first.Cancel()
	assert.Equal(t, int32(1), sw.n.Load())
	res, ok := second.Poll(future.NewContext(nil))
	require.True(t, ok)
	assert.Equal(t, 1, res.Value)
}

func TestChannel_blockingMPMC(t *testing.T) {
	const (
		producers = 4
		perSender = 500
	)
	ch := channel.Bounded[int](3)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perSender {
				if err := ch.SendBlocking(p*perSender + i); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		ch.Close()
	}()

	var mu sync.Mutex
	seen := make(map[int]bool)
	var consumers sync.WaitGroup
	for range 3 {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			last := make(map[int]int)
			for {
				v, err := ch.RecvBlocking()
				if err != nil {
					assert.ErrorIs(t, err, channel.ErrClosed)
					return
				}
				// per-producer order is preserved
				p := v / perSender
				if prev, ok := last[p]; ok {
					assert.Greater(t, v, prev)
				}
				last[p] = v
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	consumers.Wait()
	assert.Len(t, seen, producers*perSender)
}

func TestChannel_contextVariants(t *testing.T) {
	ch := channel.Bounded[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ch.RecvContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, ch.SendContext(context.Background(), 1))
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, ch.SendContext(ctx, 2), context.DeadlineExceeded)

	v, err := ch.RecvContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Zero(t, ch.Len())
}
