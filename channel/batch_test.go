package channel_test

import (
	"errors"
	"testing"

	"github.com/joeycumines/go-reactor/channel"
	"github.com/joeycumines/go-reactor/future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecvBatch(t *testing.T) {
	for _, tc := range []struct {
		name     string
		cfg      *channel.BatchConfig
		buffered int
		closed   bool
		pending  bool
		want     future.Result[int]
	}{
		{name: `defaults`, buffered: 3, want: future.Result[int]{Value: 3}},
		{name: `defaults empty`, pending: true},
		{name: `max size`, cfg: &channel.BatchConfig{MaxSize: 2}, buffered: 5, want: future.Result[int]{Value: 2}},
		{name: `unlimited`, cfg: &channel.BatchConfig{MaxSize: -1}, buffered: 40, want: future.Result[int]{Value: 40}},
		{name: `min size not reached`, cfg: &channel.BatchConfig{MinSize: 4}, buffered: 3, pending: true},
		{name: `min size reached`, cfg: &channel.BatchConfig{MinSize: 4}, buffered: 6, want: future.Result[int]{Value: 6}},
		{name: `no min size`, cfg: &channel.BatchConfig{MinSize: -1}, want: future.Result[int]{}},
		{name: `closed`, cfg: &channel.BatchConfig{MinSize: 4}, buffered: 2, closed: true, want: future.Result[int]{Value: 2, Err: channel.ErrClosed}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ch := channel.Unbounded[int]()
			for i := range tc.buffered {
				require.NoError(t, ch.TrySend(i))
			}
			if tc.closed {
				ch.Close()
			}
			var got []int
			res, ok := ch.RecvBatch(tc.cfg, func(v int) error {
				got = append(got, v)
				return nil
			}).Poll(future.NewContext(nil))
			if tc.pending {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.want, res)
			assert.Len(t, got, tc.want.Value)
			for i, v := range got {
				assert.Equal(t, i, v)
			}
		})
	}
}

func TestRecvBatch_waitsForMinSize(t *testing.T) {
	ch := channel.Bounded[int](8)
	var got []int
	batch := ch.RecvBatch(&channel.BatchConfig{MinSize: 2}, func(v int) error {
		got = append(got, v)
		return nil
	})
	var w countingWaker
	cx := future.NewContext(&w)

	_, ok := batch.Poll(cx)
	require.False(t, ok)
	require.NoError(t, ch.TrySend(1))
	require.Equal(t, int32(1), w.n.Load())
	_, ok = batch.Poll(cx)
	require.False(t, ok)

	require.NoError(t, ch.TrySend(2))
	require.NoError(t, ch.TrySend(3))
	res, ok := batch.Poll(cx)
	require.True(t, ok)
	assert.Equal(t, future.Result[int]{Value: 3}, res)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRecvBatch_handlerError(t *testing.T) {
	ch := channel.Unbounded[int]()
	for i := range 4 {
		require.NoError(t, ch.TrySend(i))
	}
	stop := errors.New(`stop`)
	res, ok := ch.RecvBatch(nil, func(v int) error {
		if v == 1 {
			return stop
		}
		return nil
	}).Poll(future.NewContext(nil))
	require.True(t, ok)
	assert.Equal(t, 2, res.Value)
	require.ErrorIs(t, res.Err, stop)
	assert.Equal(t, 2, ch.Len())
}

func TestRecvBatch_cancel(t *testing.T) {
	ch := channel.Unbounded[int]()
	batch := ch.RecvBatch(nil, func(int) error { return nil })
	_, ok := batch.Poll(future.NewContext(nil))
	require.False(t, ok)
	batch.Cancel()

	// a waiting receiver still gets the item
	recv := ch.Recv()
	var w countingWaker
	_, ok = recv.Poll(future.NewContext(&w))
	require.False(t, ok)
	require.NoError(t, ch.TrySend(1))
	assert.Equal(t, int32(1), w.n.Load())
}
