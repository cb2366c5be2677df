package poller

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutMillis(t *testing.T) {
	for _, tc := range [...]struct {
		timeout time.Duration
		want    int
	}{
		{-1, -1},
		{-time.Hour, -1},
		{0, 0},
		{1, 1},
		{time.Millisecond, 1},
		{time.Millisecond + 1, 2},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
		{math.MaxInt32 * time.Millisecond, math.MaxInt32},
		{math.MaxInt32*time.Millisecond - 1, math.MaxInt32},
		{math.MaxInt32*time.Millisecond + 1, math.MaxInt32},
		{math.MaxInt64 - time.Millisecond + 2, math.MaxInt32},
		{math.MaxInt64, math.MaxInt32},
	} {
		assert.Equal(t, tc.want, timeoutMillis(tc.timeout), `timeout %v`, tc.timeout)
	}
}

func TestPollMode_flags(t *testing.T) {
	assert.True(t, Oneshot.oneshot())
	assert.True(t, EdgeOneshot.oneshot())
	assert.False(t, Level.oneshot())
	assert.True(t, Edge.edge())
	assert.True(t, EdgeOneshot.edge())
	assert.False(t, Oneshot.edge())
	assert.False(t, PollMode(4).valid())
}

func TestEvents_buffer(t *testing.T) {
	events := NewEvents(2)
	assert.Equal(t, 2, events.Capacity())
	assert.False(t, events.full())
	events.push(Readable(1))
	events.push(Writable(2))
	assert.True(t, events.full())
	assert.Equal(t, 2, events.Len())
	assert.Equal(t, Writable(2), events.At(1))

	var keys []uint64
	for ev := range events.Iter() {
		keys = append(keys, ev.Key)
		break
	}
	assert.Equal(t, []uint64{1}, keys)

	events.Clear()
	assert.Zero(t, events.Len())
	assert.Equal(t, DefaultEventsCapacity, NewEvents(-1).Capacity())
}
