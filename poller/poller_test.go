package poller_test

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/joeycumines/go-reactor/internal/testutil"
	"github.com/joeycumines/go-reactor/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventOpts compares events including their extra flags.
var eventOpts = cmp.AllowUnexported(poller.EventExtra{})

func newPoller(t *testing.T, opts ...poller.Option) *poller.Poller {
	t.Helper()
	p, err := poller.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func waitEvents(t *testing.T, p *poller.Poller, timeout time.Duration) []poller.Event {
	t.Helper()
	events := poller.NewEvents(0)
	_, err := p.Wait(events, timeout)
	require.NoError(t, err)
	var out []poller.Event
	for ev := range events.Iter() {
		out = append(out, ev.WithoutExtra())
	}
	return out
}

func TestPoller_oneshotReadable(t *testing.T) {
	p := newPoller(t)
	client, server := testutil.TCPPair(t)

	require.NoError(t, p.AddConn(server, poller.Readable(7), poller.Oneshot))
	t.Cleanup(func() { _ = p.DeleteConn(server) })

	assert.Empty(t, waitEvents(t, p, 0))

	_, err := client.Write([]byte(`hello`))
	require.NoError(t, err)

	got := waitEvents(t, p, 5*time.Second)
	if diff := cmp.Diff([]poller.Event{poller.Readable(7)}, got, eventOpts); diff != `` {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}

	// disarmed until modified
	assert.Empty(t, waitEvents(t, p, 50*time.Millisecond))

	require.NoError(t, p.ModifyConn(server, poller.Readable(8), poller.Oneshot))
	got = waitEvents(t, p, 5*time.Second)
	if diff := cmp.Diff([]poller.Event{poller.Readable(8)}, got, eventOpts); diff != `` {
		t.Fatalf("unexpected events after re-arm (-want +got):\n%s", diff)
	}
}

func TestPoller_writable(t *testing.T) {
	p := newPoller(t)
	_, server := testutil.TCPPair(t)

	require.NoError(t, p.AddConn(server, poller.Writable(3), poller.Oneshot))
	t.Cleanup(func() { _ = p.DeleteConn(server) })

	got := waitEvents(t, p, 5*time.Second)
	if diff := cmp.Diff([]poller.Event{poller.Writable(3)}, got, eventOpts); diff != `` {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestPoller_level(t *testing.T) {
	p := newPoller(t)
	client, server := testutil.TCPPair(t)
	if !p.SupportsLevel() {
		require.ErrorIs(t, p.AddConn(server, poller.Readable(1), poller.Level), poller.ErrUnsupported)
		t.Skipf(`%s does not support level mode`, p.Backend())
	}
	require.NoError(t, p.AddConn(server, poller.Readable(1), poller.Level))
	t.Cleanup(func() { _ = p.DeleteConn(server) })

	_, err := client.Write([]byte(`x`))
	require.NoError(t, err)

	for range 3 {
		got := waitEvents(t, p, 5*time.Second)
		require.Len(t, got, 1)
		require.True(t, got[0].Readable)
	}

	buf := make([]byte, 1)
	_, err = server.Read(buf)
	require.NoError(t, err)
	assert.Empty(t, waitEvents(t, p, 50*time.Millisecond))
}

func TestPoller_edge(t *testing.T) {
	p := newPoller(t)
	client, server := testutil.TCPPair(t)
	if !p.SupportsEdge() {
		require.ErrorIs(t, p.AddConn(server, poller.Readable(1), poller.Edge), poller.ErrUnsupported)
		require.ErrorIs(t, p.AddConn(server, poller.Readable(1), poller.EdgeOneshot), poller.ErrUnsupported)
		t.Skipf(`%s does not support edge mode`, p.Backend())
	}
	require.NoError(t, p.AddConn(server, poller.Readable(1), poller.Edge))
	t.Cleanup(func() { _ = p.DeleteConn(server) })

	_, err := client.Write([]byte(`x`))
	require.NoError(t, err)
	require.Len(t, waitEvents(t, p, 5*time.Second), 1)
	// no new data, no new edge
	assert.Empty(t, waitEvents(t, p, 50*time.Millisecond))

	_, err = client.Write([]byte(`y`))
	require.NoError(t, err)
	require.Len(t, waitEvents(t, p, 5*time.Second), 1)
}

func requireEvents(t *testing.T, want, got []poller.Event) {
	t.Helper()
	if diff := cmp.Diff(want, got, eventOpts, cmpopts.EquateEmpty()); diff != `` {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestPoller_levelPartialReadThenOneshot(t *testing.T) {
	p := newPoller(t)
	client, server := testutil.TCPPair(t)
	if !p.SupportsLevel() {
		t.Skipf(`%s does not support level mode`, p.Backend())
	}
	require.NoError(t, p.AddConn(server, poller.Readable(1), poller.Level))
	t.Cleanup(func() { _ = p.DeleteConn(server) })

	_, err := client.Write([]byte(`hello`))
	require.NoError(t, err)
	requireEvents(t, []poller.Event{poller.Readable(1)}, waitEvents(t, p, time.Second))

	buf := make([]byte, 5)
	_, err = io.ReadFull(server, buf[:3])
	require.NoError(t, err)
	// still readable, so reported again
	requireEvents(t, []poller.Event{poller.Readable(1)}, waitEvents(t, p, time.Second))

	_, err = io.ReadFull(server, buf[:2])
	require.NoError(t, err)
	requireEvents(t, nil, waitEvents(t, p, 0))

	require.NoError(t, p.ModifyConn(server, poller.Readable(1), poller.Oneshot))
	_, err = client.Write([]byte(`world`))
	require.NoError(t, err)
	requireEvents(t, []poller.Event{poller.Readable(1)}, waitEvents(t, p, time.Second))
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, `world`, string(buf))
	requireEvents(t, nil, waitEvents(t, p, 0))
}

func TestPoller_sharedHandle(t *testing.T) {
	first, second := newPoller(t), newPoller(t)
	client, server := testutil.TCPPair(t)
	if !first.SupportsLevel() {
		t.Skipf(`%s does not support level mode`, first.Backend())
	}
	require.NoError(t, first.AddConn(server, poller.Readable(1), poller.Level))
	t.Cleanup(func() { _ = first.DeleteConn(server) })
	require.NoError(t, second.AddConn(server, poller.Readable(2), poller.Level))
	t.Cleanup(func() { _ = second.DeleteConn(server) })

	requireEvents(t, nil, waitEvents(t, first, 50*time.Millisecond))
	requireEvents(t, nil, waitEvents(t, second, 50*time.Millisecond))

	_, err := client.Write([]byte(`x`))
	require.NoError(t, err)
	requireEvents(t, []poller.Event{poller.Readable(1)}, waitEvents(t, first, time.Second))

	// the pollers do not coordinate, so the second may or may not report it
	if got := waitEvents(t, second, 0); len(got) != 0 {
		requireEvents(t, []poller.Event{poller.Readable(2)}, got)
	}
}

func TestPoller_edgeOneshot(t *testing.T) {
	p := newPoller(t)
	client, server := testutil.TCPPair(t)
	if !p.SupportsEdge() {
		t.Skipf(`%s does not support edge mode`, p.Backend())
	}
	require.NoError(t, p.AddConn(server, poller.Readable(1), poller.EdgeOneshot))
	t.Cleanup(func() { _ = p.DeleteConn(server) })

	_, err := client.Write([]byte(`a`))
	require.NoError(t, err)
	requireEvents(t, []poller.Event{poller.Readable(1)}, waitEvents(t, p, time.Second))

	// further writes do not re-arm
	_, err = client.Write([]byte(`b`))
	require.NoError(t, err)
	requireEvents(t, nil, waitEvents(t, p, 50*time.Millisecond))

	require.NoError(t, p.ModifyConn(server, poller.Readable(1), poller.EdgeOneshot))
	requireEvents(t, []poller.Event{poller.Readable(1)}, waitEvents(t, p, time.Second))
	requireEvents(t, nil, waitEvents(t, p, 50*time.Millisecond))
}

func TestPoller_notify(t *testing.T) {
	p := newPoller(t)

	require.NoError(t, p.Notify())
	require.NoError(t, p.Notify())

	start := time.Now()
	assert.Empty(t, waitEvents(t, p, -1))
	assert.Less(t, time.Since(start), time.Second)

	// coalesced into the previous wake-up
	start = time.Now()
	assert.Empty(t, waitEvents(t, p, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPoller_notifyWakesBlockedWait(t *testing.T) {
	p := newPoller(t)

	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(poller.NewEvents(0), -1)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Notify())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(`wait was not woken`)
	}
}

func TestPoller_concurrentWaitReturnsImmediately(t *testing.T) {
	p := newPoller(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Wait(poller.NewEvents(0), -1)
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	n, err := p.Wait(poller.NewEvents(0), 5*time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, p.Notify())
	wg.Wait()
}

func TestPoller_registrationErrors(t *testing.T) {
	p := newPoller(t)
	_, server := testutil.TCPPair(t)
	h, err := poller.ConnHandle(server)
	require.NoError(t, err)

	require.ErrorIs(t, p.Add(h, poller.Readable(0)), poller.ErrInvalidKey)
	require.ErrorIs(t, p.AddWithMode(h, poller.Readable(1), poller.PollMode(99)), poller.ErrUnsupported)
	require.ErrorIs(t, p.Modify(h, poller.Readable(1)), poller.ErrNotFound)

	// deleting an unknown handle is fine
	require.NoError(t, p.Delete(h))

	require.NoError(t, p.Add(h, poller.Readable(1)))
	require.ErrorIs(t, p.Add(h, poller.Readable(2)), poller.ErrAlreadyExists)
	require.NoError(t, p.Delete(h))
	require.NoError(t, p.Delete(h))

	// and may be added again
	require.NoError(t, p.Add(h, poller.Readable(3)))
	require.NoError(t, p.Delete(h))
}

func TestPoller_deleteStopsEvents(t *testing.T) {
	p := newPoller(t)
	client, server := testutil.TCPPair(t)

	require.NoError(t, p.AddConn(server, poller.Readable(1), poller.Oneshot))
	require.NoError(t, p.DeleteConn(server))

	_, err := client.Write([]byte(`x`))
	require.NoError(t, err)
	assert.Empty(t, waitEvents(t, p, 50*time.Millisecond))
}

func TestPoller_eventsCapacity(t *testing.T) {
	p := newPoller(t)

	const n = 4
	for i := range n {
		_, server := testutil.TCPPair(t)
		require.NoError(t, p.AddConn(server, poller.Writable(uint64(i+1)), poller.Oneshot))
		t.Cleanup(func() { _ = p.DeleteConn(server) })
	}

	keys := make(map[uint64]int)
	events := poller.NewEvents(2)
	for deadline := time.Now().Add(5 * time.Second); len(keys) != n; {
		require.False(t, time.Now().After(deadline), `received %d of %d keys`, len(keys), n)
		count, err := p.Wait(events, 100*time.Millisecond)
		require.NoError(t, err)
		require.LessOrEqual(t, count, 2)
		require.Equal(t, count, events.Len())
		for i := range count {
			keys[events.At(i).Key]++
		}
	}
	for key, count := range keys {
		assert.Equal(t, 1, count, `key %d`, key)
	}
}

func TestPoller_closed(t *testing.T) {
	p, err := poller.New()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Wait(poller.NewEvents(0), 0)
	require.ErrorIs(t, err, poller.ErrClosed)
	require.ErrorIs(t, p.Notify(), poller.ErrClosed)
	require.ErrorIs(t, p.Delete(0), poller.ErrClosed)
	require.ErrorIs(t, p.Add(0, poller.Readable(1)), poller.ErrClosed)
}

func TestPoller_zeroCapacityEvents(t *testing.T) {
	p := newPoller(t)
	require.NoError(t, p.Notify())
	var events poller.Events
	_, err := p.Wait(&events, time.Second)
	require.NoError(t, err)
	assert.Equal(t, poller.DefaultEventsCapacity, events.Capacity())
}

func TestWithEventsCapacity(t *testing.T) {
	_, err := poller.New(poller.WithEventsCapacity(0))
	require.Error(t, err)

	p := newPoller(t, nil, poller.WithEventsCapacity(8))
	assert.NotEmpty(t, p.Backend())
}

func TestWithLogger(t *testing.T) {
	logger, buf := testutil.Logger()
	p, err := poller.New(poller.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	out := buf.String()
	assert.Contains(t, out, `poller created`)
	assert.Contains(t, out, `poller closed`)
	assert.Contains(t, out, `"backend":"`+p.Backend()+`"`)
}

func TestEvent_extra(t *testing.T) {
	ev := poller.All(1)
	assert.False(t, ev.IsInterrupt())
	ev.SetInterrupt(true)
	ev.SetPriority(true)
	assert.True(t, ev.IsInterrupt())
	assert.True(t, ev.IsPriority())
	assert.Equal(t, poller.All(1), ev.WithoutExtra())
	ev.SetInterrupt(false)
	assert.False(t, ev.IsInterrupt())
	assert.True(t, ev.Extra.IsPRI())
}

func TestPollMode_String(t *testing.T) {
	for mode, want := range map[poller.PollMode]string{
		poller.Oneshot:      `Oneshot`,
		poller.Level:        `Level`,
		poller.Edge:         `Edge`,
		poller.EdgeOneshot:  `EdgeOneshot`,
		poller.PollMode(42): `PollMode(invalid)`,
	} {
		assert.Equal(t, want, mode.String())
	}
}

func TestErrors_wrapped(t *testing.T) {
	p := newPoller(t)
	_, server := testutil.TCPPair(t)
	require.NoError(t, p.AddConn(server, poller.Readable(1), poller.Oneshot))
	t.Cleanup(func() { _ = p.DeleteConn(server) })

	err := p.AddConn(server, poller.Readable(1), poller.Oneshot)
	require.True(t, errors.Is(err, poller.ErrAlreadyExists))
	assert.True(t, strings.HasPrefix(err.Error(), poller.ErrAlreadyExists.Error()))
}
