//go:build unix

package poller_test

import (
	"os"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_pipe(t *testing.T) {
	p := newPoller(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})

	require.NoError(t, p.AddConn(r, poller.Readable(1), poller.Oneshot))
	t.Cleanup(func() { _ = p.DeleteConn(r) })
	require.NoError(t, p.AddConn(w, poller.Writable(2), poller.Oneshot))
	t.Cleanup(func() { _ = p.DeleteConn(w) })

	assert.Equal(t, []poller.Event{poller.Writable(2)}, waitEvents(t, p, 5*time.Second))

	_, err = w.Write([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, []poller.Event{poller.Readable(1)}, waitEvents(t, p, 5*time.Second))
}

func TestPoller_hangUp(t *testing.T) {
	p := newPoller(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, p.AddConn(r, poller.Readable(1), poller.Oneshot))
	t.Cleanup(func() { _ = p.DeleteConn(r) })

	require.NoError(t, w.Close())
	got := waitEvents(t, p, 5*time.Second)
	require.Len(t, got, 1)
	assert.True(t, got[0].Readable)
}
