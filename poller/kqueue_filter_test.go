//go:build (darwin || dragonfly || freebsd || openbsd) && !poller_poll

package poller_test

import (
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_timerFilter(t *testing.T) {
	p := newPoller(t)
	timer := poller.Timer{ID: 1, Timeout: 10 * time.Millisecond}

	require.NoError(t, p.AddFilter(timer, 5, poller.Oneshot))
	require.ErrorIs(t, p.AddFilter(timer, 6, poller.Oneshot), poller.ErrAlreadyExists)

	start := time.Now()
	assert.Equal(t, []poller.Event{poller.Readable(5)}, waitEvents(t, p, 5*time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	require.NoError(t, p.ModifyFilter(timer, 7, poller.Oneshot))
	assert.Equal(t, []poller.Event{poller.Readable(7)}, waitEvents(t, p, 5*time.Second))

	require.NoError(t, p.DeleteFilter(timer))
	require.NoError(t, p.DeleteFilter(timer))
	require.ErrorIs(t, p.ModifyFilter(timer, 8, poller.Oneshot), poller.ErrNotFound)
}

func TestPoller_processFilter(t *testing.T) {
	p := newPoller(t)
	cmd := exec.Command(os.Args[0], `-test.run=^$`)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Wait() })

	process := poller.Process{PID: cmd.Process.Pid, Ops: poller.ProcessExit}
	if err := p.AddFilter(process, 9, poller.Oneshot); err != nil {
		// the process may already have exited
		t.Skip(err)
	}
	assert.Equal(t, []poller.Event{poller.Readable(9)}, waitEvents(t, p, 10*time.Second))
	assert.Equal(t, `process `+strconv.Itoa(cmd.Process.Pid), process.String())
}
