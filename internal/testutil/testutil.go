// Package testutil provides helpers shared by the tests of this module.
package testutil

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Buffer is an io.Writer safe for concurrent use, capturing log output.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *Buffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *Buffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

// Logger returns a stumpy logger at debug level, without timestamps, and the
// buffer it writes JSON lines to.
func Logger() (*logiface.Logger[logiface.Event], *Buffer) {
	var buf Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(&buf),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	return logger, &buf
}

// TCPPair returns both ends of a loopback TCP connection, closed on cleanup.
func TCPPair(t testing.TB) (client, server *net.TCPConn) {
	t.Helper()
	ln, err := net.ListenTCP(`tcp`, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	type result struct {
		conn *net.TCPConn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := ln.AcceptTCP()
		accepted <- result{conn, err}
	}()

	client, err = net.DialTCP(`tcp`, nil, ln.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case r := <-accepted:
		if r.err != nil {
			t.Fatal(r.err)
		}
		server = r.conn
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out accepting`)
	}
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}
