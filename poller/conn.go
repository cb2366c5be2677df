package poller

import (
	"syscall"
)

// AddConn registers the handle underlying conn, e.g. a [net.TCPConn] or an
// [os.File]. Like [Poller.AddWithMode], conn must not be closed until
// deleted.
func (p *Poller) AddConn(conn syscall.Conn, interest Event, mode PollMode) error {
	return controlHandle(conn, func(h Handle) error {
		return p.AddWithMode(h, interest, mode)
	})
}

// ModifyConn is [Poller.ModifyWithMode] for the handle underlying conn.
func (p *Poller) ModifyConn(conn syscall.Conn, interest Event, mode PollMode) error {
	return controlHandle(conn, func(h Handle) error {
		return p.ModifyWithMode(h, interest, mode)
	})
}

// DeleteConn is [Poller.Delete] for the handle underlying conn.
func (p *Poller) DeleteConn(conn syscall.Conn) error {
	return controlHandle(conn, p.Delete)
}

// ConnHandle returns the handle underlying conn. The handle is only valid
// for as long as conn is open.
func ConnHandle(conn syscall.Conn) (h Handle, err error) {
	err = controlHandle(conn, func(v Handle) error {
		h = v
		return nil
	})
	return
}

func controlHandle(conn syscall.Conn, fn func(h Handle) error) error {
	rc, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var fnErr error
	if err := rc.Control(func(fd uintptr) {
		fnErr = fn(Handle(fd))
	}); err != nil {
		return err
	}
	return fnErr
}
