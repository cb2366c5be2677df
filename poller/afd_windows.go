//go:build windows

package poller

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// AFD poll masks, as used by IOCTL_AFD_POLL.
const (
	afdPollReceive          uint32 = 0x001
	afdPollReceiveExpedited uint32 = 0x002
	afdPollSend             uint32 = 0x004
	afdPollDisconnect       uint32 = 0x008
	afdPollAbort            uint32 = 0x010
	afdPollLocalClose       uint32 = 0x020
	afdPollAccept           uint32 = 0x080
	afdPollConnectFail      uint32 = 0x100

	afdReadMask  = afdPollReceive | afdPollAccept | afdPollDisconnect | afdPollReceiveExpedited
	afdErrorMask = afdPollAbort | afdPollConnectFail
)

const (
	ioctlAFDPoll = 0x00012024

	sioBaseHandle    = 0x48000022
	sioBSPHandlePoll = 0x4800001D

	// afdDeviceSockets is the number of sockets sharing one AFD handle
	afdDeviceSockets = 32
)

var (
	modntdll                  = windows.NewLazySystemDLL("ntdll.dll")
	procNtDeviceIoControlFile = modntdll.NewProc("NtDeviceIoControlFile")
	procNtCancelIoFileEx      = modntdll.NewProc("NtCancelIoFileEx")
)

type (
	// afdPollInfo is AFD_POLL_INFO, with room for a single handle.
	afdPollInfo struct {
		Timeout     int64
		HandleCount uint32
		Exclusive   uint32
		Handles     [1]afdPollHandleInfo
	}

	afdPollHandleInfo struct {
		Handle windows.Handle
		Events uint32
		Status windows.NTStatus
	}

	// afdDevice is a handle to \Device\Afd, associated with the completion
	// port, which sockets are polled through.
	afdDevice struct {
		handle windows.Handle
		// sockets counts users, guarded by backend.afdMu
		sockets int
	}
)

// loadAFD checks that the undocumented ntdll functions are available.
func loadAFD() error {
	return errors.Join(
		procNtDeviceIoControlFile.Find(),
		procNtCancelIoFileEx.Find(),
	)
}

func openAFDDevice(port windows.Handle) (*afdDevice, error) {
	name, err := windows.NewNTUnicodeString(`\Device\Afd\Smol`)
	if err != nil {
		return nil, err
	}
	attrs := windows.OBJECT_ATTRIBUTES{
		Length:     uint32(unsafe.Sizeof(windows.OBJECT_ATTRIBUTES{})),
		ObjectName: name,
	}
	var (
		handle windows.Handle
		iosb   windows.IO_STATUS_BLOCK
	)
	if err := windows.NtCreateFile(
		&handle,
		windows.SYNCHRONIZE,
		&attrs,
		&iosb,
		nil,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		windows.FILE_OPEN,
		0,
		0,
		0,
	); err != nil {
		return nil, fmt.Errorf("poller: open afd: %w", err)
	}
	if _, err := windows.CreateIoCompletionPort(handle, port, completionKeyAFD, 0); err != nil {
		_ = windows.CloseHandle(handle)
		return nil, os.NewSyscallError("CreateIoCompletionPort", err)
	}
	if err := windows.SetFileCompletionNotificationModes(handle, windows.FILE_SKIP_SET_EVENT_ON_HANDLE); err != nil {
		_ = windows.CloseHandle(handle)
		return nil, os.NewSyscallError("SetFileCompletionNotificationModes", err)
	}
	return &afdDevice{handle: handle}, nil
}

// poll submits an IOCTL_AFD_POLL for s, which must be pinned until the
// completion is dequeued. The iosb doubles as the APC context, so it is what
// the completion port returns as the overlapped pointer.
func (d *afdDevice) poll(s *afdSocket, events uint32) error {
	s.info = afdPollInfo{
		Timeout:     1<<63 - 1,
		HandleCount: 1,
		Handles: [1]afdPollHandleInfo{{
			Handle: s.base,
			Events: events,
		}},
	}
	s.iosb.Status = windows.STATUS_PENDING
	r0, _, _ := procNtDeviceIoControlFile.Call(
		uintptr(d.handle),
		0,
		0,
		uintptr(unsafe.Pointer(&s.iosb)),
		uintptr(unsafe.Pointer(&s.iosb)),
		ioctlAFDPoll,
		uintptr(unsafe.Pointer(&s.info)),
		unsafe.Sizeof(s.info),
		uintptr(unsafe.Pointer(&s.info)),
		unsafe.Sizeof(s.info),
	)
	switch status := windows.NTStatus(r0); status {
	case windows.STATUS_SUCCESS, windows.STATUS_PENDING:
		return nil
	default:
		return os.NewSyscallError("NtDeviceIoControlFile", status.Errno())
	}
}

// cancel requests cancellation of the in-flight poll for s, if any.
func (d *afdDevice) cancel(s *afdSocket) error {
	if s.iosb.Status != windows.STATUS_PENDING {
		return nil
	}
	var iosb windows.IO_STATUS_BLOCK
	r0, _, _ := procNtCancelIoFileEx.Call(
		uintptr(d.handle),
		uintptr(unsafe.Pointer(&s.iosb)),
		uintptr(unsafe.Pointer(&iosb)),
	)
	switch status := windows.NTStatus(r0); status {
	case windows.STATUS_SUCCESS, windows.STATUS_NOT_FOUND:
		return nil
	default:
		return os.NewSyscallError("NtCancelIoFileEx", status.Errno())
	}
}

func (d *afdDevice) close() error {
	return windows.CloseHandle(d.handle)
}

// baseSocket resolves the socket the AFD driver knows about, bypassing any
// layered service providers.
func baseSocket(socket windows.Handle) (windows.Handle, error) {
	base, err := socketIoctl(socket, sioBaseHandle)
	if err == nil {
		return base, nil
	}
	if errors.Is(err, windows.WSAEINVAL) || errors.Is(err, windows.WSAENOTSOCK) {
		return 0, err
	}
	// some LSPs block SIO_BASE_HANDLE, but not SIO_BSP_HANDLE_POLL
	bsp, err := socketIoctl(socket, sioBSPHandlePoll)
	if err != nil {
		return 0, err
	}
	if bsp == socket {
		return 0, windows.WSAEINVAL
	}
	return socketIoctl(bsp, sioBaseHandle)
}

func socketIoctl(socket windows.Handle, code uint32) (windows.Handle, error) {
	var (
		out   windows.Handle
		bytes uint32
	)
	if err := windows.WSAIoctl(
		socket,
		code,
		nil,
		0,
		(*byte)(unsafe.Pointer(&out)),
		uint32(unsafe.Sizeof(out)),
		&bytes,
		nil,
		0,
	); err != nil {
		return 0, os.NewSyscallError("WSAIoctl", err)
	}
	return out, nil
}

func afdInterestMask(ev Event, withErrors bool) uint32 {
	var mask uint32
	if withErrors || ev.Readable || ev.Writable {
		mask |= afdErrorMask
	}
	if ev.Readable {
		mask |= afdReadMask
	}
	if ev.Writable {
		mask |= afdPollSend
	}
	if ev.Extra.IsHUP() {
		mask |= afdPollAbort
	}
	if ev.Extra.IsPRI() {
		mask |= afdPollReceiveExpedited
	}
	return mask
}

func afdEvent(key uint64, mask uint32) Event {
	ev := Event{
		Key:      key,
		Readable: mask&(afdReadMask|afdErrorMask) != 0,
		Writable: mask&(afdPollSend|afdErrorMask) != 0,
	}
	ev.Extra.set(extraHUP, mask&afdPollAbort != 0)
	ev.Extra.set(extraPRI, mask&afdPollReceiveExpedited != 0)
	ev.Extra.set(extraErr, mask&afdPollConnectFail != 0)
	ev.Extra.set(extraConnectFailed, mask&afdPollConnectFail != 0)
	return ev
}
