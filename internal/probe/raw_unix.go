//go:build linux || darwin || freebsd || netbsd || openbsd

package probe

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

type rawConn struct {
	fd int
}

func openRawConn() (packetConn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			return nil, &PermissionError{Err: err}
		}
		return nil, fmt.Errorf("open raw icmp socket: %w", err)
	}
	unix.CloseOnExec(fd)
	return &rawConn{fd: fd}, nil
}

func (c *rawConn) WriteTo(b []byte, dst netip.Addr) error {
	return unix.Sendto(c.fd, b, 0, &unix.SockaddrInet4{Addr: dst.As4()})
}

func (c *rawConn) Wait(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return false, nil
		}
		ms := int((left + time.Millisecond - 1) / time.Millisecond)
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
	}
}

func (c *rawConn) Read(b []byte) (int, error) {
	n, _, err := unix.Recvfrom(c.fd, b, 0)
	return n, err
}

func (c *rawConn) Close() error {
	return unix.Close(c.fd)
}
