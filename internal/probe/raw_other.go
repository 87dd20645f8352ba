//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package probe

import (
	"errors"
	"runtime"
)

func openRawConn() (packetConn, error) {
	return nil, &PermissionError{Err: errors.New("raw icmp sockets are not supported on " + runtime.GOOS)}
}
