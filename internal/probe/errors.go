package probe

import (
	"errors"
	"fmt"
)

// ErrTimeout reports that no matching echo reply arrived within the timeout.
var ErrTimeout = errors.New("probe: timed out waiting for echo reply")

// ResolutionError reports that a host name could not be resolved to an IPv4
// address.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PermissionError reports that the process lacks the privilege to open an
// ICMP socket. No probe can succeed after it.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("open icmp socket: insufficient privileges: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// IsPermission reports whether err carries a *PermissionError.
func IsPermission(err error) bool {
	var perr *PermissionError
	return errors.As(err, &perr)
}
