package pipeline

import (
	"errors"
	"fmt"
	"net"
)

// ErrPrematureClose is reported when the target announces Connection: close
// before every response of a group has arrived.
var ErrPrematureClose = errors.New("target closed the connection before the group completed")

// TransportError describes an I/O failure on a connection. The run that hit
// it cannot continue.
type TransportError struct {
	// Op is the failing operation: dial, write or read
	Op string

	// Group is the index of the group in flight, or -1 before any group
	Group int

	// Request is the position in the group being written or read, or -1
	Request int

	// ConnID is the connection the failure happened on, 0 if the dial failed
	ConnID uint64

	Err error
}

func (e *TransportError) Error() string {
	if e.Group < 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed at group %d request %d (conn %d): %v", e.Op, e.Group, e.Request, e.ConnID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	return isTimeout(e.Err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
