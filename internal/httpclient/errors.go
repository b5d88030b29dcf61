package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeout is matched by errors.Is for transport errors caused by the
// per-request deadline.
var ErrTimeout = errors.New("request timeout")

// TransportError is returned when no valid HTTP response was received:
// DNS failure, refused or reset connection, TLS failure or a timeout.
// A non-2xx status is never a TransportError.
type TransportError struct {
	Op      string // "dial", "do", "read"
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	kind := "transport error"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s %s: %s (%s): %v", e.Method, e.URL, kind, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTimeout) match timeouts from either backend.
func (e *TransportError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// IsTransportError reports whether err is (or wraps) a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
