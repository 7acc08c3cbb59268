package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// ConnectionError reports a socket that could not be opened, failed the TLS
// handshake, or was reset or closed before the dialogue finished.
type ConnectionError struct {
	Step State
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp: connection failed during %s (%s): %v", e.Step, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a complete reply whose code was not acceptable for
// the step it answered. Text holds every raw line of that reply.
type ProtocolError struct {
	Step State
	Code int
	Text string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("smtp: unexpected reply %d during %s: %s", e.Code, e.Step, firstLine(e.Text))
}

// TimeoutError reports a step that did not complete before its deadline.
type TimeoutError struct {
	Step State
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("smtp: timed out during %s: %v", e.Step, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// classifyIOError maps a read, write or dial failure to the typed taxonomy.
// ctxErr is the context error observed at the time of failure, if any.
func classifyIOError(step State, op string, err, ctxErr error) error {
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return &TimeoutError{Step: step, Err: ctxErr}
	case ctxErr != nil:
		return &ConnectionError{Step: step, Op: op, Err: ctxErr}
	case isTimeout(err):
		return &TimeoutError{Step: step, Err: err}
	case errors.Is(err, io.EOF):
		return &ConnectionError{Step: step, Op: op, Err: io.ErrUnexpectedEOF}
	default:
		return &ConnectionError{Step: step, Op: op, Err: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
