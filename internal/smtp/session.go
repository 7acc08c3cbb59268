package smtp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// redacted replaces credential lines in debug logs.
const redacted = "<redacted>"

// step is one command/reply round trip of the dialogue.
type step struct {
	state State
	// line is written followed by CRLF; empty for read-only steps.
	line string
	// data is written verbatim instead of line.
	data []byte
	// secret suppresses logging of line.
	secret bool
	expect []int
}

// session is the socket and receive buffer of one delivery attempt. It is
// owned by a single Deliver call and closed exactly once.
type session struct {
	id          string
	conn        net.Conn
	replies     *ReplyReader
	stepTimeout time.Duration
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSession(conn net.Conn, stepTimeout time.Duration, logger *slog.Logger) *session {
	id := uuid.NewString()
	return &session{
		id:          id,
		conn:        conn,
		replies:     NewReplyReader(conn),
		stepTimeout: stepTimeout,
		logger:      logger.With("session_id", id),
	}
}

// close releases the socket. Later calls return the first result.
func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// run performs a single step: write the command, if any, then block until
// the reply is complete and its code validated.
func (s *session) run(ctx context.Context, st step) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, classifyIOError(st.state, "cancel", err, err)
	}
	if err := s.conn.SetDeadline(s.deadline(ctx)); err != nil {
		return Reply{}, classifyIOError(st.state, "deadline", err, ctx.Err())
	}

	switch {
	case st.data != nil:
		s.logger.Debug("smtp send", "step", st.state.String(), "bytes", len(st.data))
		if _, err := s.conn.Write(st.data); err != nil {
			return Reply{}, classifyIOError(st.state, "write", err, ctx.Err())
		}
	case st.line != "":
		logged := st.line
		if st.secret {
			logged = redacted
		}
		s.logger.Debug("smtp send", "step", st.state.String(), "line", logged)
		if _, err := s.conn.Write([]byte(st.line + "\r\n")); err != nil {
			return Reply{}, classifyIOError(st.state, "write", err, ctx.Err())
		}
	}

	reply, err := s.replies.ReadReply(st.state, st.expect...)
	if err != nil {
		return reply, s.annotate(ctx, err)
	}
	s.logger.Debug("smtp reply", "step", st.state.String(), "code", reply.Code)
	return reply, nil
}

// deadline is the earlier of the context deadline and now+stepTimeout.
func (s *session) deadline(ctx context.Context) time.Time {
	var dl time.Time
	if s.stepTimeout > 0 {
		dl = time.Now().Add(s.stepTimeout)
	}
	if ctxDl, ok := ctx.Deadline(); ok && (dl.IsZero() || ctxDl.Before(dl)) {
		dl = ctxDl
	}
	return dl
}

// annotate replaces a read failure caused by context cancellation with an
// error that carries the context cause.
func (s *session) annotate(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil {
		return err
	}
	switch e := err.(type) {
	case *ConnectionError:
		return classifyIOError(e.Step, e.Op, e.Err, ctxErr)
	case *TimeoutError:
		return classifyIOError(e.Step, "read", e.Err, ctxErr)
	}
	return err
}
