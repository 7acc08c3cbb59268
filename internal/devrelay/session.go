package devrelay

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/portalmagang/verimail/internal/parser"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// session is one client connection.
type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int
	logger *slog.Logger

	// Current transaction
	mailFrom string
	rcptTo   []string
}

func newSession(conn net.Conn, srv *Server) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateConnected,
		logger: srv.logger.With(
			"session_id", uuid.NewString(),
			"remote", conn.RemoteAddr().String(),
		),
	}
}

// handle runs the session until QUIT, a read error, the idle timeout or
// server shutdown.
func (s *session) handle(ctx context.Context) {
	defer s.conn.Close()

	// Shutdown interrupts a blocked read.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// A client that never completes the handshake is held no longer than
	// the idle timeout.
	if tlsConn, ok := s.conn.(*tls.Conn); ok {
		hctx, cancel := context.WithTimeout(ctx, s.srv.config.IdleTimeout)
		err := tlsConn.HandshakeContext(hctx)
		cancel()
		if err != nil {
			s.logger.Debug("TLS handshake failed", "error", err)
			return
		}
	}

	s.logger.Debug("session opened")
	s.writeLine("220 %s ESMTP verimail-devrelay", s.srv.config.Hostname)

	for {
		if ctx.Err() != nil {
			s.writeLine("421 4.3.2 Service shutting down")
			return
		}

		line, err := s.readLine()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.writeLine("421 4.3.2 Service shutting down")
			case errors.Is(err, os.ErrDeadlineExceeded):
				s.writeLine("421 4.4.2 Idle timeout, closing connection")
			case err != io.EOF:
				s.logger.Debug("connection read error", "error", err)
			}
			return
		}

		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			s.logger.Debug("session closed")
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "STARTTLS":
		s.writeLine("502 5.5.1 STARTTLS not supported, use implicit TLS")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.srv.config.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.srv.config.Hostname, arg)
	if s.srv.auth.Enabled() {
		s.writeLine("250-AUTH LOGIN PLAIN")
	}
	s.writeLine("250-SIZE %d", s.srv.config.MaxMessageSize)
	s.writeLine("250-8BITMIME")
	s.writeLine("250 OK")
}

// handleAUTH processes AUTH commands (PLAIN and LOGIN mechanisms).
func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.srv.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 Already authenticated")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	var err error
	switch strings.ToUpper(parts[0]) {
	case "PLAIN":
		err = s.authPlain(parts)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errCancelled):
		s.writeLine("501 Authentication cancelled")
	case err != nil:
		s.logger.Info("authentication failed", "error", err)
		s.writeLine("535 5.7.8 Authentication failed")
	default:
		s.state = stateAuthOK
		s.writeLine("235 2.7.0 Authentication successful")
	}
}

var errCancelled = errors.New("authentication cancelled")

// challenge sends a 334 prompt and returns the client's answer.
func (s *session) challenge(prompt string) (string, error) {
	s.writeLine("334 %s", prompt)
	answer, err := s.readLine()
	if err != nil {
		return "", err
	}
	if answer == "*" {
		return "", errCancelled
	}
	return answer, nil
}

func (s *session) authPlain(parts []string) error {
	encoded := ""
	if len(parts) > 1 && parts[1] != "" {
		// Credentials provided inline: AUTH PLAIN <base64>
		encoded = parts[1]
	} else {
		var err error
		if encoded, err = s.challenge(""); err != nil {
			return err
		}
	}
	return s.srv.auth.VerifyPlain(encoded)
}

func (s *session) authLogin() error {
	// base64 "Username:" and "Password:"
	user, err := s.challenge("VXNlcm5hbWU6")
	if err != nil {
		return err
	}
	pass, err := s.challenge("UGFzc3dvcmQ6")
	if err != nil {
		return err
	}
	return s.srv.auth.VerifyLogin(user, pass)
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.srv.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 5.7.0 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 Nested MAIL command")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	// The null reverse-path <> is accepted.
	addr, ok := extractAddress(arg[5:])
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, ok := extractAddress(arg[3:])
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message up to the lone-period line, undoing dot
// stuffing, and delivers one copy per envelope recipient to the sink.
func (s *session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data strings.Builder
	tooBig := false
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.config.IdleTimeout)); err != nil {
			s.resetTransaction()
			return
		}
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.logger.Warn("error reading DATA", "error", err)
			s.resetTransaction()
			return
		}

		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}

		if int64(data.Len()+len(line)) > s.srv.config.MaxMessageSize {
			// Keep draining until the terminator.
			tooBig = true
			continue
		}
		data.WriteString(line)
	}
	defer s.resetTransaction()

	if tooBig {
		s.writeLine("552 5.3.4 Message exceeds maximum size")
		return
	}

	msg, err := parser.Parse([]byte(data.String()))
	if err != nil {
		s.logger.Warn("failed to parse message", "error", err)
		s.writeLine("550 5.6.0 Failed to process message")
		return
	}
	if msg.From == "" {
		msg.From = s.mailFrom
	}

	queueID := uuid.NewString()
	sink := s.srv.config.Sink
	for _, rcpt := range s.rcptTo {
		delivered := *msg
		delivered.To = rcpt
		if err := sink.Send(ctx, &delivered); err != nil {
			s.logger.Error("sink send failed",
				"sink", sink.Name(),
				"queue_id", queueID,
				"error", err,
			)
			s.writeLine("451 4.3.0 Temporary failure, please try again later")
			return
		}
	}

	s.logger.Info("message accepted",
		"queue_id", queueID,
		"from", s.mailFrom,
		"recipients", len(s.rcptTo),
		"size", data.Len(),
	)
	s.writeLine("250 2.0.0 OK queued as %s", queueID)
}

// resetTransaction clears the current mail transaction state without
// affecting the session state (greeting, auth).
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.state > stateAuthOK {
		if s.srv.auth.Enabled() {
			s.state = stateAuthOK
		} else {
			s.state = stateGreeted
		}
	}
}

// readLine refreshes the idle deadline and reads one CRLF-terminated line.
func (s *session) readLine() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.config.IdleTimeout)); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		s.logger.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.logger.Debug("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an address from a MAIL or RCPT parameter,
// handling both angle-bracket and bare formats. ESMTP parameters after the
// address are ignored.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	if s == "" {
		return "", false
	}
	return strings.Fields(s)[0], true
}
