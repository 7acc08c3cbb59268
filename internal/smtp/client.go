// Package smtp implements the client side of the mail transfer dialogue used
// to hand a single message to a relay: transport selection, multi-line reply
// parsing and the fixed command sequence with per-step deadlines.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// defaultStepTimeout bounds each round trip when Config.StepTimeout is unset.
const defaultStepTimeout = 30 * time.Second

// bodyTerminator ends the DATA payload.
var bodyTerminator = []byte("\r\n.\r\n")

// Config holds the relay connection parameters.
type Config struct {
	Host   string
	Port   int
	Secure bool

	// Credentials enable AUTH LOGIN when both fields are set.
	Credentials LoginCredentials

	// LocalName is the identity sent with EHLO.
	LocalName string

	// StepTimeout bounds connect and every command/reply round trip.
	StepTimeout time.Duration

	// TLSConfig is used when Secure is set. ServerName defaults to Host.
	TLSConfig *tls.Config
}

// Envelope is one message handed to the relay. Data is the complete DATA
// payload; the lone-period terminator is appended if missing.
type Envelope struct {
	From string
	To   string
	Data []byte
}

// Client delivers envelopes to one relay. It keeps no connection between
// calls and is safe for concurrent use.
type Client struct {
	config Config
	dial   DialFunc
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the transport, e.g. with net.Pipe in tests.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the given relay configuration.
func New(cfg Config, opts ...Option) *Client {
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.Secure {
		if cfg.TLSConfig == nil {
			cfg.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			cfg.TLSConfig = cfg.TLSConfig.Clone()
		}
		if cfg.TLSConfig.ServerName == "" {
			cfg.TLSConfig.ServerName = cfg.Host
		}
	}

	c := &Client{
		config: cfg,
		logger: slog.Default(),
	}
	c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		return Dial(ctx, addr, c.config.Secure, c.config.TLSConfig, c.config.StepTimeout)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the relay host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Deliver runs one complete dialogue for env. It makes exactly one attempt:
// any unexpected reply, connection failure or expired deadline aborts the
// dialogue, closes the socket and returns a *ProtocolError,
// *ConnectionError or *TimeoutError.
func (c *Client) Deliver(ctx context.Context, env Envelope) error {
	addr := c.Addr()

	conn, err := c.dial(ctx, addr)
	if err != nil {
		c.logger.Warn("smtp connect failed", "addr", addr, "error", err)
		return err
	}

	s := newSession(conn, c.config.StepTimeout, c.logger)
	// Cancelling ctx unblocks a pending read by closing the socket.
	stop := context.AfterFunc(ctx, func() { s.close() })
	defer stop()
	defer s.close()

	s.logger.Debug("smtp session opened", "addr", addr, "secure", c.config.Secure)

	for _, st := range c.plan(env) {
		if _, err := s.run(ctx, st); err != nil {
			s.logger.Warn("smtp dialogue aborted",
				"step", st.state.String(),
				"error", err,
			)
			return err
		}
	}

	s.logger.Debug("smtp session closed", "to", env.To)
	return nil
}

// plan returns the ordered steps of the dialogue for env.
func (c *Client) plan(env Envelope) []step {
	steps := []step{
		{state: StateGreeting, expect: []int{220}},
		{state: StateEhlo, line: "EHLO " + c.config.LocalName, expect: []int{250}},
	}

	if c.config.Credentials.Enabled() {
		user, pass := c.config.Credentials.responses()
		steps = append(steps,
			step{state: StateAuthLogin, line: "AUTH LOGIN", expect: []int{334}},
			step{state: StateAuthUser, line: user, secret: true, expect: []int{334}},
			step{state: StateAuthPass, line: pass, secret: true, expect: []int{235}},
		)
	}

	return append(steps,
		step{state: StateMailFrom, line: fmt.Sprintf("MAIL FROM:<%s>", env.From), expect: []int{250}},
		step{state: StateRcptTo, line: fmt.Sprintf("RCPT TO:<%s>", env.To), expect: []int{250, 251}},
		step{state: StateData, line: "DATA", expect: []int{354}},
		step{state: StateBody, data: terminated(env.Data), expect: []int{250}},
		step{state: StateQuit, line: "QUIT", expect: []int{221}},
	)
}

// terminated returns data ending in CRLF "." CRLF.
func terminated(data []byte) []byte {
	if bytes.HasSuffix(data, bodyTerminator) {
		return data
	}
	out := make([]byte, 0, len(data)+len(bodyTerminator))
	out = append(out, data...)
	if !bytes.HasSuffix(out, []byte("\r\n")) {
		out = append(out, "\r\n"...)
	}
	return append(out, ".\r\n"...)
}
