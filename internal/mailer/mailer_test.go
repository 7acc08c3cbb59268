package mailer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/portalmagang/verimail/internal/email"
	"github.com/portalmagang/verimail/internal/smtp"
)

const testFrom = "noreply@unsika.ac.id"

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockBackend implements provider.Provider.
type mockBackend struct {
	calls atomic.Int32
	err   error

	mu   sync.Mutex
	last *email.Message
}

func (m *mockBackend) Send(_ context.Context, msg *email.Message) error {
	m.calls.Add(1)
	m.mu.Lock()
	m.last = msg
	m.mu.Unlock()
	return m.err
}

func (m *mockBackend) Name() string { return "mock" }

// startRelay serves one scripted SMTP dialogue on loopback. rcptReply is
// sent in answer to RCPT TO.
func startRelay(t *testing.T, rcptReply string) (string, int, <-chan []string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	commands := make(chan []string, 1)
	go func() {
		var seen []string
		defer func() { commands <- seen }()

		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		io.WriteString(conn, "220 relay.test ESMTP\r\n")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			seen = append(seen, cmd)

			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				io.WriteString(conn, "250-relay.test\r\n250 8BITMIME\r\n")
			case strings.HasPrefix(cmd, "MAIL"):
				io.WriteString(conn, "250 ok\r\n")
			case strings.HasPrefix(cmd, "RCPT"):
				io.WriteString(conn, rcptReply)
			case cmd == "DATA":
				io.WriteString(conn, "354 go ahead\r\n")
				for {
					body, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if body == ".\r\n" {
						break
					}
				}
				io.WriteString(conn, "250 queued\r\n")
			case cmd == "QUIT":
				io.WriteString(conn, "221 bye\r\n")
				return
			default:
				io.WriteString(conn, "502 unknown\r\n")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, commands
}

func relayConfig(host string, port int, fallback bool) Config {
	return Config{
		Host:            host,
		Port:            port,
		From:            testFrom,
		ClientID:        "portal.test",
		FallbackAllowed: fallback,
		StepTimeout:     2 * time.Second,
	}
}

func TestConfig_Configured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"empty", Config{}, false},
		{"host only", Config{Host: "smtp.test"}, false},
		{"from only", Config{From: testFrom}, false},
		{"host and from", Config{Host: "smtp.test", From: testFrom}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.Configured())
		})
	}
}

func TestConfig_SMTPConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults port", func(t *testing.T) {
		t.Parallel()

		cfg, err := Config{Host: "smtp.test", Username: "u", Password: "p", ClientID: "app"}.SMTPConfig()
		require.NoError(t, err)
		assert.Equal(t, DefaultPort, cfg.Port)
		assert.Equal(t, "app", cfg.LocalName)
		assert.True(t, cfg.Credentials.Enabled())
		assert.Nil(t, cfg.TLSConfig)
	})

	t.Run("secure builds tls config", func(t *testing.T) {
		t.Parallel()

		cfg, err := Config{Host: "smtp.test", Port: 465, Secure: true, TLSServerName: "mx.test"}.SMTPConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg.TLSConfig)
		assert.Equal(t, "mx.test", cfg.TLSConfig.ServerName)
	})

	t.Run("insecure rejected in production", func(t *testing.T) {
		t.Parallel()

		_, err := Config{Host: "smtp.test", Secure: true, TLSInsecure: true, Environment: "production"}.SMTPConfig()
		require.Error(t, err)
	})
}

func TestNew_InvalidTLSConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{
		Host:      "smtp.test",
		From:      testFrom,
		Secure:    true,
		TLSCAFile: "/nonexistent/ca.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build SMTP config")
}

func TestSendVerification_UnconfiguredNoFallback(t *testing.T) {
	t.Parallel()

	var logs syncBuffer
	m, err := New(Config{Environment: "production"}, WithLogger(newTestLogger(&logs)))
	require.NoError(t, err)
	assert.False(t, m.Configured())

	err = m.SendVerification(context.Background(), "a@b.com", "Budi", "482913", time.Time{})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, []string{"host", "from"}, cfgErr.Missing)
	assert.NotContains(t, logs.String(), "482913")
}

func TestSendVerification_UnconfiguredFallback(t *testing.T) {
	t.Parallel()

	var logs syncBuffer
	var hookCause error
	m, err := New(
		Config{FallbackAllowed: true},
		WithLogger(newTestLogger(&logs)),
		WithDegradedHook(func(_ context.Context, to string, cause error) {
			assert.Equal(t, "a@b.com", to)
			hookCause = cause
		}),
	)
	require.NoError(t, err)

	err = m.SendVerification(context.Background(), "a@b.com", "Budi", "482913", time.Time{})
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "virtual mail delivery")
	assert.Contains(t, out, "to=a@b.com")
	assert.Contains(t, out, "Kode: 482913")
	assert.Contains(t, out, "mailer not configured")
	assert.ErrorIs(t, hookCause, ErrNotConfigured)
}

func TestSendVerification_BackendSuccess(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	hookCalled := false
	m, err := New(
		Config{From: testFrom},
		WithBackend(backend),
		WithLogger(newTestLogger(io.Discard)),
		WithDegradedHook(func(context.Context, string, error) { hookCalled = true }),
	)
	require.NoError(t, err)
	assert.True(t, m.Configured())

	expires := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	require.NoError(t, m.SendVerification(context.Background(), "a@b.com", "Budi", "482913", expires))

	require.EqualValues(t, 1, backend.calls.Load())
	assert.Equal(t, email.ComposeVerification(testFrom, "a@b.com", email.Verification{
		Name: "Budi", Code: "482913", ExpiresAt: expires,
	}), backend.last)
	assert.Contains(t, backend.last.Body, "Berlaku hingga: 19 Okt 2026, 21.30 (WIB)")
	assert.False(t, hookCalled)
}

func TestSendVerification_BackendFailure(t *testing.T) {
	t.Parallel()

	backendErr := &smtp.ProtocolError{Step: smtp.StateRcptTo, Code: 550, Text: "550 no such user\r\n"}

	t.Run("fallback allowed degrades", func(t *testing.T) {
		t.Parallel()

		var logs syncBuffer
		var hookCause error
		m, err := New(
			Config{From: testFrom, FallbackAllowed: true},
			WithBackend(&mockBackend{err: backendErr}),
			WithLogger(newTestLogger(&logs)),
			WithDegradedHook(func(_ context.Context, _ string, cause error) { hookCause = cause }),
		)
		require.NoError(t, err)

		require.NoError(t, m.SendVerification(context.Background(), "a@b.com", "Budi", "482913", time.Time{}))
		assert.Contains(t, logs.String(), "Kode: 482913")
		assert.Contains(t, logs.String(), "550")
		assert.Same(t, backendErr, hookCause)
	})

	t.Run("fallback disallowed returns original error", func(t *testing.T) {
		t.Parallel()

		var logs syncBuffer
		m, err := New(
			Config{From: testFrom},
			WithBackend(&mockBackend{err: backendErr}),
			WithLogger(newTestLogger(&logs)),
		)
		require.NoError(t, err)

		err = m.SendVerification(context.Background(), "a@b.com", "Budi", "482913", time.Time{})
		assert.Same(t, backendErr, err)
		assert.NotContains(t, logs.String(), "virtual mail")
	})
}

func TestSendVerification_RelayRejectsRecipient(t *testing.T) {
	t.Parallel()

	t.Run("without fallback", func(t *testing.T) {
		t.Parallel()

		host, port, commands := startRelay(t, "550 5.1.1 no such user\r\n")
		m, err := New(relayConfig(host, port, false), WithLogger(newTestLogger(io.Discard)))
		require.NoError(t, err)

		err = m.SendVerification(context.Background(), "nobody@unsika.ac.id", "Budi", "482913", time.Time{})

		var pe *smtp.ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, smtp.StateRcptTo, pe.Step)
		assert.Equal(t, 550, pe.Code)

		seen := <-commands
		assert.Equal(t, []string{
			"EHLO portal.test",
			"MAIL FROM:<" + testFrom + ">",
			"RCPT TO:<nobody@unsika.ac.id>",
		}, seen)
	})

	t.Run("with fallback", func(t *testing.T) {
		t.Parallel()

		host, port, commands := startRelay(t, "550 5.1.1 no such user\r\n")
		var logs syncBuffer
		m, err := New(relayConfig(host, port, true), WithLogger(newTestLogger(&logs)))
		require.NoError(t, err)

		err = m.SendVerification(context.Background(), "nobody@unsika.ac.id", "Budi", "482913", time.Time{})
		require.NoError(t, err)
		<-commands

		out := logs.String()
		assert.Contains(t, out, "virtual mail delivery")
		assert.Contains(t, out, "Kode: 482913")
		assert.Contains(t, out, "550")
	})
}

func TestSendVerification_RelayAccepts(t *testing.T) {
	t.Parallel()

	host, port, commands := startRelay(t, "250 ok\r\n")
	m, err := New(relayConfig(host, port, false), WithLogger(newTestLogger(io.Discard)))
	require.NoError(t, err)

	require.NoError(t, m.SendVerification(context.Background(), "a@b.com", "Budi", "482913", time.Time{}))

	seen := <-commands
	assert.Equal(t, []string{
		"EHLO portal.test",
		"MAIL FROM:<" + testFrom + ">",
		"RCPT TO:<a@b.com>",
		"DATA",
		"QUIT",
	}, seen)
}

func TestSendVerification_InvalidRecipient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		to   string
	}{
		{"empty", ""},
		{"no at sign", "budi"},
		{"header injection", "a@b.com\r\nBcc: x@y.com"},
		{"bare line feed", "a@b.com\nx"},
		{"display name", "Budi <a@b.com>"},
		{"two addresses", "a@b.com, c@d.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			backend := &mockBackend{}
			m, err := New(Config{From: testFrom, FallbackAllowed: true}, WithBackend(backend), WithLogger(newTestLogger(io.Discard)))
			require.NoError(t, err)

			err = m.SendVerification(context.Background(), tt.to, "Budi", "482913", time.Time{})
			assert.ErrorIs(t, err, ErrInvalidRecipient)
			assert.Zero(t, backend.calls.Load())
		})
	}
}

func TestSendVerification_Concurrent(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{}
	m, err := New(Config{From: testFrom}, WithBackend(backend), WithLogger(newTestLogger(io.Discard)))
	require.NoError(t, err)

	const n = 32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return m.SendVerification(context.Background(),
				fmt.Sprintf("user%d@unsika.ac.id", i), "Budi", fmt.Sprintf("%06d", i), time.Time{})
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, n, backend.calls.Load())
}

func TestConfigurationError_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "mailer not configured", (&ConfigurationError{}).Error())
	assert.Equal(t, "mailer not configured: missing host, from",
		(&ConfigurationError{Missing: []string{"host", "from"}}).Error())
	assert.True(t, errors.Is(&ConfigurationError{}, ErrNotConfigured))
}
