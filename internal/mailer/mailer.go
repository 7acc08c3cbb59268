// Package mailer delivers verification codes. It composes the message,
// hands it to the configured backend and applies the fallback policy when
// delivery is impossible.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/portalmagang/verimail/internal/email"
	"github.com/portalmagang/verimail/internal/provider"
	"github.com/portalmagang/verimail/internal/provider/logsink"
	"github.com/portalmagang/verimail/internal/provider/relay"
	"github.com/portalmagang/verimail/internal/smtp"
)

// DegradedHook observes every delivery that ended in the fallback log.
// cause is ErrNotConfigured or the backend error.
type DegradedHook func(ctx context.Context, to string, cause error)

// Mailer sends verification mail. It holds no per-call state and is safe
// for concurrent use.
type Mailer struct {
	config     Config
	backend    provider.Provider
	fallback   *logsink.Provider
	logger     *slog.Logger
	onDegraded DegradedHook
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithBackend replaces the default SMTP relay backend. A non-nil backend
// makes the mailer configured regardless of Config.Host.
func WithBackend(p provider.Provider) Option {
	return func(m *Mailer) { m.backend = p }
}

// WithFallback replaces the log sink used for virtual delivery.
func WithFallback(p *logsink.Provider) Option {
	return func(m *Mailer) { m.fallback = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailer) { m.logger = l }
}

// WithDegradedHook registers fn to run each time a send degrades to the
// fallback log. It does not change the result of SendVerification.
func WithDegradedHook(fn DegradedHook) Option {
	return func(m *Mailer) { m.onDegraded = fn }
}

// New creates a Mailer. Without WithBackend, an SMTP relay backend is built
// from cfg when cfg is configured.
func New(cfg Config, opts ...Option) (*Mailer, error) {
	m := &Mailer{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback == nil {
		m.fallback = logsink.New(m.logger)
	}

	if m.backend == nil && cfg.Configured() {
		smtpCfg, err := cfg.SMTPConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build SMTP config: %w", err)
		}
		m.backend = relay.New(smtpCfg, smtp.WithLogger(m.logger))
	}

	return m, nil
}

// Configured reports whether a delivery backend is available.
func (m *Mailer) Configured() bool {
	return m.backend != nil
}

// SendVerification mails code to the recipient. A zero expiresAt omits the
// expiry line.
//
// Without a backend it returns a *ConfigurationError, or logs the message
// and returns nil when fallback is allowed. When the backend fails, the
// backend's error is returned unchanged unless fallback is allowed, in
// which case the message is logged and nil is returned.
func (m *Mailer) SendVerification(ctx context.Context, to, name, code string, expiresAt time.Time) error {
	if err := validateRecipient(to); err != nil {
		return err
	}

	msg := email.ComposeVerification(m.config.From, to, email.Verification{
		Name:      name,
		Code:      code,
		ExpiresAt: expiresAt,
	})

	if m.backend == nil {
		if !m.config.FallbackAllowed {
			return &ConfigurationError{Missing: m.config.missing()}
		}
		return m.degrade(ctx, msg, ErrNotConfigured)
	}

	err := m.backend.Send(ctx, msg)
	if err == nil {
		m.logger.InfoContext(ctx, "verification mail sent",
			"to", to,
			"provider", m.backend.Name(),
		)
		return nil
	}

	if !m.config.FallbackAllowed {
		m.logger.ErrorContext(ctx, "verification mail failed",
			"to", to,
			"provider", m.backend.Name(),
			"error", err,
		)
		return err
	}
	return m.degrade(ctx, msg, err)
}

// degrade performs the virtual delivery and notifies the hook.
func (m *Mailer) degrade(ctx context.Context, msg *email.Message, cause error) error {
	if err := m.fallback.WithReason(cause.Error()).Send(ctx, msg); err != nil {
		return err
	}
	if m.onDegraded != nil {
		m.onDegraded(ctx, msg.To, cause)
	}
	return nil
}

// validateRecipient accepts exactly one bare address. It is written to
// RCPT TO unchanged.
func validateRecipient(to string) error {
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", ErrInvalidRecipient, to)
	}
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidRecipient, to, err)
	}
	if addr.Address != to {
		return fmt.Errorf("%w: %q is not a bare address", ErrInvalidRecipient, to)
	}
	return nil
}
