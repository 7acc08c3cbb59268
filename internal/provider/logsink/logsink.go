// Package logsink implements a Provider that performs a virtual delivery:
// the message is written to the operational log instead of the network.
package logsink

import (
	"context"
	"log/slog"

	"github.com/portalmagang/verimail/internal/email"
)

// Provider logs messages instead of sending them.
type Provider struct {
	logger *slog.Logger
	reason string
}

// New creates a log sink writing to logger, or slog.Default() when nil.
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

// WithReason returns a copy of the sink that records reason with each
// virtual delivery, e.g. the error that made real delivery impossible.
func (p *Provider) WithReason(reason string) *Provider {
	return &Provider{logger: p.logger, reason: reason}
}

// Send writes recipient, subject and body to the log.
// It always returns nil and never touches the network.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	reason := p.reason
	if reason == "" {
		reason = "delivery skipped"
	}

	p.logger.WarnContext(ctx, "virtual mail delivery", "reason", reason)
	p.logger.InfoContext(ctx, "virtual mail",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "log"
}
