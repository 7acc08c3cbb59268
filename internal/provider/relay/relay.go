// Package relay implements a Provider that delivers messages over the SMTP
// wire protocol to a configured relay.
package relay

import (
	"context"

	"github.com/portalmagang/verimail/internal/email"
	"github.com/portalmagang/verimail/internal/smtp"
)

// Deliverer runs one SMTP dialogue. *smtp.Client implements it.
type Deliverer interface {
	Deliver(ctx context.Context, env smtp.Envelope) error
}

// Provider sends messages through an SMTP relay.
type Provider struct {
	client Deliverer
}

// New creates a relay Provider backed by an SMTP client for cfg.
func New(cfg smtp.Config, opts ...smtp.Option) *Provider {
	return &Provider{client: smtp.New(cfg, opts...)}
}

// NewWithClient creates a relay Provider around an existing Deliverer.
func NewWithClient(client Deliverer) *Provider {
	return &Provider{client: client}
}

// Send renders msg as an SMTP envelope and hands it to the relay in a
// single dialogue. Errors are the typed errors of package smtp, unwrapped.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	return p.client.Deliver(ctx, smtp.Envelope{
		From: msg.From,
		To:   msg.To,
		Data: msg.Envelope(),
	})
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}
