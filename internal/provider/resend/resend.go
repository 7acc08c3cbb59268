// Package resend implements a Provider that sends mail via the Resend API.
package resend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/portalmagang/verimail/internal/email"
)

// ResendProviderConfig holds the configuration for creating a ResendProvider.
type ResendProviderConfig struct {
	APIKey     string
	Sender     string
	SenderName string
}

// EmailsAPI is the subset of the Resend emails service used here.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider sends messages through Resend.
type ResendProvider struct {
	emails EmailsAPI
	config ResendProviderConfig
}

// New creates a ResendProvider authenticated with cfg.APIKey.
func New(cfg ResendProviderConfig) *ResendProvider {
	return NewWithClient(cfg, resend.NewClient(cfg.APIKey).Emails)
}

// NewWithClient creates a ResendProvider around an existing emails client.
func NewWithClient(cfg ResendProviderConfig, emails EmailsAPI) *ResendProvider {
	return &ResendProvider{emails: emails, config: cfg}
}

// Send delivers msg with a single API call.
func (p *ResendProvider) Send(ctx context.Context, msg *email.Message) error {
	resp, err := p.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    p.from(msg),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	if resp != nil {
		slog.Debug("Resend accepted message", "id", resp.Id)
	}
	return nil
}

// Name returns the provider name.
func (p *ResendProvider) Name() string {
	return "resend"
}

func (p *ResendProvider) from(msg *email.Message) string {
	addr := p.config.Sender
	if addr == "" {
		addr = msg.From
	}
	if p.config.SenderName != "" {
		return fmt.Sprintf("%s <%s>", p.config.SenderName, addr)
	}
	return addr
}
