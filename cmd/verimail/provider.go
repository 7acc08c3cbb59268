package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/portalmagang/verimail/internal/config"
	"github.com/portalmagang/verimail/internal/mailer"
	"github.com/portalmagang/verimail/internal/provider"
	"github.com/portalmagang/verimail/internal/provider/graph"
	"github.com/portalmagang/verimail/internal/provider/logsink"
	"github.com/portalmagang/verimail/internal/provider/resend"
	"github.com/portalmagang/verimail/internal/provider/ses"
)

// backend is the selected delivery backend. A nil Provider with name "smtp"
// means the mailer builds its own relay from the SMTP settings.
type backend struct {
	name     string
	provider provider.Provider
	sender   string
}

// selectBackend chooses the delivery backend. An explicit cfg.Provider must
// be configured; otherwise the first configured backend wins in the order
// SMTP, Graph, SES, Resend. No configured backend yields name "none".
func selectBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		if !cfg.SMTPConfigured() {
			return backend{}, fmt.Errorf("smtp provider selected but SMTP_HOST or SMTP_FROM is not set")
		}
		return backend{name: config.ProviderSMTP}, nil
	case config.ProviderGraph:
		if !cfg.GraphConfigured() {
			return backend{}, fmt.Errorf("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET or GRAPH_SENDER is not set")
		}
		return graphBackend(cfg), nil
	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return backend{}, fmt.Errorf("ses provider selected but SES_REGION or SES_SENDER is not set")
		}
		return sesBackend(ctx, cfg)
	case config.ProviderResend:
		if !cfg.ResendConfigured() {
			return backend{}, fmt.Errorf("resend provider selected but RESEND_API_KEY or RESEND_SENDER is not set")
		}
		return resendBackend(cfg), nil
	case config.ProviderLog:
		return backend{name: config.ProviderLog, provider: logsink.New(logger)}, nil
	}

	switch {
	case cfg.SMTPConfigured():
		return backend{name: config.ProviderSMTP}, nil
	case cfg.GraphConfigured():
		return graphBackend(cfg), nil
	case cfg.SESConfigured():
		return sesBackend(ctx, cfg)
	case cfg.ResendConfigured():
		return resendBackend(cfg), nil
	default:
		return backend{name: "none"}, nil
	}
}

func graphBackend(cfg *config.Config) backend {
	return backend{
		name: config.ProviderGraph,
		provider: graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}),
		sender: cfg.Graph.Sender,
	}
}

func sesBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return backend{}, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return backend{name: config.ProviderSES, provider: p, sender: cfg.SES.Sender}, nil
}

func resendBackend(cfg *config.Config) backend {
	return backend{
		name: config.ProviderResend,
		provider: resend.New(resend.ResendProviderConfig{
			APIKey:     cfg.Resend.APIKey,
			Sender:     cfg.Resend.Sender,
			SenderName: cfg.Resend.SenderName,
		}),
		sender: cfg.Resend.Sender,
	}
}

// newMailer builds the Mailer for cfg with the selected backend.
func newMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mailer.Mailer, string, error) {
	b, err := selectBackend(ctx, cfg, logger)
	if err != nil {
		return nil, "", err
	}

	mcfg := cfg.Mailer()
	if mcfg.From == "" {
		mcfg.From = b.sender
	}

	opts := []mailer.Option{
		mailer.WithLogger(logger),
		mailer.WithDegradedHook(func(ctx context.Context, to string, cause error) {
			logger.WarnContext(ctx, "verification mail degraded to log", "to", to, "cause", cause)
		}),
	}
	if b.provider != nil {
		opts = append(opts, mailer.WithBackend(b.provider))
	}

	m, err := mailer.New(mcfg, opts...)
	if err != nil {
		return nil, "", err
	}
	return m, b.name, nil
}
