package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portalmagang/verimail/internal/devrelay"
	"github.com/portalmagang/verimail/internal/provider/logsink"
	vtls "github.com/portalmagang/verimail/internal/tls"
)

func newRelayCmd(root *rootOptions) *cobra.Command {
	var (
		listen string
		secure bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the development SMTP sink",
		Long: `Relay accepts SMTP sessions and writes every accepted message to the log.
Point SMTP_HOST and SMTP_PORT at it to exercise real SMTP delivery locally.
With --secure it serves implicit TLS using tls.cert_file and tls.key_file,
or a generated self-signed certificate when those are unset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			logger := slog.Default()

			if listen != "" {
				cfg.Relay.Listen = listen
			}

			relayCfg := devrelay.Config{
				ListenAddr:     cfg.Relay.Listen,
				Sink:           logsink.New(logger).WithReason("captured by dev relay"),
				MaxMessageSize: cfg.Relay.MaxMessageSize,
				IdleTimeout:    cfg.Relay.IdleTimeout,
				Logger:         logger,
			}
			if cfg.RelayAuthEnabled() {
				relayCfg.AuthUsername = cfg.Relay.Username
				relayCfg.AuthPassword = cfg.Relay.Password
			}
			if secure {
				tlsCfg, err := vtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
				if err != nil {
					return fmt.Errorf("failed to load TLS config: %w", err)
				}
				relayCfg.TLSConfig = tlsCfg
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serveRelay(ctx, devrelay.New(relayCfg))
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides relay.listen)")
	cmd.Flags().BoolVar(&secure, "secure", false, "serve implicit TLS")

	return cmd
}

func serveRelay(ctx context.Context, srv *devrelay.Server) error {
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("dev relay failed: %w", err)
	}
	return nil
}
