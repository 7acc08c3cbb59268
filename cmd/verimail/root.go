package main

import (
	"github.com/spf13/cobra"

	"github.com/portalmagang/verimail/internal/config"
)

// rootOptions holds the global flags and the resolved configuration.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "verimail",
		Short: "Verification mail delivery for the internship portal",
		Long: `verimail delivers one-time verification codes over SMTP or an API
backend (AWS SES, Microsoft Graph, Resend), and falls back to logging the
message outside production when delivery is impossible.

Example:
  verimail send --to budi@student.unsika.ac.id --name Budi
  verimail relay --listen :2525`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file (optional)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json or text (overrides LOG_FORMAT)")

	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newRelayCmd(opts))
	return cmd
}

// load resolves the configuration, including flag overrides, and installs
// the default logger.
func (o *rootOptions) load() error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	if err := setupLogger(cfg.Logging); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
