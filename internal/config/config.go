// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for verimail.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/portalmagang/verimail/internal/mailer"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted by MAIL_PROVIDER.
const (
	ProviderAuto   = ""
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderResend = "resend"
	ProviderLog    = "log"
)

// Config holds the complete application configuration.
type Config struct {
	Environment string        `yaml:"environment"`
	Provider    string        `yaml:"provider"`
	SMTP        SMTPConfig    `yaml:"smtp"`
	Mailer      MailerConfig  `yaml:"mailer"`
	SES         SESConfig     `yaml:"ses"`
	Graph       GraphConfig   `yaml:"graph"`
	Resend      ResendConfig  `yaml:"resend"`
	Relay       RelayConfig   `yaml:"relay"`
	TLS         TLSConfig     `yaml:"tls"`
	Logging     LoggingConfig `yaml:"logging"`
}

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Secure        bool          `yaml:"secure"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	From          string        `yaml:"from"`
	ClientID      string        `yaml:"client_id"`
	Timeout       time.Duration `yaml:"timeout"`
	TLSServerName string        `yaml:"tls_server_name"`
	TLSCAFile     string        `yaml:"tls_ca_file"`
	TLSInsecure   bool          `yaml:"tls_insecure"`
}

// MailerConfig holds delivery policy settings.
type MailerConfig struct {
	// ConsoleFallback is nil until set by defaults, file or environment.
	ConsoleFallback *bool `yaml:"console_fallback"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey     string `yaml:"api_key"`
	Sender     string `yaml:"sender"`
	SenderName string `yaml:"sender_name"`
}

// RelayConfig holds the development sink relay configuration.
type RelayConfig struct {
	Listen         string        `yaml:"listen"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// TLSConfig holds TLS certificate file paths for the dev relay.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := defaults()
	cfg.applyEnvVars()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Defaults only fill what the file left empty.
	if err := mergo.Merge(cfg, defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	cfg.Environment = strings.ToLower(cfg.Environment)

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Production reports whether this is a production deployment.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// FallbackAllowed reports whether undeliverable mail may be logged instead.
// It is never allowed in production.
func (c *Config) FallbackAllowed() bool {
	if c.Production() {
		return false
	}
	return c.Mailer.ConsoleFallback == nil || *c.Mailer.ConsoleFallback
}

// SMTPConfigured returns true if an outbound relay and a sender are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.sender() != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
// Credentials may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// ResendConfigured returns true if the Resend API key and sender are set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != "" && c.Resend.Sender != ""
}

// RelayAuthEnabled returns true if the dev relay requires authentication.
func (c *Config) RelayAuthEnabled() bool {
	return c.Relay.Username != "" && c.Relay.Password != ""
}

// Mailer resolves the immutable mailer configuration.
func (c *Config) Mailer() mailer.Config {
	return mailer.Config{
		Host:            c.SMTP.Host,
		Port:            c.SMTP.Port,
		Secure:          c.SMTP.Secure,
		Username:        c.SMTP.Username,
		Password:        c.SMTP.Password,
		From:            c.sender(),
		ClientID:        c.SMTP.ClientID,
		Environment:     c.Environment,
		FallbackAllowed: c.FallbackAllowed(),
		StepTimeout:     c.SMTP.Timeout,
		TLSServerName:   c.SMTP.TLSServerName,
		TLSCAFile:       c.SMTP.TLSCAFile,
		TLSInsecure:     c.SMTP.TLSInsecure,
	}
}

// sender is the envelope sender: SMTP_FROM, else the SMTP login.
func (c *Config) sender() string {
	if c.SMTP.From != "" {
		return c.SMTP.From
	}
	return c.SMTP.Username
}

// defaults returns a Config holding every default value.
func defaults() *Config {
	fallback := true
	return &Config{
		Environment: "development",
		SMTP: SMTPConfig{
			Port:     mailer.DefaultPort,
			ClientID: "localhost",
			Timeout:  30 * time.Second,
		},
		Mailer: MailerConfig{ConsoleFallback: &fallback},
		Relay: RelayConfig{
			Listen:         ":2525",
			MaxMessageSize: defaultMaxMessageSize,
			IdleTimeout:    5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderAuto, ProviderSMTP, ProviderSES, ProviderGraph, ProviderResend, ProviderLog:
	default:
		return fmt.Errorf("unknown mail provider %q", c.Provider)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Environment = strings.ToLower(v)
	} else if v := os.Getenv("NODE_ENV"); v != "" {
		c.Environment = strings.ToLower(v)
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_SECURE"); v != "" {
		c.SMTP.Secure = v == "true"
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		c.SMTP.From = v
	}
	if v := os.Getenv("SMTP_CLIENT_ID"); v != "" {
		c.SMTP.ClientID = v
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.SMTP.Timeout = d
		}
	}
	if v := os.Getenv("SMTP_TLS_SERVER_NAME"); v != "" {
		c.SMTP.TLSServerName = v
	}
	if v := os.Getenv("SMTP_TLS_CA_FILE"); v != "" {
		c.SMTP.TLSCAFile = v
	}
	if v := os.Getenv("SMTP_TLS_INSECURE"); v != "" {
		c.SMTP.TLSInsecure = v == "true"
	}
	if v := os.Getenv("SMTP_CONSOLE_FALLBACK"); v != "" {
		enabled := v != "false"
		c.Mailer.ConsoleFallback = &enabled
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		c.Resend.APIKey = v
	}
	if v := os.Getenv("RESEND_SENDER"); v != "" {
		c.Resend.Sender = v
	}
	if v := os.Getenv("RESEND_SENDER_NAME"); v != "" {
		c.Resend.SenderName = v
	}

	if v := os.Getenv("RELAY_LISTEN"); v != "" {
		c.Relay.Listen = v
	}
	if v := os.Getenv("RELAY_USERNAME"); v != "" {
		c.Relay.Username = v
	}
	if v := os.Getenv("RELAY_PASSWORD"); v != "" {
		c.Relay.Password = v
	}
	if v := os.Getenv("RELAY_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Relay.MaxMessageSize = size
		}
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}
