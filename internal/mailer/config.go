package mailer

import (
	"time"

	"github.com/portalmagang/verimail/internal/smtp"
	vtls "github.com/portalmagang/verimail/internal/tls"
)

// DefaultPort is the submission port used when none is configured.
const DefaultPort = 587

// Config is the resolved mail configuration. Build it once and pass it
// by value; nothing in this package mutates it.
type Config struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
	From     string

	// ClientID is the name announced with EHLO.
	ClientID string

	Environment     string
	FallbackAllowed bool
	StepTimeout     time.Duration

	TLSServerName string
	TLSCAFile     string
	TLSInsecure   bool
}

// Configured reports whether SMTP delivery can be attempted.
func (c Config) Configured() bool {
	return c.Host != "" && c.From != ""
}

// Production reports whether the config belongs to a production deployment.
func (c Config) Production() bool {
	return c.Environment == "production"
}

// missing lists the settings that keep the config from being usable.
func (c Config) missing() []string {
	var m []string
	if c.Host == "" {
		m = append(m, "host")
	}
	if c.From == "" {
		m = append(m, "from")
	}
	return m
}

// SMTPConfig converts c into the relay client's configuration.
func (c Config) SMTPConfig() (smtp.Config, error) {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}

	cfg := smtp.Config{
		Host:   c.Host,
		Port:   port,
		Secure: c.Secure,
		Credentials: smtp.LoginCredentials{
			Username: c.Username,
			Password: c.Password,
		},
		LocalName:   c.ClientID,
		StepTimeout: c.StepTimeout,
	}

	if c.Secure {
		tlsCfg, err := vtls.ClientConfig(c.Host, vtls.ClientOptions{
			ServerName:         c.TLSServerName,
			CAFile:             c.TLSCAFile,
			InsecureSkipVerify: c.TLSInsecure,
			Production:         c.Production(),
		})
		if err != nil {
			return smtp.Config{}, err
		}
		cfg.TLSConfig = tlsCfg
	}

	return cfg, nil
}
