package mailer

import (
	"errors"
	"strings"
)

var (
	// ErrNotConfigured is matched by every *ConfigurationError.
	ErrNotConfigured = errors.New("mailer not configured")

	// ErrInvalidRecipient is returned before composing when the address
	// is not a single valid mailbox.
	ErrInvalidRecipient = errors.New("invalid recipient address")
)

// ConfigurationError is returned when delivery is impossible and fallback
// is not allowed.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return ErrNotConfigured.Error()
	}
	return ErrNotConfigured.Error() + ": missing " + strings.Join(e.Missing, ", ")
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNotConfigured
}
