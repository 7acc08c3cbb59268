// Package provider defines the interface for mail delivery backends.
package provider

import (
	"context"

	"github.com/portalmagang/verimail/internal/email"
)

// Provider is the interface that mail delivery backends must implement.
// Each provider makes a single delivery attempt per Send call; retry policy,
// if any, belongs to the caller.
type Provider interface {
	// Send delivers a composed message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
