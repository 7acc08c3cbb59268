package main

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentSends bounds the sends in flight for one invocation.
const maxConcurrentSends = 4

type sendOptions struct {
	to   []string
	name string
	code string
	ttl  time.Duration
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a verification code to one or more recipients",
		Long: `Send composes the verification mail and delivers it through the
configured backend. Without --code a random six digit code is generated and
printed. Each recipient gets its own delivery.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := slog.Default()

			m, backendName, err := newMailer(ctx, root.cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create mailer: %w", err)
			}

			code := opts.code
			if code == "" {
				if code, err = generateCode(); err != nil {
					return fmt.Errorf("failed to generate code: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "code: %s\n", code)
			}

			var expiresAt time.Time
			if opts.ttl > 0 {
				expiresAt = time.Now().Add(opts.ttl)
			}

			logger.Info("sending verification mail",
				"backend", backendName,
				"recipients", len(opts.to),
				"configured", m.Configured(),
			)

			var failed atomic.Int32
			g := new(errgroup.Group)
			g.SetLimit(maxConcurrentSends)
			for _, to := range opts.to {
				g.Go(func() error {
					if err := m.SendVerification(ctx, to, opts.name, code, expiresAt); err != nil {
						failed.Add(1)
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", to, err)
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", to)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("failed to send %d of %d verification mails: %w", failed.Load(), len(opts.to), err)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&opts.to, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringVar(&opts.name, "name", "", "recipient display name used in the greeting")
	cmd.Flags().StringVar(&opts.code, "code", "", "verification code (generated when empty)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 15*time.Minute, "code lifetime shown as the expiry; 0 omits it")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// generateCode returns a uniformly random six digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
