package smtp

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// DialFunc opens the byte stream to the relay. The returned connection must
// be ready for the greeting, i.e. any TLS handshake already completed.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Dial connects to addr over TCP and, when secure is set, completes a TLS
// handshake before returning. The secure/plain choice is final; there is no
// STARTTLS upgrade.
func Dial(ctx context.Context, addr string, secure bool, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyIOError(StateConnecting, "dial", err, ctx.Err())
	}
	if !secure {
		return conn, nil
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, classifyIOError(StateConnecting, "tls", err, ctx.Err())
	}
	return tlsConn, nil
}
