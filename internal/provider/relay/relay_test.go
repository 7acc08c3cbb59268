package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalmagang/verimail/internal/email"
	"github.com/portalmagang/verimail/internal/provider"
	"github.com/portalmagang/verimail/internal/smtp"
)

// mockDeliverer records the last envelope.
type mockDeliverer struct {
	last  smtp.Envelope
	calls int
	err   error
}

func (m *mockDeliverer) Deliver(_ context.Context, env smtp.Envelope) error {
	m.calls++
	m.last = env
	return m.err
}

func TestSend_BuildsEnvelope(t *testing.T) {
	t.Parallel()

	mock := &mockDeliverer{}
	p := NewWithClient(mock)

	msg := email.ComposeVerification("noreply@unsika.ac.id", "a@b.com", email.Verification{Name: "Budi", Code: "482913"})
	require.NoError(t, p.Send(context.Background(), msg))

	assert.Equal(t, 1, mock.calls)
	assert.Equal(t, "noreply@unsika.ac.id", mock.last.From)
	assert.Equal(t, "a@b.com", mock.last.To)
	assert.Equal(t, msg.Envelope(), mock.last.Data)
}

func TestSend_PropagatesTypedError(t *testing.T) {
	t.Parallel()

	want := &smtp.ProtocolError{Step: smtp.StateRcptTo, Code: 550, Text: "550 no such user\r\n"}
	p := NewWithClient(&mockDeliverer{err: want})

	err := p.Send(context.Background(), &email.Message{To: "x@y.id"})

	var pe *smtp.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()

	var _ provider.Provider = (*Provider)(nil)
	assert.Equal(t, "smtp", New(smtp.Config{Host: "relay.test", Port: 25}).Name())
}
