package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalmagang/verimail/internal/devrelay"
	"github.com/portalmagang/verimail/internal/email"
	"github.com/portalmagang/verimail/internal/mailer"
)

var envVars = []string{
	"APP_ENV", "NODE_ENV", "MAIL_PROVIDER",
	"SMTP_HOST", "SMTP_PORT", "SMTP_SECURE", "SMTP_USER", "SMTP_PASS", "SMTP_FROM",
	"SMTP_CLIENT_ID", "SMTP_TIMEOUT", "SMTP_TLS_SERVER_NAME", "SMTP_TLS_CA_FILE",
	"SMTP_TLS_INSECURE", "SMTP_CONSOLE_FALLBACK",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER",
	"RESEND_API_KEY", "RESEND_SENDER", "RESEND_SENDER_NAME",
	"RELAY_LISTEN", "RELAY_USERNAME", "RELAY_PASSWORD", "RELAY_MAX_MESSAGE_SIZE",
	"TLS_CERT_FILE", "TLS_KEY_FILE", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

type captureSink struct {
	mu   sync.Mutex
	msgs []email.Message
}

func (s *captureSink) Send(_ context.Context, msg *email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) received() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.msgs...)
}

// startRelay runs a dev relay on loopback and points SMTP_HOST/SMTP_PORT at it.
func startRelay(t *testing.T) *captureSink {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sink := &captureSink{}
	srv := devrelay.New(devrelay.Config{Sink: sink, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	return sink
}

func TestGenerateCode(t *testing.T) {
	t.Parallel()

	six := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Regexp(t, six, code)
	}
}

func TestSendCommand_ThroughRelay(t *testing.T) {
	clearEnv(t)
	sink := startRelay(t)
	t.Setenv("SMTP_FROM", "noreply@unsika.ac.id")

	stdout, _, err := execute(t, "send",
		"--to", "budi@student.unsika.ac.id",
		"--to", "sari@student.unsika.ac.id",
		"--name", "Budi",
		"--code", "482913",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "budi@student.unsika.ac.id: ok")
	assert.Contains(t, stdout, "sari@student.unsika.ac.id: ok")
	assert.NotContains(t, stdout, "code:")

	msgs := sink.received()
	require.Len(t, msgs, 2)
	for _, msg := range msgs {
		assert.Equal(t, "noreply@unsika.ac.id", msg.From)
		assert.Contains(t, msg.Body, "Kode: 482913")
		assert.Contains(t, msg.Body, "Berlaku hingga:")
	}
}

func TestSendCommand_GeneratedCodeNoExpiry(t *testing.T) {
	clearEnv(t)
	sink := startRelay(t)
	t.Setenv("SMTP_FROM", "noreply@unsika.ac.id")

	stdout, _, err := execute(t, "send", "--to", "budi@student.unsika.ac.id", "--ttl", "0")
	require.NoError(t, err)

	match := regexp.MustCompile(`code: (\d{6})`).FindStringSubmatch(stdout)
	require.Len(t, match, 2, "stdout: %s", stdout)

	msgs := sink.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "Kode: "+match[1])
	assert.NotContains(t, msgs[0].Body, "Berlaku hingga:")
}

func TestSendCommand_LogProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAIL_PROVIDER", "log")

	stdout, _, err := execute(t, "send", "--to", "budi@student.unsika.ac.id", "--code", "000001")
	require.NoError(t, err)
	assert.Contains(t, stdout, "budi@student.unsika.ac.id: ok")
}

func TestSendCommand_UnconfiguredInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	_, stderr, err := execute(t, "send", "--to", "budi@student.unsika.ac.id", "--code", "482913")
	require.Error(t, err)

	var cfgErr *mailer.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ElementsMatch(t, []string{"host", "from"}, cfgErr.Missing)
	assert.Contains(t, stderr, "mailer not configured")
}

func TestSendCommand_UnconfiguredFallsBack(t *testing.T) {
	clearEnv(t)

	stdout, _, err := execute(t, "send", "--to", "budi@student.unsika.ac.id", "--code", "482913")
	require.NoError(t, err)
	assert.Contains(t, stdout, "budi@student.unsika.ac.id: ok")
}

func TestSendCommand_PartialFailure(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAIL_PROVIDER", "log")

	stdout, stderr, err := execute(t, "send",
		"--to", "budi@student.unsika.ac.id",
		"--to", "Budi <budi@student.unsika.ac.id>",
		"--code", "482913",
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, mailer.ErrInvalidRecipient)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, stdout, "budi@student.unsika.ac.id: ok")
	assert.Contains(t, stderr, "not a bare address")
}

func TestSendCommand_RequiresRecipient(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "send", "--code", "482913")
	assert.Error(t, err)
}

func TestSendCommand_ConfigFile(t *testing.T) {
	clearEnv(t)
	sink := startRelay(t)

	host := os.Getenv("SMTP_HOST")
	port, err := strconv.Atoi(os.Getenv("SMTP_PORT"))
	require.NoError(t, err)
	t.Setenv("SMTP_HOST", "")
	t.Setenv("SMTP_PORT", "")

	path := filepath.Join(t.TempDir(), "verimail.yaml")
	yaml := "environment: production\n" +
		"smtp:\n" +
		"  host: " + host + "\n" +
		"  port: " + strconv.Itoa(port) + "\n" +
		"  from: portal@unsika.ac.id\n" +
		"  timeout: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, _, err = execute(t, "--config", path, "send", "--to", "budi@student.unsika.ac.id", "--code", "482913")
	require.NoError(t, err)

	msgs := sink.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "portal@unsika.ac.id", msgs[0].From)
}

func TestRootCommand_InvalidLogFormat(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "--log-format", "xml", "send", "--to", "budi@student.unsika.ac.id")
	assert.Error(t, err)
}

func TestRelayCommand_BadTLSFiles(t *testing.T) {
	clearEnv(t)
	t.Setenv("TLS_CERT_FILE", filepath.Join(t.TempDir(), "missing.pem"))
	t.Setenv("TLS_KEY_FILE", filepath.Join(t.TempDir(), "missing.key"))

	done := make(chan error, 1)
	go func() {
		_, _, err := execute(t, "relay", "--secure", "--listen", "127.0.0.1:0")
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load TLS config")
	case <-time.After(5 * time.Second):
		t.Fatal("relay command did not fail")
	}
}
