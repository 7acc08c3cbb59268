// Package email defines the outbound message model and the composer that
// turns a verification request into a wire-ready envelope.
package email

import (
	"bytes"
	"strings"
)

// contentType is the only body type verimail emits.
const contentType = "text/plain; charset=utf-8"

// Message is a single-recipient plain-text mail. It is built once by the
// composer and treated as read-only afterwards.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Envelope renders the message as the DATA payload of an SMTP dialogue:
// headers, a blank line, the CRLF-normalised and dot-stuffed body, and the
// terminating lone-period line.
func (m *Message) Envelope() []byte {
	var b bytes.Buffer

	b.WriteString("From: " + m.From + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + m.Subject + "\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	body = strings.TrimSuffix(body, "\n")
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, ".") {
			b.WriteByte('.')
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	b.WriteString(".\r\n")
	return b.Bytes()
}
