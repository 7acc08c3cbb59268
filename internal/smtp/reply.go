package smtp

import (
	"bytes"
	"io"
	"slices"
	"strings"
)

// maxReplySize bounds the bytes buffered while waiting for a terminal line.
const maxReplySize = 64 * 1024

// readChunkSize is the size of a single read from the connection.
const readChunkSize = 4096

// Reply is a complete SMTP reply. Raw is the concatenation of every line
// that made up the reply, line terminators included.
type Reply struct {
	Code int
	Raw  string
}

// Lines returns the reply lines without their terminators.
func (r Reply) Lines() []string {
	raw := strings.TrimRight(r.Raw, "\r\n")
	if raw == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Message returns the text of the terminal line after the code and separator.
func (r Reply) Message() string {
	lines := r.Lines()
	if len(lines) == 0 {
		return ""
	}
	last := lines[len(lines)-1]
	if len(last) <= 4 {
		return ""
	}
	return last[4:]
}

// replyBuffer accumulates received bytes and yields replies once a terminal
// line has arrived. It tolerates arbitrary chunking.
type replyBuffer struct {
	buf []byte
	// scanned is the offset of the first line not yet inspected.
	scanned int
}

func (b *replyBuffer) write(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *replyBuffer) len() int {
	return len(b.buf)
}

// next returns the oldest complete reply in the buffer and drops its bytes.
// Bytes following the terminal line stay buffered.
func (b *replyBuffer) next() (Reply, bool) {
	for {
		i := bytes.IndexByte(b.buf[b.scanned:], '\n')
		if i < 0 {
			return Reply{}, false
		}
		start := b.scanned
		end := start + i + 1
		b.scanned = end

		line := bytes.TrimSuffix(b.buf[start:end-1], []byte{'\r'})
		code, final := parseReplyLine(line)
		if !final {
			continue
		}

		reply := Reply{Code: code, Raw: string(b.buf[:end])}
		b.buf = append(b.buf[:0], b.buf[end:]...)
		b.scanned = 0
		return reply, true
	}
}

// parseReplyLine reports the code of a "<3 digits><sep><text>" line and
// whether sep marks the end of a reply. Lines that do not carry a code are
// not terminal.
func parseReplyLine(line []byte) (int, bool) {
	if len(line) < 3 {
		return 0, false
	}
	code := 0
	for _, c := range line[:3] {
		if c < '0' || c > '9' {
			return 0, false
		}
		code = code*10 + int(c-'0')
	}
	if len(line) == 3 {
		return code, true
	}
	return code, line[3] == ' '
}

// ReplyReader reads complete, possibly multi-line replies from a stream.
type ReplyReader struct {
	r     io.Reader
	buf   replyBuffer
	chunk []byte
	err   error
}

// NewReplyReader wraps r. Bytes received past the end of a reply are kept
// for the next ReadReply call.
func NewReplyReader(r io.Reader) *ReplyReader {
	return &ReplyReader{r: r, chunk: make([]byte, readChunkSize)}
}

// ReadReply blocks until a full reply is available. When expected is not
// empty, a reply whose code is not listed yields a *ProtocolError. A stream
// that ends or fails first yields a *ConnectionError or *TimeoutError.
func (rr *ReplyReader) ReadReply(step State, expected ...int) (Reply, error) {
	for {
		if reply, ok := rr.buf.next(); ok {
			if len(expected) > 0 && !slices.Contains(expected, reply.Code) {
				return reply, &ProtocolError{Step: step, Code: reply.Code, Text: reply.Raw}
			}
			return reply, nil
		}
		if rr.buf.len() > maxReplySize {
			return Reply{}, &ProtocolError{Step: step, Text: "reply exceeds maximum size"}
		}

		if rr.err != nil {
			return Reply{}, classifyIOError(step, "read", rr.err, nil)
		}

		n, err := rr.r.Read(rr.chunk)
		rr.buf.write(rr.chunk[:n])
		// Bytes delivered alongside an error are still parsed first.
		rr.err = err
	}
}
