package wire

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
)

// websocketGUID is the fixed key-derivation suffix from RFC 6455 Section 4.2.2.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var headerDelimiter = []byte("\r\n\r\n")

// Upgrade is a parsed WebSocket upgrade request.
type Upgrade struct {
	RequestLine string
	Headers     map[string]string
	Key         string
}

// ParseUpgrade scans buf for a complete HTTP header block and parses it.
//
// Returns the parsed request and the number of bytes the header block
// occupied (including the terminating blank line); bytes after it belong to
// the frame layer and must be kept by the caller. ErrIncomplete means the
// block has not fully arrived. Validation failures return an error whose
// message is suitable for a 400 body.
func ParseUpgrade(buf []byte) (*Upgrade, int, error) {
	end := bytes.Index(buf, headerDelimiter)
	if end < 0 {
		return nil, 0, ErrIncomplete
	}
	consumed := end + len(headerDelimiter)

	lines := strings.Split(string(buf[:end]), "\r\n")
	u := &Upgrade{
		RequestLine: lines[0],
		Headers:     make(map[string]string, len(lines)-1),
	}

	// Header keys are matched case-sensitively; clients send the
	// canonical capitalization in practice.
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		u.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	u.Key = u.Headers["Sec-WebSocket-Key"]
	if u.Key == "" {
		return u, consumed, fmt.Errorf("missing Sec-WebSocket-Key header")
	}
	if !strings.EqualFold(u.Headers["Upgrade"], "websocket") {
		return u, consumed, fmt.Errorf("invalid Upgrade header")
	}
	if !strings.Contains(strings.ToLower(u.Headers["Connection"]), "upgrade") {
		return u, consumed, fmt.Errorf("invalid Connection header")
	}

	return u, consumed, nil
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client key
// (RFC 6455 Section 4.2.2: base64 of the SHA-1 of key + GUID).
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SwitchingProtocols renders the 101 response completing the handshake.
func SwitchingProtocols(key string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n")
}

// BadRequest renders the 400 response sent before dropping a connection
// that failed the handshake.
func BadRequest(reason string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 400 Bad Request\r\n"+
		"Content-Type: text/plain\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n%s", len(reason), reason))
}
