package wire

import (
	"errors"
	"strings"
	"testing"
)

const sampleRequest = "GET /ws HTTP/1.1\r\n" +
	"Host: example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

func TestAcceptKey_RFCVector(t *testing.T) {
	// The worked example from RFC 6455 Section 1.3.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("AcceptKey = %q, want %q", got, want)
	}
}

func TestParseUpgrade_Complete(t *testing.T) {
	u, n, err := ParseUpgrade([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("ParseUpgrade failed: %v", err)
	}
	if n != len(sampleRequest) {
		t.Errorf("consumed %d bytes, want %d", n, len(sampleRequest))
	}
	if u.Key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Errorf("key = %q", u.Key)
	}
	if u.RequestLine != "GET /ws HTTP/1.1" {
		t.Errorf("request line = %q", u.RequestLine)
	}
}

func TestParseUpgrade_Incomplete(t *testing.T) {
	// Every prefix missing the blank-line delimiter must wait for more.
	for cut := 0; cut < len(sampleRequest)-1; cut++ {
		_, n, err := ParseUpgrade([]byte(sampleRequest[:cut]))
		if !errors.Is(err, ErrIncomplete) {
			t.Fatalf("prefix %d: expected ErrIncomplete, got %v", cut, err)
		}
		if n != 0 {
			t.Fatalf("prefix %d: consumed %d bytes", cut, n)
		}
	}
}

func TestParseUpgrade_TrailingBytesNotConsumed(t *testing.T) {
	// Frame bytes that arrive in the same read as the handshake must stay
	// available to the frame layer.
	trailing := "\x81\x85extra"
	_, n, err := ParseUpgrade([]byte(sampleRequest + trailing))
	if err != nil {
		t.Fatalf("ParseUpgrade failed: %v", err)
	}
	if n != len(sampleRequest) {
		t.Errorf("consumed %d bytes, want %d (trailing frame data must remain)", n, len(sampleRequest))
	}
}

func TestParseUpgrade_HeaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing key",
			mutate:  func(r string) string { return strings.Replace(r, "Sec-WebSocket-Key", "X-Key", 1) },
			wantErr: "Sec-WebSocket-Key",
		},
		{
			name:    "wrong upgrade value",
			mutate:  func(r string) string { return strings.Replace(r, "Upgrade: websocket", "Upgrade: h2c", 1) },
			wantErr: "Upgrade",
		},
		{
			name:    "connection without upgrade token",
			mutate:  func(r string) string { return strings.Replace(r, "Connection: Upgrade", "Connection: close", 1) },
			wantErr: "Connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseUpgrade([]byte(tt.mutate(sampleRequest)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseUpgrade_CaseInsensitiveValues(t *testing.T) {
	req := strings.Replace(sampleRequest, "Upgrade: websocket", "Upgrade: WebSocket", 1)
	req = strings.Replace(req, "Connection: Upgrade", "Connection: keep-alive, UPGRADE", 1)

	if _, _, err := ParseUpgrade([]byte(req)); err != nil {
		t.Errorf("mixed-case header values rejected: %v", err)
	}
}

func TestSwitchingProtocols_Response(t *testing.T) {
	resp := string(SwitchingProtocols("dGhlIHNhbXBsZSBub25jZQ=="))
	if !strings.HasPrefix(resp, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("bad status line: %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("accept header missing or wrong: %q", resp)
	}
	if !strings.HasSuffix(resp, "\r\n\r\n") {
		t.Error("response not terminated by blank line")
	}
}

func TestBadRequest_ContentLength(t *testing.T) {
	resp := string(BadRequest("Invalid WebSocket request"))
	if !strings.HasPrefix(resp, "HTTP/1.1 400 Bad Request\r\n") {
		t.Errorf("bad status line: %q", resp)
	}
	if !strings.Contains(resp, "Content-Length: 25\r\n") {
		t.Errorf("content length wrong: %q", resp)
	}
	if !strings.HasSuffix(resp, "Invalid WebSocket request") {
		t.Errorf("body missing: %q", resp)
	}
}
