// Package wire implements the RFC 6455 byte layer by hand: frame
// encode/decode over a growable receive buffer, and the HTTP upgrade
// handshake. It is pure — no sockets, no goroutines — so the reactor
// can drive it against whatever bytes have arrived so far.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcode values from RFC 6455 Section 5.2.
const (
	OpContinuation = 0x0
	OpText         = 0x1
	OpBinary       = 0x2
	OpClose        = 0x8
	OpPing         = 0x9
	OpPong         = 0xA
)

// Payload length encoding thresholds (RFC 6455 Section 5.2).
const (
	payloadLen7Bit  = 125 // 0-125 stored directly in 7 bits
	payloadLen16Bit = 126 // marker: 16-bit extended length follows
	payloadLen64Bit = 127 // marker: 64-bit extended length follows
)

// MaxPayload caps a single frame's payload. The server holds at most one
// frame per connection in memory at a time; anything bigger than this is a
// hostile or broken peer.
const MaxPayload = 1 << 20 // 1 MiB

var (
	// ErrIncomplete means the buffer does not yet hold a whole frame.
	// Not fatal: keep the buffer and wait for more bytes.
	ErrIncomplete = errors.New("wire: incomplete frame")

	// ErrUnmasked means a client frame arrived without the MASK bit.
	// RFC 6455 Section 5.3 requires client-to-server masking; the
	// connection must be closed.
	ErrUnmasked = errors.New("wire: unmasked client frame")

	// ErrMalformed covers corrupt length encodings and oversize frames.
	// Fatal to the connection.
	ErrMalformed = errors.New("wire: malformed frame")
)

// Frame is one decoded WebSocket frame. Payload is unmasked.
type Frame struct {
	Fin     bool
	Opcode  byte
	Payload []byte
}

// Decode parses the first complete frame out of buf.
//
// Returns the frame and the number of bytes it occupied so the caller can
// advance its buffer. ErrIncomplete means no bytes should be consumed yet.
// ErrUnmasked and ErrMalformed are protocol violations; the caller must
// drop the connection without a reply.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrIncomplete
	}

	f := Frame{
		Fin:    buf[0]&0x80 != 0,
		Opcode: buf[0] & 0x0F,
	}

	if buf[1]&0x80 == 0 {
		return Frame{}, 0, ErrUnmasked
	}

	length := uint64(buf[1] & 0x7F)
	offset := 2

	switch length {
	case payloadLen16Bit:
		if len(buf) < 4 {
			return Frame{}, 0, ErrIncomplete
		}
		length = uint64(binary.BigEndian.Uint16(buf[2:4]))
		offset = 4
	case payloadLen64Bit:
		if len(buf) < 10 {
			return Frame{}, 0, ErrIncomplete
		}
		length = binary.BigEndian.Uint64(buf[2:10])
		// RFC 6455 Section 5.2: the most significant bit must be 0.
		if length&(1<<63) != 0 {
			return Frame{}, 0, fmt.Errorf("%w: 64-bit length high bit set", ErrMalformed)
		}
		offset = 10
	}

	if length > MaxPayload {
		return Frame{}, 0, fmt.Errorf("%w: payload %d exceeds %d", ErrMalformed, length, MaxPayload)
	}

	// 4-byte masking key precedes the payload.
	total := offset + 4 + int(length)
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}

	var key [4]byte
	copy(key[:], buf[offset:offset+4])

	f.Payload = make([]byte, length)
	copy(f.Payload, buf[offset+4:total])
	MaskPayload(f.Payload, key)

	return f, total, nil
}

// EncodeText builds a single unmasked text frame with FIN=1, choosing the
// minimal length encoding. Server-to-client frames are never masked.
func EncodeText(payload []byte) []byte {
	n := len(payload)

	var header []byte
	switch {
	case n <= payloadLen7Bit:
		header = []byte{0x80 | OpText, byte(n)}
	case n <= 0xFFFF:
		header = []byte{0x80 | OpText, payloadLen16Bit, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = 0x80 | OpText
		header[1] = payloadLen64Bit
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	out := make([]byte, 0, len(header)+n)
	out = append(out, header...)
	return append(out, payload...)
}

// EncodeControl builds a single unmasked control frame (close, ping, pong).
// RFC 6455 Section 5.5 caps control payloads at 125 bytes; longer payloads
// are truncated.
func EncodeControl(opcode byte, payload []byte) []byte {
	if len(payload) > payloadLen7Bit {
		payload = payload[:payloadLen7Bit]
	}
	out := make([]byte, 0, 2+len(payload))
	out = append(out, 0x80|opcode, byte(len(payload)))
	return append(out, payload...)
}

// MaskPayload XORs data in place with key[i mod 4] (RFC 6455 Section 5.3).
// XOR is its own inverse, so the same call masks and unmasks.
func MaskPayload(data []byte, key [4]byte) {
	for i := range data {
		data[i] ^= key[i%4]
	}
}
