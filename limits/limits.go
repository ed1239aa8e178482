// Package limits provides centralized datagram size limits for the stage
// transport. This ensures consistent validation across the socket, framing
// and forwarding layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagram is the size of every receive buffer. Larger datagrams are
	// truncated by the kernel and rejected by the framing layer.
	MaxDatagram = 4096

	// HeaderSize is the framed header: caller id (1), channel (2),
	// sequence (2), size (2) and authentication tag (8).
	HeaderSize = 15

	// AuthTagSize is the length of the truncated keyed hash carried in every
	// framed header.
	AuthTagSize = 8

	// MaxPayload is the largest payload that still fits a framed datagram.
	MaxPayload = MaxDatagram - HeaderSize

	// MaxStageDevices bounds caller ids; valid ids are below it. Every
	// per-peer table is sized or checked against it.
	MaxStageDevices = 32
)

// ValidCallerID reports whether id addresses a stage device slot.
func ValidCallerID(id uint8) bool {
	return int(id) < MaxStageDevices
}

var (
	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageTruncated indicates a datagram shorter than its header claims
	ErrMessageTruncated = errors.New("message truncated")
)

// ValidatePayload checks a payload before it is framed. Empty payloads are
// legal on the wire (registration without version, bare pings), so only the
// upper bound is enforced.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxPayload)
	}
	return nil
}

// ValidateFrame checks that a received datagram holds at least a header and
// that the declared payload size fits in what was received.
func ValidateFrame(frame []byte, declared int) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("%w: frame size %d below header size %d", ErrMessageTruncated, len(frame), HeaderSize)
	}
	if declared > len(frame)-HeaderSize {
		return fmt.Errorf("%w: declared payload %d, received %d", ErrMessageTruncated, declared, len(frame)-HeaderSize)
	}
	return nil
}
