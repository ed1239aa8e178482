// Package limits provides centralized datagram size constants and validation
// functions for the stage transport.
//
// # Size Hierarchy
//
//   - MaxDatagram (4096 bytes): every receive buffer has this size.
//   - HeaderSize (15 bytes): the framed header including the 8 byte tag.
//   - MaxPayload: MaxDatagram minus HeaderSize, the largest forwardable
//     audio payload.
//
// # Validation Functions
//
//	if err := limits.ValidatePayload(payload); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
// ValidateFrame is used by the unpacking side before any header field is
// interpreted beyond the declared size.
package limits
