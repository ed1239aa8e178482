// Package transport implements the datagram layer of the stage transport.
//
// It covers the wire format, the plain loopback socket used towards the
// local audio engine, and the SecureChannel used towards the relay server
// and peers.
//
// # Wire Format
//
// Every framed datagram is laid out big-endian as
//
//	caller_id u8 | channel u16 | sequence u16 | size u16 | tag [8]byte | payload
//
// The tag authenticates the first seven header bytes and the payload with a
// key derived from the session secret (see package crypto). Channels up to
// [MaxSpecialChannel] carry control traffic; every other channel carries an
// opaque payload destined for local UDP port channel+offset.
//
// # Receive Timeouts
//
// Receive never blocks longer than the socket timeout. An expired deadline
// is reported as [ErrTimeout]; worker loops use it to poll their running
// flag and must not treat it as a failure.
//
// Example:
//
//	sock, err := transport.Listen(0, false, 5*time.Millisecond)
//	if err != nil {
//	    return err
//	}
//	ch := transport.NewSecureChannel(sock, callerID, auth, nil)
//	err = ch.SendMessage(channel, payload, relayAddr)
package transport
