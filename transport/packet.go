package transport

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/opd-ai/ovtransport/limits"
)

// Channel is the protocol-level routing key carried in every header. Values
// up to MaxSpecialChannel are control channels; larger values are data
// channels forwarded to local UDP port channel+offset.
type Channel uint16

const (
	ChannelSeqReport         Channel = 1
	ChannelPing              Channel = 2
	ChannelPong              Channel = 3
	ChannelSetLocalIP        Channel = 4
	ChannelListCallerID      Channel = 5
	ChannelPingViaServer     Channel = 6
	ChannelPongViaServer     Channel = 7
	ChannelRegister          Channel = 8
	ChannelPingLocal         Channel = 9
	ChannelPongLocal         Channel = 10
	ChannelPeerLatencyReport Channel = 11

	// MaxSpecialChannel is the highest reserved control channel.
	MaxSpecialChannel Channel = 100
)

// IsControl reports whether c is a reserved control channel.
func (c Channel) IsControl() bool {
	return c <= MaxSpecialChannel
}

func (c Channel) String() string {
	switch c {
	case ChannelSeqReport:
		return "seqrep"
	case ChannelPing:
		return "ping"
	case ChannelPong:
		return "pong"
	case ChannelSetLocalIP:
		return "setlocalip"
	case ChannelListCallerID:
		return "listcid"
	case ChannelPingViaServer:
		return "ping-srv"
	case ChannelPongViaServer:
		return "pong-srv"
	case ChannelRegister:
		return "register"
	case ChannelPingLocal:
		return "ping-local"
	case ChannelPongLocal:
		return "pong-local"
	case ChannelPeerLatencyReport:
		return "peerlatrep"
	}
	if c.IsControl() {
		return fmt.Sprintf("control(%d)", uint16(c))
	}
	return fmt.Sprintf("data(%d)", uint16(c))
}

// Header is the fixed part of every framed datagram, excluding the tag.
type Header struct {
	CallerID uint8
	Channel  Channel
	Sequence uint16
	Size     uint16
}

// authenticatedLen is the number of header bytes covered by the tag.
const authenticatedLen = 7

func (h Header) put(b []byte) {
	b[0] = h.CallerID
	binary.BigEndian.PutUint16(b[1:3], uint16(h.Channel))
	binary.BigEndian.PutUint16(b[3:5], h.Sequence)
	binary.BigEndian.PutUint16(b[5:7], h.Size)
}

func parseHeader(b []byte) Header {
	return Header{
		CallerID: b[0],
		Channel:  Channel(binary.BigEndian.Uint16(b[1:3])),
		Sequence: binary.BigEndian.Uint16(b[3:5]),
		Size:     binary.BigEndian.Uint16(b[5:7]),
	}
}

// Message is the unit moving through the session. Valid is transient state
// used by the sequencer and never leaves the process.
type Message struct {
	CallerID uint8
	Channel  Channel
	Sequence uint16
	Payload  []byte
	Valid    bool
	Sender   netip.AddrPort
}

// Size returns the payload size as carried in the header.
func (m *Message) Size() int {
	return len(m.Payload)
}

// EncodeFrame serializes header and payload and appends the authentication
// tag. Format: [caller id][channel][sequence][size][tag][payload].
func EncodeFrame(h Header, payload []byte, auth *crypto.Authenticator) ([]byte, error) {
	if err := limits.ValidatePayload(payload); err != nil {
		return nil, err
	}
	h.Size = uint16(len(payload))

	frame := make([]byte, limits.HeaderSize+len(payload))
	h.put(frame)
	tag := auth.Tag(frame[:authenticatedLen], payload)
	copy(frame[authenticatedLen:limits.HeaderSize], tag[:])
	copy(frame[limits.HeaderSize:], payload)

	return frame, nil
}

// DecodeFrame validates the frame length and tag and returns the message.
// The payload is copied, so frame may be reused by the caller.
func DecodeFrame(frame []byte, auth *crypto.Authenticator) (*Message, error) {
	if err := limits.ValidateFrame(frame, 0); err != nil {
		return nil, err
	}
	h := parseHeader(frame)
	if err := limits.ValidateFrame(frame, int(h.Size)); err != nil {
		return nil, err
	}

	payload := frame[limits.HeaderSize : limits.HeaderSize+int(h.Size)]
	if !auth.Verify(frame[authenticatedLen:limits.HeaderSize], frame[:authenticatedLen], payload) {
		return nil, ErrAuthentication
	}

	msg := &Message{
		CallerID: h.CallerID,
		Channel:  h.Channel,
		Sequence: h.Sequence,
		Payload:  make([]byte, len(payload)),
		Valid:    true,
	}
	copy(msg.Payload, payload)
	return msg, nil
}
