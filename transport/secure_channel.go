package transport

import (
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/opd-ai/ovtransport/limits"
	"github.com/sirupsen/logrus"
)

// SecureChannel frames outbound payloads with the session header and tag and
// authenticates inbound frames. It is the relay- and peer-facing socket of a
// session and is safe for concurrent use.
type SecureChannel struct {
	*Socket
	callerID uint8
	auth     *crypto.Authenticator

	seqMu sync.Mutex
	seqs  map[Channel]uint16

	authFailures atomic.Uint64
	malformed    atomic.Uint64
	meter        *BitrateMeter
}

// NewSecureChannel wraps sock. Sequence counters start at zero per channel.
func NewSecureChannel(sock *Socket, callerID uint8, auth *crypto.Authenticator, clock crypto.TimeProvider) *SecureChannel {
	return &SecureChannel{
		Socket:   sock,
		callerID: callerID,
		auth:     auth,
		seqs:     make(map[Channel]uint16),
		meter:    NewBitrateMeter(clock),
	}
}

// CallerID returns the stage device id stamped on outbound frames.
func (c *SecureChannel) CallerID() uint8 {
	return c.callerID
}

// Pack frames payload on channel with the next sequence number of that
// channel. Sequence numbers wrap at 2^16.
func (c *SecureChannel) Pack(channel Channel, payload []byte) ([]byte, error) {
	c.seqMu.Lock()
	c.seqs[channel]++
	seq := c.seqs[channel]
	c.seqMu.Unlock()

	return c.PackWithSequence(channel, seq, payload)
}

// PackWithSequence frames payload with an explicit sequence field. Control
// messages use it to carry mode flags.
func (c *SecureChannel) PackWithSequence(channel Channel, seq uint16, payload []byte) ([]byte, error) {
	return EncodeFrame(Header{
		CallerID: c.callerID,
		Channel:  channel,
		Sequence: seq,
	}, payload, c.auth)
}

// Unpack authenticates frame. Frames that fail are counted and reported as
// ErrAuthentication or a truncation error; callers drop them.
func (c *SecureChannel) Unpack(frame []byte, sender netip.AddrPort) (*Message, error) {
	msg, err := DecodeFrame(frame, c.auth)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			c.authFailures.Add(1)
		} else {
			c.malformed.Add(1)
		}
		logrus.WithFields(logrus.Fields{
			"function": "SecureChannel.Unpack",
			"sender":   sender.String(),
			"size":     len(frame),
			"error":    err.Error(),
		}).Debug("Dropping unauthenticated frame")
		return nil, err
	}
	msg.Sender = sender
	return msg, nil
}

// ReceiveMessage reads and unpacks one frame. It returns ErrTimeout on an
// idle poll, ErrAuthentication or a limits error for dropped frames, and a
// SocketError for socket failures.
func (c *SecureChannel) ReceiveMessage(buf []byte) (*Message, error) {
	n, sender, err := c.Receive(buf)
	if err != nil {
		return nil, err
	}
	return c.Unpack(buf[:n], sender)
}

// SendMessage packs payload on channel and sends it to dest.
func (c *SecureChannel) SendMessage(channel Channel, payload []byte, dest netip.AddrPort) error {
	frame, err := c.Pack(channel, payload)
	if err != nil {
		return err
	}
	_, err = c.Send(frame, dest)
	return err
}

// AuthFailures returns the number of frames dropped for a bad tag.
func (c *SecureChannel) AuthFailures() uint64 {
	return c.authFailures.Load()
}

// Malformed returns the number of frames dropped for bad lengths.
func (c *SecureChannel) Malformed() uint64 {
	return c.malformed.Load()
}

// Bitrate returns transmit and receive rates in bits per second since the
// previous call.
func (c *SecureChannel) Bitrate() (float64, float64) {
	return c.meter.Rate(c.TxBytes(), c.RxBytes())
}

// IsDropped reports whether err means a single frame was discarded, as
// opposed to a socket failure.
func IsDropped(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, limits.ErrMessageTruncated) ||
		errors.Is(err, limits.ErrMessageTooLarge)
}
