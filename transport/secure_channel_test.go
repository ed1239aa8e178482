package transport

import (
	"testing"
	"time"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannel(t *testing.T, callerID uint8, secret string) *SecureChannel {
	t.Helper()
	sock, err := Listen(0, true, 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })
	return NewSecureChannel(sock, callerID, newAuth(t, secret), nil)
}

func TestPackSequencePerChannel(t *testing.T) {
	ch := newChannel(t, 3, "1234")

	seqOf := func(channel Channel) uint16 {
		frame, err := ch.Pack(channel, []byte{1})
		require.NoError(t, err)
		msg, err := ch.Unpack(frame, ch.LocalAddr())
		require.NoError(t, err)
		return msg.Sequence
	}

	assert.Equal(t, uint16(1), seqOf(200))
	assert.Equal(t, uint16(2), seqOf(200))
	assert.Equal(t, uint16(1), seqOf(201))
	assert.Equal(t, uint16(3), seqOf(200))
}

func TestPackSequenceWraps(t *testing.T) {
	ch := newChannel(t, 3, "1234")
	ch.seqs[200] = 65535

	frame, err := ch.Pack(200, nil)
	require.NoError(t, err)
	msg, err := ch.Unpack(frame, ch.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, uint16(0), msg.Sequence)
}

func TestSecureChannelExchange(t *testing.T) {
	a := newChannel(t, 1, "shared")
	b := newChannel(t, 2, "shared")

	require.NoError(t, a.SendMessage(300, []byte("frame"), b.LocalAddr()))

	buf := make([]byte, 256)
	msg, err := b.ReceiveMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), msg.CallerID)
	assert.Equal(t, Channel(300), msg.Channel)
	assert.Equal(t, []byte("frame"), msg.Payload)
	assert.Equal(t, a.LocalAddr().Port(), msg.Sender.Port())
}

func TestSecureChannelCountsAuthFailures(t *testing.T) {
	a := newChannel(t, 1, "one")
	b := newChannel(t, 2, "two")

	require.NoError(t, a.SendMessage(300, []byte("frame"), b.LocalAddr()))

	buf := make([]byte, 256)
	msg, err := b.ReceiveMessage(buf)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.True(t, IsDropped(err))
	assert.Equal(t, uint64(1), b.AuthFailures())
}

func TestSecureChannelCountsMalformed(t *testing.T) {
	b := newChannel(t, 2, "two")

	_, err := b.Unpack([]byte{1, 2, 3}, b.LocalAddr())
	assert.True(t, IsDropped(err))
	assert.Equal(t, uint64(1), b.Malformed())
	assert.Equal(t, uint64(0), b.AuthFailures())
}

func TestSecureChannelBitrate(t *testing.T) {
	clock := crypto.NewManualTimeProvider(time.Unix(1000, 0))
	sock, err := Listen(0, true, 0)
	require.NoError(t, err)
	defer sock.Close()
	ch := NewSecureChannel(sock, 1, newAuth(t, "x"), clock)

	_, err = ch.SendToPort(make([]byte, 100), sock.Port())
	require.NoError(t, err)

	clock.Advance(time.Second)
	tx, rx := ch.Bitrate()
	assert.InDelta(t, 800.0, tx, 1e-9)
	assert.InDelta(t, 0.0, rx, 1e-9)

	clock.Advance(time.Second)
	tx, _ = ch.Bitrate()
	assert.InDelta(t, 0.0, tx, 1e-9)
}
