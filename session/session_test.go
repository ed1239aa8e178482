package session

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/opd-ai/ovtransport/interfaces"
	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("session-test-secret")

const dataChannel transport.Channel = 4464

func listenLoopback(t *testing.T) *transport.Socket {
	t.Helper()
	sock, err := transport.Listen(0, true, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })
	return sock
}

func newTestSession(t *testing.T, configure func(*Options)) *Session {
	t.Helper()
	relay := listenLoopback(t)

	opts := DefaultOptions()
	opts.CallerID = 1
	opts.Secret = testSecret
	opts.RelayHost = "127.0.0.1"
	opts.RelayPort = relay.Port()
	opts.LocalAddr = netip.MustParseAddr("127.0.0.1")
	if configure != nil {
		configure(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// receive waits up to wait for one datagram on sock.
func receive(t *testing.T, sock *transport.Socket, wait time.Duration) ([]byte, bool) {
	t.Helper()
	buf := make([]byte, limits.MaxDatagram)
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		n, _, err := sock.Receive(buf)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		require.NoError(t, err)
		return append([]byte(nil), buf[:n]...), true
	}
	return nil, false
}

func testAuth(t *testing.T) *crypto.Authenticator {
	t.Helper()
	auth, err := crypto.NewAuthenticator(testSecret)
	require.NoError(t, err)
	return auth
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	base := DefaultOptions()
	base.Secret = testSecret
	base.RelayHost = "127.0.0.1"
	base.RelayPort = 9871

	opts := base
	opts.CallerID = registry.MaxStageDevices
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.ErrorIs(t, err, registry.ErrInvalidID)

	opts = base
	opts.Secret = nil
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.ErrorIs(t, err, crypto.ErrEmptySecret)

	opts = base
	opts.RelayHost = ""
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestLifecycle(t *testing.T) {
	s := newTestSession(t, nil)

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	require.NoError(t, s.Close())
	assert.False(t, s.Running())
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.Start(), ErrClosed)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, s.Err())
}

func TestCloseWithoutStart(t *testing.T) {
	s := newTestSession(t, nil)
	require.NoError(t, s.Close())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSocketFailureIsFault(t *testing.T) {
	s := newTestSession(t, nil)
	require.NoError(t, s.Start())

	s.remote.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after socket failure")
	}

	err := s.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportFault)
	assert.ErrorIs(t, err, transport.ErrSocket)

	var fe *FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "network", fe.Loop)
	assert.False(t, s.Running())
}

func TestForwardToLocalAndExtraPorts(t *testing.T) {
	engine := listenLoopback(t)
	extra := listenLoopback(t)
	s := newTestSession(t, func(o *Options) {
		o.PortOffset = engine.Port() - uint16(dataChannel)
	})
	s.AddExtraPort(extra.Port() - uint16(dataChannel))

	s.dispatch(&transport.Message{CallerID: 2, Channel: dataChannel, Payload: []byte("abc"), Valid: true})

	got, ok := receive(t, engine, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)

	got, ok = receive(t, extra, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)
}

func TestOwnMessagesAreDropped(t *testing.T) {
	engine := listenLoopback(t)
	s := newTestSession(t, func(o *Options) {
		o.PortOffset = engine.Port() - uint16(dataChannel)
	})

	s.dispatch(&transport.Message{CallerID: 1, Channel: dataChannel, Payload: []byte("echo"), Valid: true})

	_, ok := receive(t, engine, 100*time.Millisecond)
	assert.False(t, ok)

	s.dispatch(&transport.Message{
		CallerID: 1,
		Channel:  transport.ChannelListCallerID,
		Sequence: uint16(registry.PeerToPeer),
		Payload:  transport.EncodeEndpoint(netip.MustParseAddrPort("203.0.113.1:5000")),
		Valid:    true,
	})
	eps := s.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, uint8(1), eps[0].ID)
}

func TestForwardToProxyClients(t *testing.T) {
	engine := listenLoopback(t)
	proxy := listenLoopback(t)
	channel := transport.Channel(proxy.Port())
	s := newTestSession(t, func(o *Options) {
		o.PortOffset = engine.Port() - proxy.Port()
	})
	require.NoError(t, s.AddProxyClient(7, "127.0.0.1"))

	s.dispatch(&transport.Message{CallerID: 3, Channel: channel, Payload: []byte("raw"), Valid: true})
	got, ok := receive(t, proxy, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("raw"), got)

	s.dispatch(&transport.Message{CallerID: 7, Channel: channel, Payload: []byte("own"), Valid: true})
	_, ok = receive(t, proxy, 100*time.Millisecond)
	assert.False(t, ok, "a proxy client never gets its own audio back")
}

func TestPingIsAnswered(t *testing.T) {
	s := newTestSession(t, nil)
	peerSock := listenLoopback(t)
	auth := testAuth(t)

	s.dispatch(&transport.Message{
		CallerID: 9,
		Channel:  transport.ChannelPing,
		Sequence: 77,
		Payload:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Valid:    true,
		Sender:   peerSock.LocalAddr(),
	})

	frame, ok := receive(t, peerSock, time.Second)
	require.True(t, ok)
	msg, err := transport.DecodeFrame(frame, auth)
	require.NoError(t, err)
	assert.Equal(t, transport.ChannelPong, msg.Channel)
	assert.Equal(t, uint8(1), msg.CallerID)
	assert.Equal(t, uint16(77), msg.Sequence)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, msg.Payload)
}

func TestPingViaServerAnswerCarriesOrigin(t *testing.T) {
	s := newTestSession(t, nil)
	relaySock := listenLoopback(t)
	auth := testAuth(t)

	s.dispatch(&transport.Message{
		CallerID: 4,
		Channel:  transport.ChannelPingViaServer,
		Sequence: 3,
		Payload:  []byte{1, 0xAA, 0xBB},
		Valid:    true,
		Sender:   relaySock.LocalAddr(),
	})

	frame, ok := receive(t, relaySock, time.Second)
	require.True(t, ok)
	msg, err := transport.DecodeFrame(frame, auth)
	require.NoError(t, err)
	assert.Equal(t, transport.ChannelPongViaServer, msg.Channel)
	assert.Equal(t, []byte{4, 0xAA, 0xBB}, msg.Payload)
}

func TestPongRecordsLatency(t *testing.T) {
	clock := crypto.NewManualTimeProvider(time.Unix(1700000000, 0))
	var pings []float64
	s := newTestSession(t, func(o *Options) {
		o.Clock = clock
		o.Observer = interfaces.ObserverFuncs{
			Ping: func(peer uint8, rttMS float64, from netip.AddrPort) {
				assert.Equal(t, uint8(2), peer)
				pings = append(pings, rttMS)
			},
		}
	})

	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(clock.Now().UnixNano()))
	clock.Advance(5 * time.Millisecond)

	s.dispatch(&transport.Message{CallerID: 2, Channel: transport.ChannelPong, Payload: ts, Valid: true})
	s.dispatch(&transport.Message{CallerID: 2, Channel: transport.ChannelPongViaServer, Payload: append([]byte{1}, ts...), Valid: true})

	// A pong from the future is not a sample.
	future := make([]byte, 8)
	binary.BigEndian.PutUint64(future, uint64(clock.Now().Add(time.Second).UnixNano()))
	s.dispatch(&transport.Message{CallerID: 2, Channel: transport.ChannelPongLocal, Payload: future, Valid: true})

	assert.Equal(t, []float64{5, 5}, pings)

	p2p := s.Latency(2, latency.PeerToPeer)
	assert.Equal(t, uint64(1), p2p.Received)
	assert.InDelta(t, 5.0, p2p.Median, 1e-9)
	assert.Equal(t, uint64(1), s.Latency(2, latency.ViaServer).Received)
	assert.Equal(t, uint64(0), s.Latency(2, latency.Local).Received)
}

func TestStatusReportKeepsBitrateWindow(t *testing.T) {
	clock := crypto.NewManualTimeProvider(time.Unix(1700000000, 0))
	s := newTestSession(t, func(o *Options) { o.Clock = clock })

	s.Bitrate()
	clock.Advance(time.Second)
	require.NoError(t, s.remote.SendMessage(dataChannel, make([]byte, 985), s.RelayAddr()))
	sent := s.remote.TxBytes()
	require.NotZero(t, sent)

	clock.Advance(time.Second)
	s.status.report()
	clock.Advance(time.Second)

	tx, _ := s.Bitrate()
	assert.InDelta(t, 8*float64(sent)/3, tx, 1e-6)
}

func TestControlMessagesUpdateRegistry(t *testing.T) {
	s := newTestSession(t, nil)
	public := netip.MustParseAddrPort("198.51.100.2:6000")
	lan := netip.MustParseAddrPort("192.168.1.2:6000")

	s.dispatch(&transport.Message{
		CallerID: 2,
		Channel:  transport.ChannelListCallerID,
		Sequence: uint16(registry.PeerToPeer | registry.DownmixOnly),
		Payload:  transport.EncodeEndpoint(public),
		Valid:    true,
	})
	s.dispatch(&transport.Message{
		CallerID: 2,
		Channel:  transport.ChannelSetLocalIP,
		Payload:  transport.EncodeEndpoint(lan),
		Valid:    true,
	})

	eps := s.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, public, eps[0].Addr)
	assert.Equal(t, lan, eps[0].LocalAddr)
	assert.True(t, eps[0].Mode.Has(registry.DownmixOnly))

	snap := s.Snapshot()
	require.Len(t, snap.Peers, 1)
	assert.Equal(t, uint8(2), snap.Peers[0].Endpoint.ID)
	assert.Len(t, snap.Peers[0].Latency, len(latency.Paths))
}

func TestLatencyReportEncoding(t *testing.T) {
	sum := latency.Summary{Min: 1.5, Mean: 2.5, P99: 9}
	b := encodeLatencyReport(3, sum, 40, -1)
	require.Len(t, b, peerLatencyReportSize)

	values, err := DecodeLatencyReport(b)
	require.NoError(t, err)
	assert.Equal(t, [6]float64{3, 1.5, 2.5, 9, 40, -1}, values)

	_, err = DecodeLatencyReport(b[:10])
	assert.Error(t, err)
}

func TestReceiverPortBeforeAndAfterStart(t *testing.T) {
	s := newTestSession(t, nil)

	require.NoError(t, s.AddReceiverPort(0, 5000))
	require.NoError(t, s.Start())
	require.NoError(t, s.AddReceiverPort(0, 5001))

	assert.Len(t, s.ReceiverPorts(), 2)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.AddReceiverPort(0, 5002), ErrClosed)
}
