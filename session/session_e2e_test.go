package session_test

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/ovtransport/interfaces"
	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/session"
	simnet "github.com/opd-ai/ovtransport/testing"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var e2eSecret = []byte("end-to-end-secret")

type harness struct {
	t     *testing.T
	relay *simnet.RelaySim
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	relay, err := simnet.NewRelaySim(e2eSecret)
	require.NoError(t, err)
	relay.Start()
	t.Cleanup(func() { relay.Close() })
	return &harness{t: t, relay: relay}
}

func (h *harness) session(id uint8, mode registry.Mode, configure func(*session.Options)) *session.Session {
	h.t.Helper()
	opts := session.DefaultOptions()
	opts.CallerID = id
	opts.Secret = e2eSecret
	opts.RelayHost = "127.0.0.1"
	opts.RelayPort = h.relay.Addr().Port()
	opts.Mode = mode
	opts.LocalAddr = netip.MustParseAddr("127.0.0.1")
	opts.PingPeriod = 20 * time.Millisecond
	if configure != nil {
		configure(&opts)
	}

	s, err := session.New(opts)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { s.Close() })
	return s
}

func listen(t *testing.T) *transport.Socket {
	t.Helper()
	sock, err := transport.Listen(0, true, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })
	return sock
}

func knows(s *session.Session, id uint8) bool {
	for _, ep := range s.Endpoints() {
		if ep.ID == id {
			return true
		}
	}
	return false
}

// deliver sends payload to port from the engine side until sink gets it.
func deliver(t *testing.T, engine, sink *transport.Socket, port uint16, payload []byte) {
	t.Helper()
	buf := make([]byte, limits.MaxDatagram)
	require.Eventually(t, func() bool {
		if _, err := engine.SendToPort(payload, port); err != nil {
			return false
		}
		for i := 0; i < 5; i++ {
			n, _, err := sink.Receive(buf)
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			if err != nil {
				return false
			}
			if string(buf[:n]) == string(payload) {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRelayModeDelivery(t *testing.T) {
	h := newHarness(t)
	sink := listen(t)
	engine := listen(t)

	a := h.session(1, 0, nil)
	b := h.session(2, 0, func(o *session.Options) {
		o.PortOffset = sink.Port() - a.LocalPort()
	})
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	require.Eventually(t, func() bool { return knows(a, 2) && knows(b, 1) }, 3*time.Second, 10*time.Millisecond)

	deliver(t, engine, sink, a.LocalPort(), []byte("relayed audio"))

	var fromA int
	for _, rec := range h.relay.GetForwardLog() {
		if rec.From == 1 && rec.To == 2 {
			fromA++
		}
	}
	assert.Positive(t, fromA)
	assert.Positive(t, b.PeerStats(1).Received)
}

func TestPeerToPeerDelivery(t *testing.T) {
	h := newHarness(t)
	sink := listen(t)
	engine := listen(t)

	a := h.session(1, registry.PeerToPeer, nil)
	b := h.session(2, registry.PeerToPeer, func(o *session.Options) {
		o.PortOffset = sink.Port() - a.LocalPort()
	})
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	require.Eventually(t, func() bool { return knows(a, 2) && knows(b, 1) }, 3*time.Second, 10*time.Millisecond)
	h.relay.ClearForwardLog()

	deliver(t, engine, sink, a.LocalPort(), []byte("direct audio"))

	for _, rec := range h.relay.GetForwardLog() {
		assert.NotEqual(t, uint8(1), rec.From, "peer-to-peer audio must not pass the relay")
	}
}

func TestPingsProduceLatencySamples(t *testing.T) {
	h := newHarness(t)
	var observed atomic.Int64

	a := h.session(1, registry.PeerToPeer, func(o *session.Options) {
		o.StatusInterval = 50 * time.Millisecond
		o.Observer = interfaces.ObserverFuncs{
			Ping: func(peer uint8, rttMS float64, from netip.AddrPort) {
				if peer == 2 && rttMS > 0 {
					observed.Add(1)
				}
			},
		}
	})
	b := h.session(2, registry.PeerToPeer, nil)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	require.Eventually(t, func() bool {
		return a.Latency(2, latency.PeerToPeer).Received > 0 &&
			a.Latency(2, latency.ViaServer).Received > 0 &&
			a.Latency(2, latency.Local).Received > 0
	}, 3*time.Second, 20*time.Millisecond)

	assert.Positive(t, observed.Load())
	sum := a.Latency(2, latency.PeerToPeer)
	assert.GreaterOrEqual(t, sum.Sent, sum.Received)
	assert.Greater(t, sum.Min, 0.0)

	require.Eventually(t, func() bool {
		for _, r := range h.relay.LatencyReports(1) {
			if r[0] == 2 {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestReceiverPortIsForwarded(t *testing.T) {
	h := newHarness(t)
	sink := listen(t)
	engine := listen(t)

	const mirrorChannel = 5000
	a := h.session(1, 0, nil)
	b := h.session(2, 0, func(o *session.Options) {
		o.PortOffset = sink.Port() - mirrorChannel
	})
	require.NoError(t, a.AddReceiverPort(0, mirrorChannel))
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	ports := a.ReceiverPorts()
	require.Len(t, ports, 1)
	require.Eventually(t, func() bool { return knows(a, 2) && knows(b, 1) }, 3*time.Second, 10*time.Millisecond)

	deliver(t, engine, sink, ports[0], []byte("mirrored"))
}
