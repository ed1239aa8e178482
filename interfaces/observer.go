package interfaces

import (
	"net/netip"

	"github.com/opd-ai/ovtransport/transport"
)

// PingObserver receives every round-trip measurement a session completes.
type PingObserver interface {
	// OnPing is called with the peer that answered, the round-trip time in
	// milliseconds and the endpoint the answer came from.
	OnPing(peer uint8, rttMS float64, from netip.AddrPort)
}

// SequenceErrorObserver receives sequence discontinuities on data channels.
type SequenceErrorObserver interface {
	// OnSequenceError is called when a data message from peer arrives with
	// sequence got instead of expected on channel.
	OnSequenceError(peer uint8, expected, got uint16, channel transport.Channel)
}

// Observer combines both session callbacks.
type Observer interface {
	PingObserver
	SequenceErrorObserver
}

// NopObserver ignores every callback.
type NopObserver struct{}

// OnPing implements PingObserver.
func (NopObserver) OnPing(uint8, float64, netip.AddrPort) {}

// OnSequenceError implements SequenceErrorObserver.
func (NopObserver) OnSequenceError(uint8, uint16, uint16, transport.Channel) {}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Ping          func(peer uint8, rttMS float64, from netip.AddrPort)
	SequenceError func(peer uint8, expected, got uint16, channel transport.Channel)
}

// OnPing implements PingObserver.
func (f ObserverFuncs) OnPing(peer uint8, rttMS float64, from netip.AddrPort) {
	if f.Ping != nil {
		f.Ping(peer, rttMS, from)
	}
}

// OnSequenceError implements SequenceErrorObserver.
func (f ObserverFuncs) OnSequenceError(peer uint8, expected, got uint16, channel transport.Channel) {
	if f.SequenceError != nil {
		f.SequenceError(peer, expected, got, channel)
	}
}

// OrNop returns o, or a NopObserver if o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}
