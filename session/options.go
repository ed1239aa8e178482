package session

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/opd-ai/ovtransport/interfaces"
	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/transport"
)

// Options configure a Session. Zero durations are replaced by defaults.
type Options struct {
	// CallerID is the stage device id of this client, below
	// registry.MaxStageDevices.
	CallerID uint8
	// Secret is the session secret shared with the relay and all peers.
	Secret []byte

	RelayHost string
	RelayPort uint16

	// BindPort is the port of the peer-facing socket; 0 picks one.
	BindPort uint16
	// LocalPort is the loopback port the audio engine sends to. Its number
	// is also the channel outbound audio travels on.
	LocalPort uint16
	// PortOffset is added to a data channel to get the local delivery port.
	PortOffset uint16

	Mode      registry.Mode
	SendLocal bool
	// LocalAddr overrides LAN address detection.
	LocalAddr netip.Addr
	Version   string

	PingPeriod      time.Duration
	EndpointTimeout time.Duration
	StatusInterval  time.Duration
	NetworkTimeout  time.Duration
	LocalTimeout    time.Duration
	MirrorTimeout   time.Duration
	LatencyCapacity int

	Observer interfaces.Observer
	Clock    crypto.TimeProvider
}

// DefaultOptions returns options with every timing parameter set.
func DefaultOptions() Options {
	return Options{
		Mode:            registry.PeerToPeer,
		SendLocal:       true,
		PingPeriod:      200 * time.Millisecond,
		EndpointTimeout: registry.DefaultTimeout,
		StatusInterval:  5 * time.Second,
		NetworkTimeout:  5 * time.Millisecond,
		LocalTimeout:    transport.DefaultReceiveTimeout,
		MirrorTimeout:   100 * time.Millisecond,
		LatencyCapacity: latency.DefaultCapacity,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.PingPeriod <= 0 {
		o.PingPeriod = d.PingPeriod
	}
	if o.EndpointTimeout <= 0 {
		o.EndpointTimeout = d.EndpointTimeout
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = d.StatusInterval
	}
	if o.NetworkTimeout <= 0 {
		o.NetworkTimeout = d.NetworkTimeout
	}
	if o.LocalTimeout <= 0 {
		o.LocalTimeout = d.LocalTimeout
	}
	if o.MirrorTimeout <= 0 {
		o.MirrorTimeout = d.MirrorTimeout
	}
	if o.LatencyCapacity <= 0 {
		o.LatencyCapacity = d.LatencyCapacity
	}
	o.Observer = interfaces.OrNop(o.Observer)
	o.Clock = crypto.OrDefault(o.Clock)
}

func (o *Options) validate() error {
	if int(o.CallerID) >= registry.MaxStageDevices {
		return fmt.Errorf("%w: caller id %d: %w", ErrInvalidOptions, o.CallerID, registry.ErrInvalidID)
	}
	if o.RelayHost == "" {
		return fmt.Errorf("%w: relay host is empty", ErrInvalidOptions)
	}
	if o.RelayPort == 0 {
		return fmt.Errorf("%w: relay port is zero", ErrInvalidOptions)
	}
	return nil
}
