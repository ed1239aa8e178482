package session

import (
	"net/netip"

	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// route lists the destinations of one outbound message.
type route struct {
	direct  []netip.AddrPort
	relay   bool
	proxies []netip.AddrPort
}

// planRoute decides where a message on channel goes. Peers that are not
// both peer-to-peer are served by the relay; peers asking not to be sent to
// are skipped. Peers behind the same public address get their LAN address
// when sendLocal is set. The relay also gets the message when no direct
// delivery happens at all.
func planRoute(self registry.Endpoint, peers []registry.Endpoint, proxies []registry.ProxyClient,
	channel transport.Channel, withProxies, sendLocal bool,
) route {
	var r route
	for _, peer := range peers {
		if peer.ID == self.ID {
			continue
		}
		if !self.Mode.Has(registry.PeerToPeer) || !peer.Mode.Has(registry.PeerToPeer) {
			r.relay = true
			continue
		}
		if peer.Mode.Has(registry.DoNotSend) {
			continue
		}
		dest := peer.Addr
		if sendLocal && peer.SameNetwork(self) {
			dest = peer.LocalAddr
		}
		r.direct = append(r.direct, dest)
	}

	if withProxies {
		for _, p := range proxies {
			if p.ID == self.ID {
				continue
			}
			r.proxies = append(r.proxies, netip.AddrPortFrom(p.Addr, uint16(channel)))
		}
	}

	if len(r.direct) == 0 {
		r.relay = true
	}
	return r
}

// self returns this device as the relay last listed it. Until then only id
// and mode are known.
func (s *Session) self() registry.Endpoint {
	ep, ok := s.endpoints.Get(s.opts.CallerID)
	if !ok {
		ep = registry.Endpoint{ID: s.opts.CallerID}
	}
	ep.Mode = s.opts.Mode
	return ep
}

// send packs payload on channel and delivers it along the planned route.
// Proxy clients get the raw payload.
func (s *Session) send(channel transport.Channel, payload []byte, withProxies bool) {
	frame, err := s.remote.Pack(channel, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.send",
			"channel":  channel,
			"size":     len(payload),
			"error":    err.Error(),
		}).Debug("Dropping outbound payload")
		return
	}

	var proxies []registry.ProxyClient
	if withProxies {
		proxies = s.proxies.List()
	}
	r := planRoute(s.self(), s.endpoints.Snapshot(), proxies, channel, withProxies, s.opts.SendLocal)

	for _, dest := range r.direct {
		s.sendTo(frame, dest)
	}
	if r.relay {
		s.sendTo(frame, s.relay)
	}
	for _, dest := range r.proxies {
		s.sendTo(payload, dest)
	}
}

// sendTo writes b to dest. Send errors are per datagram and not faults.
func (s *Session) sendTo(b []byte, dest netip.AddrPort) {
	if _, err := s.remote.Send(b, dest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.sendTo",
			"dest":     dest.String(),
			"error":    err.Error(),
		}).Debug("Send failed")
	}
}
