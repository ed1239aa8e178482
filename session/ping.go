package session

import (
	"time"

	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// pingLoop keeps the registration alive, probes the peers and reports
// statistics. The first round runs immediately.
func (s *Session) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PingPeriod)
	defer ticker.Stop()

	for {
		s.pingRound()

		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) pingRound() {
	s.register()
	s.probePeers()

	for _, id := range s.endpoints.CheckStatus() {
		if id == s.opts.CallerID {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "Session.pingRound",
			"peer":     id,
		}).Info("Connection lost")
	}

	s.status.maybeReport()
}

// register announces this device to the relay: mode flags in the sequence
// field of REGISTER and the LAN endpoint in SET_LOCAL_IP.
func (s *Session) register() {
	if frame, err := s.remote.PackWithSequence(transport.ChannelRegister, uint16(s.opts.Mode), []byte(s.opts.Version)); err == nil {
		s.sendTo(frame, s.relay)
	}
	if frame, err := s.remote.Pack(transport.ChannelSetLocalIP, transport.EncodeEndpoint(s.localAddr)); err == nil {
		s.sendTo(frame, s.relay)
	}
}

// probePeers sends a direct, a relayed and, on a shared LAN, a local probe
// to every active peer.
func (s *Session) probePeers() {
	self := s.self()
	for _, peer := range s.endpoints.Snapshot() {
		if peer.ID == self.ID {
			continue
		}

		if frame, err := s.remote.Pack(transport.ChannelPing, s.timestamp()); err == nil {
			s.lat.IncSent(peer.ID, latency.PeerToPeer)
			s.sendTo(frame, peer.Addr)
		}

		relayed := append([]byte{peer.ID}, s.timestamp()...)
		if frame, err := s.remote.Pack(transport.ChannelPingViaServer, relayed); err == nil {
			s.lat.IncSent(peer.ID, latency.ViaServer)
			s.sendTo(frame, s.relay)
		}

		if peer.SameNetwork(self) {
			if frame, err := s.remote.Pack(transport.ChannelPingLocal, s.timestamp()); err == nil {
				s.lat.IncSent(peer.ID, latency.Local)
				s.sendTo(frame, peer.LocalAddr)
			}
		}
	}
}
