package session

import (
	"encoding/binary"
	"time"

	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

const timestampSize = 8

var pongFor = map[transport.Channel]transport.Channel{
	transport.ChannelPing:          transport.ChannelPong,
	transport.ChannelPingLocal:     transport.ChannelPongLocal,
	transport.ChannelPingViaServer: transport.ChannelPongViaServer,
}

var pathOf = map[transport.Channel]latency.Path{
	transport.ChannelPong:          latency.PeerToPeer,
	transport.ChannelPongLocal:     latency.Local,
	transport.ChannelPongViaServer: latency.ViaServer,
}

func (s *Session) timestamp() []byte {
	b := make([]byte, timestampSize)
	binary.BigEndian.PutUint64(b, uint64(s.clock.Now().UnixNano()))
	return b
}

// handlePing answers a probe with the same sequence number. A probe relayed
// by the server carries the target id in its first byte; the answer carries
// the origin id there so the relay can route it back.
func (s *Session) handlePing(msg *transport.Message) {
	payload := msg.Payload
	if msg.Channel == transport.ChannelPingViaServer {
		if len(payload) < 1 {
			return
		}
		payload = append([]byte{msg.CallerID}, payload[1:]...)
	}

	frame, err := s.remote.PackWithSequence(pongFor[msg.Channel], msg.Sequence, payload)
	if err != nil {
		return
	}
	s.sendTo(frame, msg.Sender)
}

// handlePong turns an answered probe into a latency sample.
func (s *Session) handlePong(msg *transport.Message) {
	payload := msg.Payload
	if msg.Channel == transport.ChannelPongViaServer {
		if len(payload) < 1 {
			return
		}
		payload = payload[1:]
	}
	if len(payload) < timestampSize {
		return
	}

	sent := int64(binary.BigEndian.Uint64(payload))
	rtt := float64(s.clock.Now().UnixNano()-sent) / float64(time.Millisecond)
	if rtt <= 0 {
		return
	}

	s.lat.AddSample(msg.CallerID, pathOf[msg.Channel], rtt)
	s.observer.OnPing(msg.CallerID, rtt, msg.Sender)
}

func (s *Session) handleSetLocalIP(msg *transport.Message) {
	addr, err := transport.DecodeEndpoint(msg.Payload)
	if err != nil {
		return
	}
	if err := s.endpoints.SetLocalAddr(msg.CallerID, addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Session.handleSetLocalIP",
			"caller_id": msg.CallerID,
			"error":     err.Error(),
		}).Debug("Ignoring local address")
	}
}

// handleListCallerID registers a device the relay announced. The sequence
// field carries its mode flags.
func (s *Session) handleListCallerID(msg *transport.Message) {
	addr, err := transport.DecodeEndpoint(msg.Payload)
	if err != nil {
		return
	}
	mode := registry.Mode(msg.Sequence)

	isNew, err := s.endpoints.Register(msg.CallerID, addr, mode, "")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Session.handleListCallerID",
			"caller_id": msg.CallerID,
			"error":     err.Error(),
		}).Debug("Ignoring endpoint")
		return
	}

	if isNew && msg.CallerID != s.opts.CallerID {
		logrus.WithFields(logrus.Fields{
			"function": "Session.handleListCallerID",
			"peer":     msg.CallerID,
			"addr":     addr.String(),
			"mode":     mode.String(),
		}).Info("New connection")
	}
}
