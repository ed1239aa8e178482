package session

import (
	"net/netip"

	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// networkLoop receives framed messages from the relay and the peers. An idle
// poll still runs the sequencer so held messages are flushed.
func (s *Session) networkLoop() {
	defer s.wg.Done()

	buf := make([]byte, limits.MaxDatagram)
	for s.running.Load() {
		msg, err := s.remote.ReceiveMessage(buf)
		if err != nil {
			msg = nil
			if !transport.IsDropped(err) && s.receiveFailed("network", err) {
				return
			}
		}
		s.seq.Process(msg, s.dispatch)
	}
}

// localLoop frames engine output on the channel named after the local port.
func (s *Session) localLoop() {
	defer s.wg.Done()

	channel := transport.Channel(s.local.Port())
	buf := make([]byte, limits.MaxDatagram)
	for s.running.Load() {
		n, _, err := s.local.Receive(buf)
		if err != nil {
			if s.receiveFailed("local", err) {
				return
			}
			continue
		}
		s.send(channel, buf[:n], true)
	}
}

// dispatch handles one ordered message.
func (s *Session) dispatch(msg *transport.Message) {
	if msg.CallerID == s.opts.CallerID && msg.Channel != transport.ChannelListCallerID {
		return
	}

	if !msg.Channel.IsControl() {
		s.forward(msg)
		return
	}

	switch msg.Channel {
	case transport.ChannelPing, transport.ChannelPingLocal, transport.ChannelPingViaServer:
		s.handlePing(msg)
	case transport.ChannelPong, transport.ChannelPongLocal, transport.ChannelPongViaServer:
		s.handlePong(msg)
	case transport.ChannelSetLocalIP:
		s.handleSetLocalIP(msg)
	case transport.ChannelListCallerID:
		s.handleListCallerID(msg)
	default:
		logrus.WithFields(logrus.Fields{
			"function":  "Session.dispatch",
			"caller_id": msg.CallerID,
			"channel":   msg.Channel.String(),
		}).Debug("Ignoring control message")
	}
}

// forward delivers a data payload to the engine port, every extra port and
// every proxy client except the originator.
func (s *Session) forward(msg *transport.Message) {
	port := uint16(msg.Channel)
	s.deliverLocal(msg.Payload, port+s.opts.PortOffset)
	for _, xd := range s.extraPorts() {
		s.deliverLocal(msg.Payload, port+xd)
	}

	for _, p := range s.proxies.List() {
		if p.ID == msg.CallerID {
			continue
		}
		s.sendTo(msg.Payload, netip.AddrPortFrom(p.Addr, port))
	}
}

func (s *Session) deliverLocal(payload []byte, port uint16) {
	if _, err := s.local.SendToPort(payload, port); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.deliverLocal",
			"port":     port,
			"error":    err.Error(),
		}).Debug("Local delivery failed")
	}
}
