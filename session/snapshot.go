package session

import (
	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/sequencer"
)

// PeerSnapshot is the state of one active peer.
type PeerSnapshot struct {
	Endpoint registry.Endpoint
	Stats    sequencer.Stats
	Latency  map[latency.Path]latency.Summary
}

// Snapshot is a point-in-time copy of the session counters.
type Snapshot struct {
	CallerID     uint8
	Running      bool
	TxBytes      uint64
	RxBytes      uint64
	AuthFailures uint64
	Malformed    uint64
	Held         int
	Peers        []PeerSnapshot
}

// Snapshot collects counters of the session and every active peer other
// than this device.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		CallerID:     s.opts.CallerID,
		Running:      s.running.Load(),
		TxBytes:      s.remote.TxBytes(),
		RxBytes:      s.remote.RxBytes(),
		AuthFailures: s.remote.AuthFailures(),
		Malformed:    s.remote.Malformed(),
		Held:         s.seq.Held(),
	}

	for _, ep := range s.endpoints.Snapshot() {
		if ep.ID == s.opts.CallerID {
			continue
		}
		peer := PeerSnapshot{
			Endpoint: ep,
			Stats:    s.seq.Stats(ep.ID),
			Latency:  make(map[latency.Path]latency.Summary, len(latency.Paths)),
		}
		for _, path := range latency.Paths {
			peer.Latency[path] = s.lat.Summary(ep.ID, path)
		}
		snap.Peers = append(snap.Peers, peer)
	}
	return snap
}

// ReceiverPorts returns the bound loopback ports of all receiver port tasks.
func (s *Session) ReceiverPorts() []uint16 {
	return s.mirrors.ports()
}
