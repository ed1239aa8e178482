// Package latency tracks round-trip times per peer and measurement path.
//
// Every (peer, path) pair owns a fixed-capacity ring of recent samples plus
// sent/received probe counters. Inserting past capacity overwrites the oldest
// sample, so memory never grows with session length.
package latency

import (
	"math"
	"sort"
	"sync"

	"github.com/opd-ai/ovtransport/limits"
)

// DefaultCapacity is the number of samples kept per peer and path.
const DefaultCapacity = 2048

// Path identifies how a probe travelled.
type Path int

const (
	// PeerToPeer probes go directly to the peer's public endpoint.
	PeerToPeer Path = iota
	// ViaServer probes are relayed by the server in both directions.
	ViaServer
	// Local probes use the peer's LAN address when both share a public IP.
	Local
)

// Paths lists every measurement path in reporting order.
var Paths = []Path{PeerToPeer, Local, ViaServer}

func (p Path) String() string {
	switch p {
	case PeerToPeer:
		return "p2p"
	case ViaServer:
		return "srv"
	case Local:
		return "loc"
	}
	return "unknown"
}

// Summary holds order statistics over the buffered samples, in milliseconds.
type Summary struct {
	Min      float64
	Median   float64
	P99      float64
	Mean     float64
	Sent     uint64
	Received uint64
}

// Lost approximates path loss as probes sent without an answer.
func (s Summary) Lost() uint64 {
	if s.Received >= s.Sent {
		return 0
	}
	return s.Sent - s.Received
}

// Samples is a ring buffer of round-trip times with a running sum.
type Samples struct {
	data     []float64
	idx      int
	filled   int
	sum      float64
	sent     uint64
	received uint64
}

// NewSamples allocates a ring with the given capacity.
func NewSamples(capacity int) *Samples {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Samples{data: make([]float64, capacity)}
}

// Add inserts a sample, replacing the oldest one when full. The running sum
// is rebuilt from the ring on every wrap so rounding error stays bounded.
func (s *Samples) Add(rttMS float64) {
	s.received++
	s.sum -= s.data[s.idx]
	s.data[s.idx] = rttMS
	s.sum += rttMS
	s.idx++
	if s.filled < len(s.data) {
		s.filled++
	}
	if s.idx >= len(s.data) {
		s.idx = 0
		s.sum = 0
		for _, v := range s.data {
			s.sum += v
		}
	}
}

// Summary computes statistics from a sorted copy of the filled samples.
func (s *Samples) Summary() Summary {
	sum := Summary{Sent: s.sent, Received: s.received}
	if s.filled == 0 {
		return sum
	}

	sorted := make([]float64, s.filled)
	copy(sorted, s.data[:s.filled])
	sort.Float64s(sorted)

	n := s.filled
	idxMed := int(math.Round(0.5 * float64(n-1)))
	idx99 := int(math.Round(0.99 * float64(n-1)))

	med := sorted[idxMed]
	if n%2 == 0 {
		if idxMed > 0 {
			med += sorted[idxMed-1]
		} else {
			med += sorted[idxMed+1]
		}
		med *= 0.5
	}

	sum.Min = sorted[0]
	sum.Median = med
	sum.P99 = sorted[idx99]
	sum.Mean = s.sum / float64(n)
	return sum
}

type key struct {
	peer uint8
	path Path
}

// Tracker owns the sample sets of all peers. It is safe for concurrent use:
// the receive loop adds samples while the ping loop counts probes.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	sets     map[key]*Samples
}

// NewTracker creates a tracker whose rings hold capacity samples each.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		sets:     make(map[key]*Samples),
	}
}

func (t *Tracker) set(peer uint8, path Path) *Samples {
	k := key{peer, path}
	s, ok := t.sets[k]
	if !ok {
		s = NewSamples(t.capacity)
		t.sets[k] = s
	}
	return s
}

// AddSample records an answered probe. Ids outside the stage device range
// are ignored, as in IncSent.
func (t *Tracker) AddSample(peer uint8, path Path, rttMS float64) {
	if !limits.ValidCallerID(peer) {
		return
	}
	t.mu.Lock()
	t.set(peer, path).Add(rttMS)
	t.mu.Unlock()
}

// IncSent records an outgoing probe, answered or not.
func (t *Tracker) IncSent(peer uint8, path Path) {
	if !limits.ValidCallerID(peer) {
		return
	}
	t.mu.Lock()
	t.set(peer, path).sent++
	t.mu.Unlock()
}

// Summary returns statistics for one peer and path.
func (t *Tracker) Summary(peer uint8, path Path) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sets[key{peer, path}]; ok {
		return s.Summary()
	}
	return Summary{}
}

// Reset discards all samples and counters of peer.
func (t *Tracker) Reset(peer uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range Paths {
		delete(t.sets, key{peer, p})
	}
}
