package sequencer

import (
	"sort"
	"sync"

	"github.com/opd-ai/ovtransport/interfaces"
	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// Stats are per-peer counters used for reporting only.
type Stats struct {
	Received  uint64
	Lost      int64
	SeqErrIn  uint64
	SeqErrOut uint64
}

// Sub returns the counter growth since an earlier snapshot.
func (s Stats) Sub(earlier Stats) Stats {
	return Stats{
		Received:  s.Received - earlier.Received,
		Lost:      s.Lost - earlier.Lost,
		SeqErrIn:  s.SeqErrIn - earlier.SeqErrIn,
		SeqErrOut: s.SeqErrOut - earlier.SeqErrOut,
	}
}

// LossPercent returns lost messages as a percentage of expected ones.
func (s Stats) LossPercent() float64 {
	lost := s.Lost
	if lost < 0 {
		lost = 0
	}
	expected := s.Received + uint64(lost)
	if expected == 0 {
		expected = 1
	}
	return 100 * float64(lost) / float64(expected)
}

// Recovered returns how many input inversions were repaired on output.
func (s Stats) Recovered() int64 {
	return int64(s.SeqErrIn) - int64(s.SeqErrOut)
}

type peerState struct {
	lastIn  map[transport.Channel]uint16
	lastOut map[transport.Channel]uint16
	slot1   transport.Message
	slot2   transport.Message
	stats   Stats
}

func newPeerState() *peerState {
	return &peerState{
		lastIn:  make(map[transport.Channel]uint16),
		lastOut: make(map[transport.Channel]uint16),
	}
}

// seqError is a discontinuity waiting to be reported outside the lock.
type seqError struct {
	peer     uint8
	expected uint16
	got      uint16
	channel  transport.Channel
}

// Sequencer holds resequencing state for every peer. Push, Drain and Process
// are meant for a single receive goroutine; Stats and ResetStats may be
// called from anywhere.
type Sequencer struct {
	mu       sync.Mutex
	peers    map[uint8]*peerState
	observer interfaces.SequenceErrorObserver
}

// New creates a sequencer. observer may be nil.
func New(observer interfaces.SequenceErrorObserver) *Sequencer {
	return &Sequencer{
		peers:    make(map[uint8]*peerState),
		observer: observer,
	}
}

func delta(a, b uint16) int16 {
	return int16(a - b)
}

func (s *Sequencer) peer(id uint8) *peerState {
	p, ok := s.peers[id]
	if !ok {
		p = newPeerState()
		s.peers[id] = p
	}
	return p
}

// release empties a slot and accounts the output order.
func (p *peerState) release(slot *transport.Message) *transport.Message {
	out := *slot
	slot.Valid = false
	slot.Payload = nil
	p.markOut(&out)
	return &out
}

func (p *peerState) markOut(msg *transport.Message) {
	last, seen := p.lastOut[msg.Channel]
	if seen && delta(msg.Sequence, last) < 0 {
		p.stats.SeqErrOut++
	}
	p.lastOut[msg.Channel] = msg.Sequence
}

// Push applies the rules to one received message. It returns the message to
// deliver now (nil if none) and whether the input was held back, in which
// case the receive cycle ends without draining.
func (s *Sequencer) Push(msg *transport.Message) (*transport.Message, bool) {
	if msg == nil || !msg.Valid {
		return nil, false
	}
	if msg.Channel.IsControl() {
		msg.Valid = false
		return msg, false
	}
	if !limits.ValidCallerID(msg.CallerID) {
		logrus.WithFields(logrus.Fields{
			"function": "Sequencer.Push",
			"peer":     msg.CallerID,
		}).Debug("Dropping message from out-of-range caller id")
		msg.Valid = false
		return nil, false
	}

	out, held, serr := s.push(msg)
	if serr != nil && s.observer != nil {
		s.observer.OnSequenceError(serr.peer, serr.expected, serr.got, serr.channel)
	}
	return out, held
}

func (s *Sequencer) push(msg *transport.Message) (*transport.Message, bool, *seqError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.peer(msg.CallerID)
	ch := msg.Channel
	p.stats.Received++

	lastIn, notFirst := p.lastIn[ch]
	dIn := delta(msg.Sequence, lastIn)
	p.lastIn[ch] = msg.Sequence

	dIO := int16(1)
	if lastOut, seen := p.lastOut[ch]; seen {
		dIO = delta(msg.Sequence, lastOut)
	}

	var serr *seqError
	if notFirst {
		if dIn != 0 {
			p.stats.Lost += int64(dIn) - 1
		}
		if dIn != 1 {
			serr = &seqError{peer: msg.CallerID, expected: lastIn + 1, got: msg.Sequence, channel: ch}
		}
	}

	if notFirst && dIn > 1 && dIO > 1 {
		var out *transport.Message
		if p.slot1.Valid {
			out = p.release(&p.slot1)
		}
		p.slot1 = *msg
		msg.Valid = false

		logrus.WithFields(logrus.Fields{
			"function": "Sequencer.Push",
			"peer":     msg.CallerID,
			"channel":  uint16(ch),
			"sequence": msg.Sequence,
			"delta_in": dIn,
		}).Debug("Holding message for reorder")
		return out, true, serr
	}

	if dIn < 0 {
		p.stats.SeqErrIn++
	}

	if dIn < -1 || (dIO > 1 && dIn > 0) {
		if p.slot1.Valid && !p.slot2.Valid && p.slot1.Channel == ch && delta(msg.Sequence, p.slot1.Sequence) > 0 {
			p.slot2 = *msg
			msg.Valid = false
			return p.release(&p.slot1), false, serr
		}
	}

	msg.Valid = false
	p.markOut(msg)
	return msg, false, serr
}

// Drain releases one held message, slot 1 before slot 2, from the lowest
// peer id that has one. It returns nil when nothing is held.
func (s *Sequencer) Drain() *transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.peers))
	for id, p := range s.peers {
		if p.slot1.Valid || p.slot2.Valid {
			ids = append(ids, int(id))
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Ints(ids)

	p := s.peers[uint8(ids[0])]
	if p.slot1.Valid {
		return p.release(&p.slot1)
	}
	return p.release(&p.slot2)
}

// Process runs one receive cycle. msg may be nil when the receive timed
// out; held messages are then flushed.
func (s *Sequencer) Process(msg *transport.Message, deliver func(*transport.Message)) {
	out, held := s.Push(msg)
	if out != nil {
		deliver(out)
	}
	if held {
		return
	}
	for out := s.Drain(); out != nil; out = s.Drain() {
		deliver(out)
	}
}

// Held returns the number of messages currently held across all peers.
func (s *Sequencer) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.peers {
		if p.slot1.Valid {
			n++
		}
		if p.slot2.Valid {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the counters for peer.
func (s *Sequencer) Stats(peer uint8) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[peer]; ok {
		return p.stats
	}
	return Stats{}
}

// ResetStats zeroes the counters for peer. Sequence state is kept.
func (s *Sequencer) ResetStats(peer uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[peer]; ok {
		p.stats = Stats{}
	}
}
