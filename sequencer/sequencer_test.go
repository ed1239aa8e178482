package sequencer

import (
	"testing"

	"github.com/opd-ai/ovtransport/interfaces"
	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataChannel transport.Channel = 4464

func msg(peer uint8, seq uint16) *transport.Message {
	return &transport.Message{
		CallerID: peer,
		Channel:  dataChannel,
		Sequence: seq,
		Payload:  []byte{byte(seq)},
		Valid:    true,
	}
}

// feed runs one receive cycle per sequence number and a final idle cycle,
// returning the released sequence numbers in order.
func feed(s *Sequencer, peer uint8, seqs ...uint16) []uint16 {
	var out []uint16
	deliver := func(m *transport.Message) { out = append(out, m.Sequence) }
	for _, seq := range seqs {
		s.Process(msg(peer, seq), deliver)
	}
	s.Process(nil, deliver)
	return out
}

func TestInOrderStreamReleasedOnce(t *testing.T) {
	starts := []uint16{1, 1000, 32760, 65500}

	for _, start := range starts {
		s := New(nil)
		var seqs []uint16
		for i := 0; i < 100; i++ {
			seqs = append(seqs, start+uint16(i))
		}

		released := feed(s, 1, seqs...)
		assert.Equal(t, seqs, released, "start %d", start)

		stats := s.Stats(1)
		assert.Equal(t, uint64(100), stats.Received)
		assert.Equal(t, int64(0), stats.Lost)
		assert.Equal(t, uint64(0), stats.SeqErrIn)
		assert.Equal(t, uint64(0), stats.SeqErrOut)
		assert.Equal(t, 0, s.Held())
	}
}

func TestSingleGapCountsOneLoss(t *testing.T) {
	s := New(nil)

	released := feed(s, 1, 1, 2, 4, 5)

	assert.Equal(t, []uint16{1, 2, 4, 5}, released)
	assert.Equal(t, int64(1), s.Stats(1).Lost)
	assert.Equal(t, uint64(4), s.Stats(1).Received)
}

func TestHoldThenSwap(t *testing.T) {
	s := New(nil)
	var out []uint16
	deliver := func(m *transport.Message) { out = append(out, m.Sequence) }

	s.Process(msg(1, 1), deliver)
	s.Process(msg(1, 2), deliver)
	s.Process(msg(1, 4), deliver)
	assert.Equal(t, []uint16{1, 2}, out, "4 must be held")
	assert.Equal(t, 1, s.Held())

	s.Process(msg(1, 5), deliver)
	assert.Equal(t, []uint16{1, 2, 4, 5}, out)
	assert.Equal(t, 0, s.Held())
}

func TestSinglePairInversion(t *testing.T) {
	s := New(nil)

	released := feed(s, 1, 1, 3, 2, 4)

	require.Len(t, released, 4)
	assert.ElementsMatch(t, []uint16{1, 2, 3, 4}, released)
	// the hold rule restores order for a single adjacent swap
	assert.Equal(t, []uint16{1, 2, 3, 4}, released)

	stats := s.Stats(1)
	assert.Equal(t, uint64(1), stats.SeqErrIn)
	assert.Equal(t, uint64(0), stats.SeqErrOut)
	assert.Equal(t, int64(0), stats.Lost)
	assert.Equal(t, int64(1), stats.Recovered())
}

func TestIdleCycleDrainsHeld(t *testing.T) {
	s := New(nil)
	var out []uint16
	deliver := func(m *transport.Message) { out = append(out, m.Sequence) }

	s.Process(msg(1, 1), deliver)
	s.Process(msg(1, 3), deliver)
	assert.Equal(t, []uint16{1}, out)

	s.Process(nil, deliver)
	assert.Equal(t, []uint16{1, 3}, out)
	assert.Equal(t, 0, s.Held())
}

func TestConsecutiveGapsNeverOverwriteHeld(t *testing.T) {
	s := New(nil)

	released := feed(s, 1, 1, 3, 5, 7)

	assert.Equal(t, []uint16{1, 3, 5, 7}, released)
	assert.Equal(t, int64(3), s.Stats(1).Lost)
}

func TestLateArrivalAfterWindowIsReleased(t *testing.T) {
	s := New(nil)

	released := feed(s, 1, 1, 2, 3, 6, 7, 4)

	assert.ElementsMatch(t, []uint16{1, 2, 3, 4, 6, 7}, released)
	stats := s.Stats(1)
	assert.Equal(t, uint64(1), stats.SeqErrIn)
	assert.Equal(t, uint64(1), stats.SeqErrOut)
}

func TestSequenceWrapIsContinuous(t *testing.T) {
	s := New(nil)

	released := feed(s, 1, 65534, 65535, 0, 1)

	assert.Equal(t, []uint16{65534, 65535, 0, 1}, released)
	assert.Equal(t, int64(0), s.Stats(1).Lost)
	assert.Equal(t, uint64(0), s.Stats(1).SeqErrOut)
}

func TestControlChannelsPassThrough(t *testing.T) {
	s := New(nil)
	ping := &transport.Message{CallerID: 2, Channel: transport.ChannelPing, Sequence: 9, Valid: true}

	var out []*transport.Message
	s.Process(ping, func(m *transport.Message) { out = append(out, m) })

	require.Len(t, out, 1)
	assert.Equal(t, transport.ChannelPing, out[0].Channel)
	assert.False(t, out[0].Valid)
	assert.Equal(t, Stats{}, s.Stats(2))
}

func TestPeersAreIndependent(t *testing.T) {
	s := New(nil)
	var out []*transport.Message
	deliver := func(m *transport.Message) { out = append(out, m) }

	s.Process(msg(1, 10), deliver)
	s.Process(msg(2, 500), deliver)
	s.Process(msg(1, 11), deliver)
	s.Process(msg(2, 501), deliver)

	assert.Len(t, out, 4)
	assert.Equal(t, int64(0), s.Stats(1).Lost)
	assert.Equal(t, int64(0), s.Stats(2).Lost)
}

func TestChannelsAreIndependent(t *testing.T) {
	s := New(nil)
	var out []uint16
	deliver := func(m *transport.Message) { out = append(out, m.Sequence) }

	a := msg(1, 1)
	b := msg(1, 100)
	b.Channel = dataChannel + 1
	s.Process(a, deliver)
	s.Process(b, deliver)
	s.Process(msg(1, 2), deliver)

	assert.Equal(t, []uint16{1, 100, 2}, out)
	assert.Equal(t, int64(0), s.Stats(1).Lost)
}

func TestObserverNotifiedOnDiscontinuity(t *testing.T) {
	type event struct {
		peer          uint8
		expected, got uint16
	}
	var events []event
	s := New(interfaces.ObserverFuncs{
		SequenceError: func(peer uint8, expected, got uint16, channel transport.Channel) {
			assert.Equal(t, dataChannel, channel)
			events = append(events, event{peer, expected, got})
		},
	})

	feed(s, 3, 1, 2, 4)

	assert.Equal(t, []event{{3, 3, 4}}, events)
}

func TestStatsHelpers(t *testing.T) {
	s := New(nil)
	feed(s, 1, 1, 2, 4, 5)

	before := s.Stats(1)
	feed(s, 1, 6, 8)
	diff := s.Stats(1).Sub(before)

	assert.Equal(t, uint64(2), diff.Received)
	assert.Equal(t, int64(1), diff.Lost)
	assert.InDelta(t, 100.0/3.0, diff.LossPercent(), 1e-9)

	s.ResetStats(1)
	assert.Equal(t, Stats{}, s.Stats(1))
	assert.Equal(t, Stats{}, s.Stats(99))
}

func TestLossPercentEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.LossPercent())
	assert.Equal(t, 0.0, Stats{Lost: -2, Received: 5}.LossPercent())
}

func TestOutOfRangeCallerIDDropped(t *testing.T) {
	s := New(nil)

	assert.Empty(t, feed(s, limits.MaxStageDevices, 1, 2, 3))
	assert.Empty(t, feed(s, 255, 1, 5))
	assert.Equal(t, Stats{}, s.Stats(limits.MaxStageDevices))
	assert.Equal(t, 0, s.Held())

	s.mu.Lock()
	assert.Empty(t, s.peers)
	s.mu.Unlock()

	assert.Equal(t, []uint16{1, 2}, feed(s, limits.MaxStageDevices-1, 1, 2))
}
