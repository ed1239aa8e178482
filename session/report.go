package session

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/sequencer"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// peerLatencyReportSize is six float64 values: peer id, min, mean, p99,
// received and lost.
const peerLatencyReportSize = 6 * 8

// statusReporter keeps the counter baselines of the previous report. It is
// only used from the ping loop.
type statusReporter struct {
	s        *Session
	meter    *transport.BitrateMeter
	last     time.Time
	stats    map[uint8]sequencer.Stats
	received map[uint8]uint64
}

func newStatusReporter(s *Session) *statusReporter {
	return &statusReporter{
		s:        s,
		meter:    transport.NewBitrateMeter(s.clock),
		last:     s.clock.Now(),
		stats:    make(map[uint8]sequencer.Stats),
		received: make(map[uint8]uint64),
	}
}

func (r *statusReporter) maybeReport() {
	if r.s.clock.Since(r.last) < r.s.opts.StatusInterval {
		return
	}
	r.last = r.s.clock.Now()
	r.report()
}

func (r *statusReporter) report() {
	s := r.s

	tx, rx := r.meter.Rate(s.remote.TxBytes(), s.remote.RxBytes())
	logrus.WithFields(logrus.Fields{
		"function":      "statusReporter.report",
		"tx_kbps":       tx / 1000,
		"rx_kbps":       rx / 1000,
		"auth_failures": s.remote.AuthFailures(),
		"malformed":     s.remote.Malformed(),
	}).Debug("Transport bitrate")

	for _, peer := range s.endpoints.Snapshot() {
		if peer.ID == s.opts.CallerID {
			continue
		}
		delta := r.packetStats(peer.ID)
		r.latencyStats(peer.ID)
		r.sendLatencyReport(peer.ID, delta)
	}
}

// packetStats logs the counter growth since the previous report.
func (r *statusReporter) packetStats(id uint8) sequencer.Stats {
	now := r.s.seq.Stats(id)
	delta := now.Sub(r.stats[id])
	r.stats[id] = now

	if delta.Received == 0 && delta.Lost == 0 {
		return delta
	}
	logrus.WithFields(logrus.Fields{
		"function":  "statusReporter.packetStats",
		"peer":      id,
		"received":  delta.Received,
		"lost":      delta.Lost,
		"seqerr":    delta.SeqErrIn,
		"recovered": delta.Recovered(),
	}).Info(fmt.Sprintf("packages from %d received=%d lost=%d (%.2f%%) seqerr=%d recovered=%d",
		id, delta.Received, delta.Lost, delta.LossPercent(), delta.SeqErrIn, delta.Recovered()))
	return delta
}

func (r *statusReporter) latencyStats(id uint8) {
	for _, path := range latency.Paths {
		sum := r.s.lat.Summary(id, path)
		if sum.Received == 0 {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "statusReporter.latencyStats",
			"peer":     id,
			"path":     path.String(),
			"min":      sum.Min,
			"median":   sum.Median,
			"p99":      sum.P99,
			"mean":     sum.Mean,
			"sent":     sum.Sent,
			"received": sum.Received,
		}).Info(fmt.Sprintf("lat-%s %d min=%.2fms median=%.2fms p99=%.2fms mean=%.2fms sent=%d received=%d",
			path, id, sum.Min, sum.Median, sum.P99, sum.Mean, sum.Sent, sum.Received))
	}
}

// sendLatencyReport tells the relay how the direct path to id performs.
func (r *statusReporter) sendLatencyReport(id uint8, delta sequencer.Stats) {
	sum := r.s.lat.Summary(id, latency.PeerToPeer)
	received := sum.Received - r.received[id]
	r.received[id] = sum.Received

	frame, err := r.s.remote.Pack(transport.ChannelPeerLatencyReport,
		encodeLatencyReport(id, sum, received, delta.Lost))
	if err != nil {
		return
	}
	r.s.sendTo(frame, r.s.relay)
}

func encodeLatencyReport(id uint8, sum latency.Summary, received uint64, lost int64) []byte {
	values := [6]float64{float64(id), sum.Min, sum.Mean, sum.P99, float64(received), float64(lost)}
	b := make([]byte, peerLatencyReportSize)
	for i, v := range values {
		binary.BigEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

// DecodeLatencyReport parses a PEER_LATENCY_REPORT payload into its six
// values: peer id, min, mean, p99, received and lost.
func DecodeLatencyReport(b []byte) ([6]float64, error) {
	var values [6]float64
	if len(b) < peerLatencyReportSize {
		return values, fmt.Errorf("latency report of %d bytes, want %d", len(b), peerLatencyReportSize)
	}
	for i := range values {
		values[i] = math.Float64frombits(binary.BigEndian.Uint64(b[i*8:]))
	}
	return values, nil
}
