package transport

import (
	"math"
	"sync"
	"time"

	"github.com/opd-ai/ovtransport/crypto"
)

// BitrateMeter turns monotonically growing byte counters into rates. Each
// call to Rate measures the window since the previous call.
type BitrateMeter struct {
	mu     sync.Mutex
	clock  crypto.TimeProvider
	last   time.Time
	lastTx uint64
	lastRx uint64
}

// NewBitrateMeter starts the first window now.
func NewBitrateMeter(clock crypto.TimeProvider) *BitrateMeter {
	clock = crypto.OrDefault(clock)
	return &BitrateMeter{clock: clock, last: clock.Now()}
}

// Rate returns transmit and receive rates in bits per second and resets the
// reference point.
func (m *BitrateMeter) Rate(tx, rx uint64) (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	scale := 8.0 / math.Max(1e-6, now.Sub(m.last).Seconds())
	txRate := scale * float64(tx-m.lastTx)
	rxRate := scale * float64(rx-m.lastRx)

	m.last = now
	m.lastTx = tx
	m.lastRx = rx
	return txRate, rxRate
}
