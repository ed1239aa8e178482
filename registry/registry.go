package registry

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/transport"
)

// MaxStageDevices is the size of the endpoint table; valid ids are below it.
const MaxStageDevices = limits.MaxStageDevices

// DefaultTimeout is the liveness window of an endpoint.
const DefaultTimeout = 4 * time.Second

// ErrInvalidID is returned for stage device ids outside the table.
var ErrInvalidID = errors.New("stage device id out of range")

// Endpoint is a known remote stage device.
type Endpoint struct {
	ID        uint8
	Addr      netip.AddrPort
	LocalAddr netip.AddrPort
	Mode      Mode
	Version   string
	LastSeen  time.Time
}

// HasLocalAddr reports whether the device advertised a LAN address.
func (e Endpoint) HasLocalAddr() bool {
	return transport.HasAddress(e.LocalAddr)
}

// SameNetwork reports whether e shares its public address with other and
// advertised a LAN address, so that other can reach it locally.
func (e Endpoint) SameNetwork(other Endpoint) bool {
	return e.HasLocalAddr() && other.Addr.IsValid() && e.Addr.Addr() == other.Addr.Addr()
}

type slot struct {
	ep     Endpoint
	known  bool
	active bool
}

// Registry is the endpoint table of a session. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clock   crypto.TimeProvider
	timeout time.Duration
	slots   [MaxStageDevices]slot
}

// New creates an empty registry. clock may be nil.
func New(timeout time.Duration, clock crypto.TimeProvider) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		clock:   crypto.OrDefault(clock),
		timeout: timeout,
	}
}

func checkID(id uint8) error {
	if int(id) >= MaxStageDevices {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return nil
}

func (r *Registry) alive(s *slot) bool {
	return s.active && r.clock.Since(s.ep.LastSeen) < r.timeout
}

// Register creates or refreshes an endpoint. It reports true when the
// device was unknown or expired, or announced a different address, mode or
// version, i.e. when a new connection should be announced.
func (r *Registry) Register(id uint8, addr netip.AddrPort, mode Mode, version string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[id]
	changed := !r.alive(s) || s.ep.Addr != addr || s.ep.Mode != mode || (version != "" && s.ep.Version != version)

	s.ep.ID = id
	s.ep.Addr = addr
	s.ep.Mode = mode
	if version != "" {
		s.ep.Version = version
	}
	s.ep.LastSeen = r.clock.Now()
	s.known = true
	s.active = true

	return changed, nil
}

// SetLocalAddr stores the LAN address a device announced. It does not
// refresh liveness.
func (r *Registry) SetLocalAddr(id uint8, addr netip.AddrPort) error {
	if err := checkID(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[id]
	s.ep.ID = id
	s.ep.LocalAddr = addr
	s.known = true
	return nil
}

// Get returns the endpoint with id if it is active.
func (r *Registry) Get(id uint8) (Endpoint, bool) {
	if checkID(id) != nil {
		return Endpoint{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &r.slots[id]
	if !r.alive(s) {
		return Endpoint{}, false
	}
	return s.ep, true
}

// IsActive reports whether id was refreshed within the timeout.
func (r *Registry) IsActive(id uint8) bool {
	_, ok := r.Get(id)
	return ok
}

// Snapshot returns copies of all active endpoints ordered by id.
func (r *Registry) Snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eps []Endpoint
	for i := range r.slots {
		if r.alive(&r.slots[i]) {
			eps = append(eps, r.slots[i].ep)
		}
	}
	return eps
}

// CheckStatus marks timed-out endpoints as expired and returns their ids.
// Every expiry is reported exactly once.
func (r *Registry) CheckStatus() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lost []uint8
	for i := range r.slots {
		s := &r.slots[i]
		if s.active && !r.alive(s) {
			s.active = false
			lost = append(lost, uint8(i))
		}
	}
	return lost
}

// Timeout returns the liveness window.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}
