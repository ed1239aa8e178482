package session

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/opd-ai/ovtransport/interfaces"
	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/sequencer"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// Session is the transport of one stage device. All methods are safe for
// concurrent use.
type Session struct {
	opts     Options
	observer interfaces.Observer
	clock    crypto.TimeProvider

	auth      *crypto.Authenticator
	remote    *transport.SecureChannel
	local     *transport.Socket
	relay     netip.AddrPort
	localAddr netip.AddrPort

	endpoints *registry.Registry
	proxies   *registry.ProxyTable
	seq       *sequencer.Sequencer
	lat       *latency.Tracker
	mirrors   *mirrorPool
	status    *statusReporter

	extraMu sync.RWMutex
	extra   []uint16

	// mu guards the lifecycle fields below and every wg.Add.
	mu      sync.Mutex
	started bool
	closed  bool
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	stopOnce  sync.Once
	doneOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// New binds the session sockets and resolves the relay. The session does not
// move any traffic until Start is called.
func New(opts Options) (*Session, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	relayIP, err := transport.ResolveHost(opts.RelayHost)
	if err != nil {
		return nil, err
	}

	auth, err := crypto.NewAuthenticator(opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	sock, err := transport.Listen(opts.BindPort, false, opts.NetworkTimeout)
	if err != nil {
		auth.Wipe()
		return nil, err
	}

	local, err := transport.Listen(opts.LocalPort, true, opts.LocalTimeout)
	if err != nil {
		sock.Close()
		auth.Wipe()
		return nil, err
	}

	s := &Session{
		opts:      opts,
		observer:  opts.Observer,
		clock:     opts.Clock,
		auth:      auth,
		remote:    transport.NewSecureChannel(sock, opts.CallerID, auth, opts.Clock),
		local:     local,
		relay:     netip.AddrPortFrom(relayIP, opts.RelayPort),
		endpoints: registry.New(opts.EndpointTimeout, opts.Clock),
		proxies:   registry.NewProxyTable(),
		seq:       sequencer.New(opts.Observer),
		lat:       latency.NewTracker(opts.LatencyCapacity),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.localAddr = netip.AddrPortFrom(s.detectLocalAddr(), sock.Port())
	s.mirrors = newMirrorPool(s)
	s.status = newStatusReporter(s)

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"caller_id":  opts.CallerID,
		"relay":      s.relay.String(),
		"bind":       sock.LocalAddr().String(),
		"local_port": local.Port(),
		"local_addr": s.localAddr.String(),
		"mode":       opts.Mode.String(),
	}).Info("Transport session created")

	return s, nil
}

func (s *Session) detectLocalAddr() netip.Addr {
	if s.opts.LocalAddr.IsValid() {
		return s.opts.LocalAddr
	}
	addr, err := transport.DetectLocalAddr()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "detectLocalAddr",
			"error":    err.Error(),
		}).Warn("No LAN address, local shortcut disabled")
		return netip.IPv4Unspecified()
	}
	return addr
}

// Start launches the worker loops and any receiver ports added so far.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.running.Store(true)

	s.wg.Add(3)
	go s.networkLoop()
	go s.localLoop()
	go s.pingLoop()
	s.mirrors.startAll()

	go func() {
		s.wg.Wait()
		s.doneOnce.Do(func() { close(s.done) })
	}()

	logrus.WithFields(logrus.Fields{
		"function":  "Session.Start",
		"caller_id": s.opts.CallerID,
	}).Info("Transport session started")
	return nil
}

// stop clears the running flag. Loops notice it within one receive timeout.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.running.Store(false)
		close(s.stopCh)
		s.mu.Unlock()
	})
}

// Close stops all loops, waits for them and releases the sockets. It is
// idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()

	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.remote.Close(), s.local.Close(), s.mirrors.close())
		s.auth.Wipe()
		s.doneOnce.Do(func() { close(s.done) })

		logrus.WithFields(logrus.Fields{
			"function":  "Session.Close",
			"caller_id": s.opts.CallerID,
		}).Info("Transport session closed")
	})
	return err
}

// Done is closed once every loop has exited, after a fault or Close.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the fault that stopped the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Running reports whether the worker loops are active.
func (s *Session) Running() bool {
	return s.running.Load()
}

// fault records the first loop failure and stops the session.
func (s *Session) fault(loop string, err error) {
	ferr := &FaultError{Loop: loop, Err: err}

	s.errMu.Lock()
	if s.err == nil {
		s.err = ferr
	}
	s.errMu.Unlock()

	crypto.NewPackageLogger("session", "Session.fault").
		WithError(err, "socket", loop).
		WithField("caller_id", s.opts.CallerID).
		Error("Transport fault, stopping session")

	s.stop()
}

// receiveFailed classifies a receive error. It returns true when the loop
// must exit.
func (s *Session) receiveFailed(loop string, err error) bool {
	if errors.Is(err, transport.ErrTimeout) {
		return false
	}
	if !s.running.Load() {
		return true
	}
	s.fault(loop, err)
	return true
}

// AddProxyClient registers a proxy client that receives unencrypted copies
// of all audio. It may be called before or during a session.
func (s *Session) AddProxyClient(id uint8, host string) error {
	return s.proxies.Add(id, host)
}

// RemoveProxyClient drops a proxy client.
func (s *Session) RemoveProxyClient(id uint8) {
	s.proxies.Remove(id)
}

// AddExtraPort adds an offset: every received data channel is also
// delivered to localhost port channel+offset.
func (s *Session) AddExtraPort(offset uint16) {
	s.extraMu.Lock()
	s.extra = append(s.extra, offset)
	s.extraMu.Unlock()
}

func (s *Session) extraPorts() []uint16 {
	s.extraMu.RLock()
	defer s.extraMu.RUnlock()
	return append([]uint16(nil), s.extra...)
}

// AddReceiverPort binds loopback port src and forwards everything received
// there on channel dest. The task starts immediately when the session runs.
func (s *Session) AddReceiverPort(src, dest uint16) error {
	return s.mirrors.add(src, dest)
}

// CallerID returns the stage device id of this session.
func (s *Session) CallerID() uint8 {
	return s.opts.CallerID
}

// Mode returns the announced mode flags.
func (s *Session) Mode() registry.Mode {
	return s.opts.Mode
}

// LocalPort returns the loopback port the engine sends to.
func (s *Session) LocalPort() uint16 {
	return s.local.Port()
}

// RemoteAddr returns the bound address of the peer-facing socket.
func (s *Session) RemoteAddr() netip.AddrPort {
	return s.remote.LocalAddr()
}

// RelayAddr returns the resolved relay endpoint.
func (s *Session) RelayAddr() netip.AddrPort {
	return s.relay
}

// Bitrate returns transmit and receive rates in bits per second since the
// previous call. The periodic status log measures its own window and does
// not move this one.
func (s *Session) Bitrate() (float64, float64) {
	return s.remote.Bitrate()
}

// PeerStats returns the packet counters of peer.
func (s *Session) PeerStats(id uint8) sequencer.Stats {
	return s.seq.Stats(id)
}

// ResetPeerStats zeroes the packet counters of peer.
func (s *Session) ResetPeerStats(id uint8) {
	s.seq.ResetStats(id)
}

// Latency returns the round-trip summary of peer over path.
func (s *Session) Latency(id uint8, path latency.Path) latency.Summary {
	return s.lat.Summary(id, path)
}

// Endpoints returns all active endpoints, this device included once the
// relay listed it.
func (s *Session) Endpoints() []registry.Endpoint {
	return s.endpoints.Snapshot()
}

// ProxyClients returns the configured proxy clients.
func (s *Session) ProxyClients() []registry.ProxyClient {
	return s.proxies.List()
}

// AuthFailures returns the number of frames dropped for a bad tag.
func (s *Session) AuthFailures() uint64 {
	return s.remote.AuthFailures()
}
