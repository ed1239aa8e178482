package testing

import (
	"encoding/binary"
	"errors"
	"math"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/ovtransport/crypto"
	"github.com/opd-ai/ovtransport/limits"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// ForwardRecord is one data message passed from one client to another.
type ForwardRecord struct {
	From    uint8
	To      uint8
	Channel transport.Channel
	Size    int
}

// Client is a device registered with the relay.
type Client struct {
	ID        uint8
	Addr      netip.AddrPort
	LocalAddr netip.AddrPort
	Mode      registry.Mode
	Version   string
}

// RelaySim is a loopback relay server for session tests.
type RelaySim struct {
	sock *transport.Socket
	auth *crypto.Authenticator

	mu         sync.RWMutex
	clients    map[uint8]*Client
	forwardLog []ForwardRecord
	reports    map[uint8][][6]float64

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewRelaySim binds an ephemeral loopback port.
func NewRelaySim(secret []byte) (*RelaySim, error) {
	auth, err := crypto.NewAuthenticator(secret)
	if err != nil {
		return nil, err
	}
	sock, err := transport.Listen(0, true, 10*time.Millisecond)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewRelaySim",
		"addr":     sock.LocalAddr().String(),
	}).Info("Creating simulated relay for testing")

	return &RelaySim{
		sock:    sock,
		auth:    auth,
		clients: make(map[uint8]*Client),
		reports: make(map[uint8][][6]float64),
	}, nil
}

// Addr returns the relay endpoint clients should use.
func (r *RelaySim) Addr() netip.AddrPort {
	return r.sock.LocalAddr()
}

// Start launches the receive loop.
func (r *RelaySim) Start() {
	if r.running.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.loop()
}

// Close stops the loop and releases the socket.
func (r *RelaySim) Close() error {
	r.running.Store(false)
	r.wg.Wait()
	return r.sock.Close()
}

func (r *RelaySim) loop() {
	defer r.wg.Done()

	buf := make([]byte, limits.MaxDatagram)
	for r.running.Load() {
		n, sender, err := r.sock.Receive(buf)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return
		}
		frame := append([]byte(nil), buf[:n]...)
		msg, err := transport.DecodeFrame(frame, r.auth)
		if err != nil {
			continue
		}
		msg.Sender = sender
		r.handle(msg, frame)
	}
}

func (r *RelaySim) handle(msg *transport.Message, frame []byte) {
	switch msg.Channel {
	case transport.ChannelRegister:
		r.register(msg)
	case transport.ChannelSetLocalIP:
		r.setLocalIP(msg, frame)
	case transport.ChannelPingViaServer, transport.ChannelPongViaServer:
		if len(msg.Payload) > 0 {
			r.sendTo(msg.Payload[0], frame)
		}
	case transport.ChannelPeerLatencyReport:
		r.storeReport(msg)
	default:
		if !msg.Channel.IsControl() {
			r.broadcast(msg, frame)
		}
	}
}

func (r *RelaySim) register(msg *transport.Message) {
	r.mu.Lock()
	c, ok := r.clients[msg.CallerID]
	if !ok {
		c = &Client{ID: msg.CallerID}
		r.clients[msg.CallerID] = c
	}
	c.Addr = msg.Sender
	c.Mode = registry.Mode(msg.Sequence)
	c.Version = string(msg.Payload)
	clients := r.sortedClients()
	r.mu.Unlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":  "RelaySim.register",
			"caller_id": msg.CallerID,
			"addr":      msg.Sender.String(),
		}).Debug("Client registered with simulated relay")
	}

	for _, listed := range clients {
		frame, err := transport.EncodeFrame(transport.Header{
			CallerID: listed.ID,
			Channel:  transport.ChannelListCallerID,
			Sequence: uint16(listed.Mode),
		}, transport.EncodeEndpoint(listed.Addr), r.auth)
		if err != nil {
			continue
		}
		for _, to := range clients {
			_, _ = r.sock.Send(frame, to.Addr)
		}
	}
}

func (r *RelaySim) setLocalIP(msg *transport.Message, frame []byte) {
	addr, err := transport.DecodeEndpoint(msg.Payload)
	if err != nil {
		return
	}

	r.mu.Lock()
	if c, ok := r.clients[msg.CallerID]; ok {
		c.LocalAddr = addr
	}
	clients := r.sortedClients()
	r.mu.Unlock()

	for _, to := range clients {
		if to.ID != msg.CallerID {
			_, _ = r.sock.Send(frame, to.Addr)
		}
	}
}

func (r *RelaySim) storeReport(msg *transport.Message) {
	var values [6]float64
	if len(msg.Payload) < len(values)*8 {
		return
	}
	for i := range values {
		values[i] = math.Float64frombits(binary.BigEndian.Uint64(msg.Payload[i*8:]))
	}

	r.mu.Lock()
	r.reports[msg.CallerID] = append(r.reports[msg.CallerID], values)
	r.mu.Unlock()
}

func (r *RelaySim) broadcast(msg *transport.Message, frame []byte) {
	r.mu.Lock()
	clients := r.sortedClients()
	for _, to := range clients {
		if to.ID == msg.CallerID {
			continue
		}
		r.forwardLog = append(r.forwardLog, ForwardRecord{
			From:    msg.CallerID,
			To:      to.ID,
			Channel: msg.Channel,
			Size:    len(msg.Payload),
		})
	}
	r.mu.Unlock()

	for _, to := range clients {
		if to.ID != msg.CallerID {
			_, _ = r.sock.Send(frame, to.Addr)
		}
	}
}

func (r *RelaySim) sendTo(id uint8, frame []byte) {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if ok {
		_, _ = r.sock.Send(frame, c.Addr)
	}
}

// sortedClients returns copies ordered by id. Callers hold r.mu.
func (r *RelaySim) sortedClients() []Client {
	list := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		list = append(list, *c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Clients returns all registered devices ordered by id.
func (r *RelaySim) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedClients()
}

// Client returns the registered device with id.
func (r *RelaySim) Client(id uint8) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// GetForwardLog returns a copy of the forward log.
func (r *RelaySim) GetForwardLog() []ForwardRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ForwardRecord(nil), r.forwardLog...)
}

// ClearForwardLog empties the forward log.
func (r *RelaySim) ClearForwardLog() {
	r.mu.Lock()
	r.forwardLog = nil
	r.mu.Unlock()
}

// LatencyReports returns the latency reports received from id.
func (r *RelaySim) LatencyReports(id uint8) [][6]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([][6]float64(nil), r.reports[id]...)
}
