package transport

import (
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReceiveTimeout bounds every blocking receive so that worker loops
// can observe their running flag.
const DefaultReceiveTimeout = 10 * time.Millisecond

var loopback = netip.AddrFrom4([4]byte{127, 0, 0, 1})

// Socket is a plain UDP endpoint with bounded receives and byte counters.
// The local-facing side of a session uses it unframed; SecureChannel embeds
// it for the relay- and peer-facing side.
type Socket struct {
	conn    *net.UDPConn
	timeout time.Duration
	txBytes atomic.Uint64
	rxBytes atomic.Uint64
}

// Listen binds a UDP socket on port (0 picks an ephemeral port). With
// loopback set, the socket only accepts traffic from the local host.
func Listen(port uint16, loopbackOnly bool, timeout time.Duration) (*Socket, error) {
	ip := net.IPv4zero
	if loopbackOnly {
		ip = net.IPv4(127, 0, 0, 1)
	}
	laddr := &net.UDPAddr{IP: ip, Port: int(port)}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, newSocketError("bind", laddr.String(), err)
	}

	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"addr":     conn.LocalAddr().String(),
		"loopback": loopbackOnly,
		"timeout":  timeout,
	}).Debug("UDP socket bound")

	return &Socket{conn: conn, timeout: timeout}, nil
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Port returns the bound port.
func (s *Socket) Port() uint16 {
	return s.LocalAddr().Port()
}

// Send writes b to dest and accounts the bytes written.
func (s *Socket) Send(b []byte, dest netip.AddrPort) (int, error) {
	n, err := s.conn.WriteToUDPAddrPort(b, dest)
	if err != nil {
		return n, newSocketError("send", dest.String(), err)
	}
	s.txBytes.Add(uint64(n))
	return n, nil
}

// SendToPort writes b to the given port on the loopback interface.
func (s *Socket) SendToPort(b []byte, port uint16) (int, error) {
	return s.Send(b, netip.AddrPortFrom(loopback, port))
}

// Receive reads one datagram into buf. When the read deadline expires it
// returns ErrTimeout, which callers treat as an idle poll.
func (s *Socket) Receive(buf []byte) (int, netip.AddrPort, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))

	n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, netip.AddrPort{}, ErrTimeout
		}
		return 0, netip.AddrPort{}, newSocketError("receive", s.conn.LocalAddr().String(), err)
	}

	s.rxBytes.Add(uint64(n))
	return n, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), nil
}

// TxBytes returns the total number of bytes sent.
func (s *Socket) TxBytes() uint64 { return s.txBytes.Load() }

// RxBytes returns the total number of bytes received.
func (s *Socket) RxBytes() uint64 { return s.rxBytes.Load() }

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}
