package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// EncodeEndpoint serializes an endpoint descriptor.
// Format: IPv4: 4 bytes IP + 2 bytes port, IPv6: 16 bytes IP + 2 bytes port
// (big-endian). An invalid address encodes as 0.0.0.0:0, meaning "none".
func EncodeEndpoint(ep netip.AddrPort) []byte {
	addr := ep.Addr().Unmap()
	if !addr.IsValid() {
		return make([]byte, 6)
	}

	raw := addr.AsSlice()
	result := make([]byte, len(raw)+2)
	copy(result, raw)
	result[len(raw)] = byte(ep.Port() >> 8)
	result[len(raw)+1] = byte(ep.Port() & 0xFF)
	return result
}

// DecodeEndpoint parses an endpoint descriptor produced by EncodeEndpoint.
func DecodeEndpoint(b []byte) (netip.AddrPort, error) {
	var addr netip.Addr
	switch len(b) {
	case 6:
		addr = netip.AddrFrom4([4]byte(b[0:4]))
	case 18:
		addr = netip.AddrFrom16([16]byte(b[0:16])).Unmap()
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: length %d", ErrInvalidEndpoint, len(b))
	}
	port := uint16(b[len(b)-2])<<8 | uint16(b[len(b)-1])
	return netip.AddrPortFrom(addr, port), nil
}

// HasAddress reports whether ep carries a usable address, as opposed to the
// "none" descriptor.
func HasAddress(ep netip.AddrPort) bool {
	return ep.Addr().IsValid() && !ep.Addr().IsUnspecified()
}

// DetectLocalAddr returns the first IPv4 address of an active, non-loopback
// interface. Peers on the same LAN use it as the shortcut destination.
func DetectLocalAddr() (netip.Addr, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, err
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipnet.IP.To4()); ok && ip.Is4() {
				return ip, nil
			}
		}
	}

	return netip.Addr{}, errors.New("no suitable local address found")
}

// ResolveHost resolves host to its first IPv4 address. Literal addresses are
// returned without a lookup. Sockets are IPv4 only, so IPv6 literals are
// rejected. Failures are reported as *HostResolutionError.
func ResolveHost(host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if !ip.Is4() {
			return netip.Addr{}, &HostResolutionError{Host: host, Err: errors.New("not an IPv4 address")}
		}
		return ip, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.Addr{}, &HostResolutionError{Host: host, Err: err}
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			addr, _ := netip.AddrFromSlice(v4)
			return addr, nil
		}
	}
	return netip.Addr{}, &HostResolutionError{Host: host, Err: errors.New("no IPv4 address")}
}
