package registry

import "strings"

// Mode is the operating mode bitset announced by every stage device.
type Mode uint8

const (
	// PeerToPeer devices exchange payload directly when both sides agree.
	PeerToPeer Mode = 1 << iota
	// DownmixOnly devices only want the relay's downmix.
	DownmixOnly
	// DoNotSend devices must not receive direct payload.
	DoNotSend
)

// Has reports whether all bits of flag are set.
func (m Mode) Has(flag Mode) bool {
	return m&flag == flag
}

func (m Mode) String() string {
	var b strings.Builder
	if m.Has(PeerToPeer) {
		b.WriteString("peer-to-peer")
	} else {
		b.WriteString("server")
	}
	if m.Has(DownmixOnly) {
		b.WriteString(" downmixonly")
	}
	if m.Has(DoNotSend) {
		b.WriteString(" donotsend")
	}
	return b.String()
}

// ModeFromFlags builds a mode from individual switches.
func ModeFromFlags(peerToPeer, downmixOnly, doNotSend bool) Mode {
	var m Mode
	if peerToPeer {
		m |= PeerToPeer
	}
	if downmixOnly {
		m |= DownmixOnly
	}
	if doNotSend {
		m |= DoNotSend
	}
	return m
}
