// Package interfaces defines the capability interfaces through which a
// transport session reports to its collaborators.
//
// The signalling layer that owns a session implements [Observer] (or one of
// its halves) to receive latency measurements and sequence anomalies:
//
//	obs := interfaces.ObserverFuncs{
//	    Ping: func(peer uint8, rttMS float64, from netip.AddrPort) {
//	        log.Printf("peer %d: %.2f ms via %s", peer, rttMS, from)
//	    },
//	}
//	opts.Observer = obs
//
// # Thread Safety
//
// Observers are invoked synchronously from the session's network-receive
// goroutine only. Implementations must return quickly; blocking an observer
// stalls packet delivery for the whole session.
package interfaces
