// Package ovtransport implements the real-time transport core of a
// networked audio client.
//
// A stage device exchanges audio datagrams with the other members of a
// session, either directly (peer-to-peer) or through a relay server. Every
// datagram carries a small header with the sender's stage device id, a
// channel, a per-channel sequence number and a keyed authentication tag
// derived from the session secret. Channels up to 100 carry control traffic;
// higher channels carry audio and map to local UDP ports.
//
// # Getting Started
//
// Load a configuration and run a client until it faults or is interrupted:
//
//	cfg, err := config.Load("ovtransport.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := ovtransport.NewClient(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	<-client.Done()
//
// # Packages
//
//   - transport: wire format, sockets and the authenticated channel
//   - sequencer: reordering of slightly late datagrams and loss counting
//   - latency: round-trip statistics per peer and path
//   - registry: active endpoints, mode flags and proxy clients
//   - session: worker loops, routing, pings and status reports
//   - metrics: Prometheus collector over session statistics
//   - config: YAML and TOML configuration files
//
// # Callbacks
//
// Pass an [interfaces.Observer] to receive round-trip measurements and
// sequence errors. Callbacks run on the network receive goroutine and must
// not block.
package ovtransport
