// Package testing provides an in-process relay server for deterministic
// testing of transport sessions.
//
// # Overview
//
// RelaySim listens on a loopback UDP port and speaks the framed session
// protocol with the same shared secret as its clients. It implements the
// subset of relay behaviour a client depends on:
//
//   - REGISTER records the sender endpoint and mode and answers every client
//     with a LIST_CALLER_ID per registered device;
//   - SET_LOCAL_IP is recorded and passed on to the other clients;
//   - PING_VIA_SERVER and PONG_VIA_SERVER are forwarded to the device named
//     in the first payload byte;
//   - PEER_LATENCY_REPORT payloads are kept for inspection;
//   - data channels are forwarded to every other registered client.
//
// # Usage
//
//	relay, err := testing.NewRelaySim(secret)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	relay.Start()
//	defer relay.Close()
//
//	opts.RelayHost = "127.0.0.1"
//	opts.RelayPort = relay.Addr().Port()
//
// # Forward Logs
//
// Every forwarded data message is appended to a log. Use GetForwardLog to
// retrieve it and ClearForwardLog to reset between test cases.
//
// # Thread Safety
//
// All methods on RelaySim are safe for concurrent use from multiple
// goroutines.
package testing
