// Package session runs the real-time transport of one stage device.
//
// A Session owns two sockets: an authenticated SecureChannel facing the relay
// server and the other stage devices, and a plain loopback socket facing the
// local audio engine. Worker goroutines move datagrams between them:
//
//   - the network loop receives framed messages, restores their order with a
//     sequencer and forwards payloads to local ports, extra ports and proxy
//     clients, while control messages update the endpoint registry and the
//     latency tracker;
//   - the local loop frames engine output and routes it to every peer,
//     directly when both sides run peer-to-peer and through the relay
//     otherwise;
//   - the ping loop registers with the relay, probes every active peer over
//     up to three paths and periodically logs and reports statistics;
//   - mirror tasks forward additional loopback ports on fixed channels.
//
// Basic usage:
//
//	opts := session.DefaultOptions()
//	opts.CallerID = 3
//	opts.Secret = secret
//	opts.RelayHost = "relay.example.org"
//	opts.RelayPort = 9871
//	opts.LocalPort = 9872
//
//	s, err := session.New(opts)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	if err := s.Start(); err != nil {
//		return err
//	}
//	<-s.Done()
//	return s.Err()
//
// A receive error other than a poll timeout stops the session; Done is
// closed and Err returns a *FaultError.
package session
