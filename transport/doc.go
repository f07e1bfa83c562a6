// Package transport implements the network and serial channels of the JAUS
// transport core: TCP client and server, UDP client and server, and a serial
// link. Every channel puts an 8-byte ASCII token in front of each frame:
//
//	MAGIC(8) || Header(16) || Payload(0..4080)
//
// with "JTCP01.0" on TCP, "JAUS01.0" on UDP and "JSER01.0" on serial.
//
// # Receiving
//
// Stream channels (TCP and serial) accumulate bytes in a Deframer, which
// scans for the token, parses the header behind it and extracts the frame
// once all of its declared payload has arrived. Noise before a token is
// dropped, an unparsable candidate is skipped, and a buffer that outgrows its
// limit without producing a frame is cleared. UDP treats each datagram as one
// candidate frame.
//
// Complete frames go to the channel's jaus.Callback on the receive goroutine:
//
//	srv, err := transport.ListenTCP(":3794", jaus.CallbackFunc(
//	    func(s *jaus.Stream, h *jaus.Header, kind jaus.TransportKind, from any) {
//	        log.Printf("%s from %v", h, from)
//	    }))
//
// With WithCollector, fragments are reassembled and only whole messages
// reach the callback.
//
// # Sending
//
// Send takes a stream that fits one packet; larger messages must be split
// with largedata.CreateFragments first. Servers route Send by destination
// address, using the source addresses seen on inbound frames; SendTo
// addresses a peer directly.
//
// # Errors
//
// Failed operations return a *ChannelError naming the operation, transport
// and peer. Receive loops never return errors; malformed input is logged,
// counted and skipped.
package transport
