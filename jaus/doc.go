// Package jaus implements the message codec at the bottom of the JAUS
// transport core: component addresses, the fixed 16-byte message header, the
// Stream buffer that carries one framed message, and the callback contract
// every transport uses to hand complete messages to their owner.
//
// # Header Layout
//
// All multi-byte fields are little-endian:
//
//	0  ..1   properties: priority(4) ack/nack(2) service connection(1)
//	         experimental(1) version(6) reserved(2)
//	2  ..3   command code
//	4  ..7   destination: instance, component, node, subsystem
//	8  ..11  source: instance, component, node, subsystem
//	12 ..13  data control: payload size(12) data flag(4)
//	14 ..15  sequence number
//
// # Parsing Untrusted Bytes
//
// ParseHeader reads through a bounded Cursor and never indexes past the end
// of its input. A buffer that is simply too short yields ErrNeedMoreData so
// receive loops can wait for more bytes; a header that can never be valid
// yields ErrMalformedFrame so they can skip it and resume scanning.
//
//	h, err := jaus.ParseHeader(buf)
//	switch {
//	case errors.Is(err, jaus.ErrNeedMoreData):
//	    // keep accumulating
//	case errors.Is(err, jaus.ErrMalformedFrame):
//	    // skip forward
//	}
//
// # Callbacks
//
// Every transport delivers complete messages through the Callback interface.
// Plain functions can be adapted with CallbackFunc:
//
//	cb := jaus.CallbackFunc(func(s *jaus.Stream, h *jaus.Header, kind jaus.TransportKind, extra any) {
//	    log.Printf("%s message 0x%04X from %s", kind, h.CommandCode, h.Source)
//	})
package jaus
