package jaus

// TransportKind identifies which transport delivered or will carry a message.
type TransportKind uint8

const (
	KindNone TransportKind = iota
	KindSharedMemory
	KindUDP
	KindTCP
	KindSerial
)

func (k TransportKind) String() string {
	switch k {
	case KindSharedMemory:
		return "shm"
	case KindUDP:
		return "udp"
	case KindTCP:
		return "tcp"
	case KindSerial:
		return "serial"
	default:
		return "none"
	}
}

// Callback receives every complete message from a transport. h is the
// already-parsed header of s. extra carries transport-specific context: the
// remote net.Addr for TCP and UDP, the port name for serial, nil for shared
// memory.
//
// Callbacks run on the transport's receive goroutine while it holds its
// callback lock. They must not block or call back into the delivering
// transport synchronously.
type Callback interface {
	ProcessStream(s *Stream, h *Header, kind TransportKind, extra any)
}

// CallbackFunc adapts an ordinary function to the Callback interface.
type CallbackFunc func(s *Stream, h *Header, kind TransportKind, extra any)

// ProcessStream calls f(s, h, kind, extra).
func (f CallbackFunc) ProcessStream(s *Stream, h *Header, kind TransportKind, extra any) {
	f(s, h, kind, extra)
}
