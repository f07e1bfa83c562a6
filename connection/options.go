package connection

import (
	"time"

	"github.com/opd-ai/jauscore/config"
	"github.com/opd-ai/jauscore/largedata"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/opd-ai/jauscore/transport"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Options configures a Manager.
type Options struct {
	// EnableSHM allows Connect to use shared memory.
	EnableSHM bool
	// SHMDir holds mailbox regions; empty selects shm.DefaultDir().
	SHMDir string
	// MailboxSize is the size of the local inbox created for replies.
	MailboxSize int
	// PollInterval is how often an idle inbox is checked.
	PollInterval time.Duration
	// ActiveThreshold is how recently a peer must have read its inbox for
	// shared memory to be chosen.
	ActiveThreshold time.Duration
	// AutoCollect reassembles fragments before they enter a peer's mailbox.
	AutoCollect bool

	UDPPort int
	TCPPort int
	// PreferTCP makes Connect dial TCP even when the caller asks for UDP.
	PreferTCP    bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ReapInterval applies to TCP servers built from TransportOptions.
	ReapInterval time.Duration
	MaxBuffer    int

	// Reassemble delivers whole messages from network channels.
	Reassemble        bool
	ReassemblyTimeout time.Duration

	Metrics      *metrics.Metrics
	TimeProvider TimeProvider
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig derives Manager options from a loaded configuration.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		EnableSHM:         c.SHM.Enable,
		SHMDir:            c.SHM.Dir,
		MailboxSize:       c.SHM.MailboxSize,
		PollInterval:      c.SHM.PollInterval,
		ActiveThreshold:   c.SHM.ActiveThreshold,
		AutoCollect:       c.SHM.AutoCollect,
		UDPPort:           c.Network.UDPPort,
		TCPPort:           c.Network.TCPPort,
		PreferTCP:         c.Network.PreferTCP,
		ReadTimeout:       c.Network.ReadTimeout,
		WriteTimeout:      c.Network.WriteTimeout,
		ReapInterval:      c.Network.ReapInterval,
		MaxBuffer:         c.Framing.MaxBuffer,
		Reassemble:        c.Reassembly.Enable,
		ReassemblyTimeout: c.Reassembly.Timeout,
	}
}

// SerialOptions builds a transport.SerialConfig from the configured link.
func SerialOptions(c *config.Config) transport.SerialConfig {
	return transport.SerialConfig{
		Port:     c.Serial.Port,
		BaudRate: c.Serial.Baud,
		DataBits: c.Serial.DataBits,
		Parity:   c.Serial.Parity,
		StopBits: c.Serial.StopBits,
	}
}

// TransportOptions returns the channel options these settings imply, for
// the Manager's own channels and for servers a caller runs next to it. Each
// call builds a fresh collector when reassembly is enabled.
func (o Options) TransportOptions() []transport.Option {
	opts := []transport.Option{
		transport.WithReadTimeout(o.ReadTimeout),
		transport.WithWriteTimeout(o.WriteTimeout),
		transport.WithReapInterval(o.ReapInterval),
		transport.WithMaxBuffer(o.MaxBuffer),
		transport.WithMetrics(o.Metrics),
	}
	if o.Reassemble {
		opts = append(opts, transport.WithCollector(largedata.NewCollector(
			largedata.WithTimeout(o.ReassemblyTimeout),
			largedata.WithMetrics(o.Metrics),
		)))
	}
	return opts
}

func (o *Options) normalize() {
	if o.MailboxSize <= 0 {
		o.MailboxSize = limits.DefaultMailboxSize
	}
	if o.ActiveThreshold <= 0 {
		o.ActiveThreshold = 100 * time.Millisecond
	}
	if o.UDPPort == 0 {
		o.UDPPort = transport.DefaultPort
	}
	if o.TCPPort == 0 {
		o.TCPPort = transport.DefaultPort
	}
	if o.TimeProvider == nil {
		o.TimeProvider = DefaultTimeProvider{}
	}
}
