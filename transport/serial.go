package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SerialConfig describes a serial link.
type SerialConfig struct {
	Port     string  // device name, e.g. /dev/ttyUSB0 or COM3
	BaudRate int     // bits per second
	DataBits int     // 5 to 8
	Parity   string  // none, odd, even, mark or space
	StopBits float64 // 1, 1.5 or 2
}

// DefaultSerialConfig returns 115200 baud 8N1 on port.
func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{Port: port, BaudRate: 115200, DataBits: 8, Parity: "none", StopBits: 1}
}

func (c SerialConfig) mode() (*serial.Mode, error) {
	if c.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d", c.DataBits)
	}

	m := &serial.Mode{BaudRate: c.BaudRate, DataBits: c.DataBits}
	switch strings.ToLower(c.Parity) {
	case "", "none", "n":
		m.Parity = serial.NoParity
	case "odd", "o":
		m.Parity = serial.OddParity
	case "even", "e":
		m.Parity = serial.EvenParity
	case "mark", "m":
		m.Parity = serial.MarkParity
	case "space", "s":
		m.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity %q", c.Parity)
	}
	switch c.StopBits {
	case 0, 1:
		m.StopBits = serial.OneStopBit
	case 1.5:
		m.StopBits = serial.OnePointFiveStopBits
	case 2:
		m.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %v", c.StopBits)
	}
	return m, nil
}

// Serial is a framed point-to-point serial link.
type Serial struct {
	name   string
	link   *link
	disp   *dispatcher
	cancel context.CancelFunc
	once   sync.Once
}

// OpenSerial opens the port described by cfg and starts delivering inbound
// frames to cb.
func OpenSerial(cfg SerialConfig, cb jaus.Callback, opts ...Option) (*Serial, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	mode, err := cfg.mode()
	if err != nil {
		return nil, newChannelError("open", jaus.KindSerial, cfg.Port, err)
	}
	o := buildOptions(opts)

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpenSerial",
			"port":     cfg.Port,
			"baud":     cfg.BaudRate,
			"error":    err.Error(),
		}).Error("Failed to open serial port")
		return nil, newChannelError("open", jaus.KindSerial, cfg.Port, err)
	}
	if err := port.SetReadTimeout(o.readTimeout); err != nil {
		port.Close()
		return nil, newChannelError("open", jaus.KindSerial, cfg.Port, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "OpenSerial",
		"port":      cfg.Port,
		"baud":      cfg.BaudRate,
		"data_bits": cfg.DataBits,
		"parity":    cfg.Parity,
		"stop_bits": cfg.StopBits,
	}).Info("Serial channel open")
	return newSerial(port, cfg.Port, cb, o), nil
}

// newSerial runs the serial framing over any byte stream.
func newSerial(rwc io.ReadWriteCloser, name string, cb jaus.Callback, o options) *Serial {
	disp := newDispatcher(jaus.KindSerial, cb, o)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Serial{
		name:   name,
		link:   newLink(rwc, name, name, SerialMagic, jaus.KindSerial, disp, o),
		disp:   disp,
		cancel: cancel,
	}
	go s.link.run(ctx)
	return s
}

// Send writes s as one serial frame.
func (s *Serial) Send(st *jaus.Stream) (int, error) {
	frame, err := EncodeFrame(SerialMagic, st)
	if err != nil {
		return 0, newChannelError("send", jaus.KindSerial, s.name, err)
	}
	return s.link.write(frame)
}

// SetCallback replaces the receive callback.
func (s *Serial) SetCallback(cb jaus.Callback) error { return s.disp.setCallback(cb) }

// Kind returns jaus.KindSerial.
func (s *Serial) Kind() jaus.TransportKind { return jaus.KindSerial }

// Port returns the device name.
func (s *Serial) Port() string { return s.name }

// Shutdown closes the port and waits for the receive loop to stop.
func (s *Serial) Shutdown() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.link.close()
		logrus.WithFields(logrus.Fields{
			"function": "Serial.Shutdown",
			"port":     s.name,
		}).Info("Serial channel closed")
	})
	return err
}

// SerialPorts lists the serial devices present on the host.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

