// Package config loads transport core settings from YAML files and
// environment variables, and configures logging from them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JAUS_LOG_LEVEL.
const EnvPrefix = "JAUS"

// Config is the root configuration.
type Config struct {
	// Address is this component's subsystem.node.component.instance.
	Address string `mapstructure:"address"`

	Log        LogConfig        `mapstructure:"log"`
	SHM        SHMConfig        `mapstructure:"shm"`
	Network    NetworkConfig    `mapstructure:"network"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
	Framing    FramingConfig    `mapstructure:"framing"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// Output: stdout, stderr, or a file path
	Output string `mapstructure:"output"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls rotation when logging to a file.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// SHMConfig controls shared memory mailboxes.
type SHMConfig struct {
	Enable          bool          `mapstructure:"enable"`
	Dir             string        `mapstructure:"dir"`
	MailboxSize     int           `mapstructure:"mailbox_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ActiveThreshold time.Duration `mapstructure:"active_threshold"`
	AutoCollect     bool          `mapstructure:"auto_collect"`
}

// NetworkConfig controls the UDP and TCP channels.
type NetworkConfig struct {
	UDPPort      int           `mapstructure:"udp_port"`
	TCPPort      int           `mapstructure:"tcp_port"`
	PreferTCP    bool          `mapstructure:"prefer_tcp"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// SerialConfig describes the default serial link.
type SerialConfig struct {
	Port     string  `mapstructure:"port"`
	Baud     int     `mapstructure:"baud"`
	DataBits int     `mapstructure:"data_bits"`
	Parity   string  `mapstructure:"parity"`
	StopBits float64 `mapstructure:"stop_bits"`
}

// ReassemblyConfig controls large data set collection on receive.
type ReassemblyConfig struct {
	Enable  bool          `mapstructure:"enable"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FramingConfig bounds stream receive buffers.
type FramingConfig struct {
	MaxBuffer int `mapstructure:"max_buffer"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Address: "1.1.1.1",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		SHM: SHMConfig{
			Enable:          true,
			MailboxSize:     limits.DefaultMailboxSize,
			PollInterval:    time.Millisecond,
			ActiveThreshold: 100 * time.Millisecond,
		},
		Network: NetworkConfig{
			UDPPort:      3794,
			TCPPort:      3794,
			ReadTimeout:  100 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			ReapInterval: time.Second,
		},
		Serial: SerialConfig{
			Baud:     115200,
			DataBits: 8,
			Parity:   "none",
			StopBits: 1,
		},
		Reassembly: ReassemblyConfig{
			Enable:  true,
			Timeout: time.Second,
		},
		Framing: FramingConfig{
			MaxBuffer: limits.DefaultReceiveBufferLimit,
		},
	}
}

// Load reads configuration from path when non-empty, otherwise from
// JAUS_CONFIG or jaus.yaml in the usual places. A missing file is not an
// error. Environment variables override file values: JAUS_SHM_DIR sets
// shm.dir.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seedDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jaus")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".jaus"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedDefaults registers every key so environment-only configs work.
func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("address", cfg.Address)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("shm.enable", cfg.SHM.Enable)
	v.SetDefault("shm.dir", cfg.SHM.Dir)
	v.SetDefault("shm.mailbox_size", cfg.SHM.MailboxSize)
	v.SetDefault("shm.poll_interval", cfg.SHM.PollInterval)
	v.SetDefault("shm.active_threshold", cfg.SHM.ActiveThreshold)
	v.SetDefault("shm.auto_collect", cfg.SHM.AutoCollect)

	v.SetDefault("network.udp_port", cfg.Network.UDPPort)
	v.SetDefault("network.tcp_port", cfg.Network.TCPPort)
	v.SetDefault("network.prefer_tcp", cfg.Network.PreferTCP)
	v.SetDefault("network.read_timeout", cfg.Network.ReadTimeout)
	v.SetDefault("network.write_timeout", cfg.Network.WriteTimeout)
	v.SetDefault("network.reap_interval", cfg.Network.ReapInterval)

	v.SetDefault("serial.port", cfg.Serial.Port)
	v.SetDefault("serial.baud", cfg.Serial.Baud)
	v.SetDefault("serial.data_bits", cfg.Serial.DataBits)
	v.SetDefault("serial.parity", cfg.Serial.Parity)
	v.SetDefault("serial.stop_bits", cfg.Serial.StopBits)

	v.SetDefault("reassembly.enable", cfg.Reassembly.Enable)
	v.SetDefault("reassembly.timeout", cfg.Reassembly.Timeout)

	v.SetDefault("framing.max_buffer", cfg.Framing.MaxBuffer)
}

// Validate checks field ranges and normalises string enums.
func (c *Config) Validate() error {
	if _, err := c.LocalAddress(); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}

	if c.SHM.MailboxSize < limits.MailboxHeaderSize+limits.LengthPrefixSize+limits.MaxPacketSize {
		return fmt.Errorf("invalid shm.mailbox_size: %d is smaller than one packet", c.SHM.MailboxSize)
	}
	for name, port := range map[string]int{"network.udp_port": c.Network.UDPPort, "network.tcp_port": c.Network.TCPPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid %s: %d", name, port)
		}
	}
	if c.Framing.MaxBuffer < limits.MaxFrameSize {
		return fmt.Errorf("invalid framing.max_buffer: %d is smaller than one frame", c.Framing.MaxBuffer)
	}
	c.Serial.Parity = strings.ToLower(strings.TrimSpace(c.Serial.Parity))
	return nil
}

// LocalAddress parses Address.
func (c *Config) LocalAddress() (jaus.Address, error) {
	a, err := jaus.ParseAddress(c.Address)
	if err != nil {
		return jaus.Address{}, err
	}
	if err := a.Validate(); err != nil {
		return jaus.Address{}, err
	}
	return a, nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
