// Package config loads client configuration from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/ovtransport/registry"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete client configuration.
type Config struct {
	CallerID uint8  `yaml:"caller_id" toml:"caller_id"`
	Secret   string `yaml:"secret" toml:"secret"`
	Version  string `yaml:"version" toml:"version"`

	Relay RelayConfig `yaml:"relay" toml:"relay"`

	BindPort   uint16 `yaml:"bind_port" toml:"bind_port"`
	LocalPort  uint16 `yaml:"local_port" toml:"local_port"`
	PortOffset uint16 `yaml:"port_offset" toml:"port_offset"`
	LocalAddr  string `yaml:"local_addr" toml:"local_addr"`

	PeerToPeer  bool `yaml:"peer_to_peer" toml:"peer_to_peer"`
	DownmixOnly bool `yaml:"downmix_only" toml:"downmix_only"`
	DoNotSend   bool `yaml:"do_not_send" toml:"do_not_send"`
	SendLocal   bool `yaml:"send_local" toml:"send_local"`

	Timing TimingConfig `yaml:"timing" toml:"timing"`

	ProxyClients  []ProxyClient  `yaml:"proxy_clients" toml:"proxy_clients"`
	ExtraPorts    []uint16       `yaml:"extra_ports" toml:"extra_ports"`
	ReceiverPorts []ReceiverPort `yaml:"receiver_ports" toml:"receiver_ports"`

	Log     LogConfig     `yaml:"log" toml:"log"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// RelayConfig names the relay server.
type RelayConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port uint16 `yaml:"port" toml:"port"`
}

// TimingConfig holds the session intervals. Durations accept Go duration
// strings such as "200ms".
type TimingConfig struct {
	PingPeriod      time.Duration `yaml:"ping_period" toml:"ping_period"`
	EndpointTimeout time.Duration `yaml:"endpoint_timeout" toml:"endpoint_timeout"`
	StatusInterval  time.Duration `yaml:"status_interval" toml:"status_interval"`
	NetworkTimeout  time.Duration `yaml:"network_timeout" toml:"network_timeout"`
	LocalTimeout    time.Duration `yaml:"local_timeout" toml:"local_timeout"`
	MirrorTimeout   time.Duration `yaml:"mirror_timeout" toml:"mirror_timeout"`
	LatencyCapacity int           `yaml:"latency_capacity" toml:"latency_capacity"`
}

// ProxyClient is a host that receives unencrypted copies of all audio.
type ProxyClient struct {
	ID   uint8  `yaml:"id" toml:"id"`
	Host string `yaml:"host" toml:"host"`
}

// ReceiverPort forwards a loopback port on a fixed channel.
type ReceiverPort struct {
	Src  uint16 `yaml:"src" toml:"src"`
	Dest uint16 `yaml:"dest" toml:"dest"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls the HTTP metrics endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		Relay:      RelayConfig{Port: 9871},
		LocalPort:  9872,
		PeerToPeer: true,
		SendLocal:  true,
		Timing: TimingConfig{
			PingPeriod:      200 * time.Millisecond,
			EndpointTimeout: registry.DefaultTimeout,
			StatusInterval:  5 * time.Second,
			NetworkTimeout:  5 * time.Millisecond,
			LocalTimeout:    10 * time.Millisecond,
			MirrorTimeout:   100 * time.Millisecond,
			LatencyCapacity: 2048,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path on top of Default and validates the result. The decoder
// is chosen by extension: .yaml/.yml or .toml.
func Load(path string) (Config, error) {
	cfg := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
				"keys":     fmt.Sprint(undecoded),
			}).Warn("Ignoring unknown configuration keys")
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported file extension %q", ErrInvalidConfig, ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Load",
		"path":      path,
		"caller_id": cfg.CallerID,
		"relay":     cfg.Relay.Host,
	}).Debug("Configuration loaded")
	return cfg, nil
}

// Validate checks the fields a session cannot start without.
func (c Config) Validate() error {
	if int(c.CallerID) >= registry.MaxStageDevices {
		return fmt.Errorf("%w: caller_id %d out of range", ErrInvalidConfig, c.CallerID)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: secret is empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Relay.Host) == "" {
		return fmt.Errorf("%w: relay.host is empty", ErrInvalidConfig)
	}
	if c.Relay.Port == 0 {
		return fmt.Errorf("%w: relay.port is zero", ErrInvalidConfig)
	}
	for _, p := range c.ProxyClients {
		if int(p.ID) >= registry.MaxStageDevices {
			return fmt.Errorf("%w: proxy client id %d out of range", ErrInvalidConfig, p.ID)
		}
		if strings.TrimSpace(p.Host) == "" {
			return fmt.Errorf("%w: proxy client %d has no host", ErrInvalidConfig, p.ID)
		}
	}
	for _, r := range c.ReceiverPorts {
		if r.Src == 0 || r.Dest == 0 {
			return fmt.Errorf("%w: receiver port %d->%d", ErrInvalidConfig, r.Src, r.Dest)
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Mode returns the announced mode flags.
func (c Config) Mode() registry.Mode {
	return registry.ModeFromFlags(c.PeerToPeer, c.DownmixOnly, c.DoNotSend)
}

// Apply configures the standard logrus logger.
func (l LogConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if l.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
