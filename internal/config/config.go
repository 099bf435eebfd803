// Package config loads the daemon configuration: a YAML file, overridden by
// PEERACTOR_* environment variables, validated once. A Watcher reloads it
// when the file changes.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codewandler/peeractor/core/comm"
)

var (
	ErrInvalidListen    = errors.New("invalid listen address")
	ErrInvalidTransport = errors.New("invalid transport")
	ErrInvalidSeed      = errors.New("invalid identity seed")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidFirewall  = errors.New("invalid firewall default")
	ErrInvalidActor     = errors.New("invalid actor settings")
)

const (
	TransportTCP       = "tcp"
	TransportWebsocket = "ws"
)

type Config struct {
	Node       NodeConfig          `yaml:"node"`
	Peers      []string            `yaml:"peers"`
	Firewall   comm.FirewallConfig `yaml:"firewall"`
	Actor      ActorConfig         `yaml:"actor"`
	Log        LogConfig           `yaml:"log"`
	Metrics    MetricsConfig       `yaml:"metrics"`
	Checkpoint CheckpointConfig    `yaml:"checkpoint"`
}

type NodeConfig struct {
	// Seed is the hex encoded 32 byte ed25519 seed; empty generates a new
	// identity on every start.
	Seed      string   `yaml:"seed"`
	Listen    []string `yaml:"listen"`
	Transport string   `yaml:"transport"`
}

type ActorConfig struct {
	InboundSize           int           `yaml:"inbound_size"`
	MaxConcurrentHandlers int           `yaml:"max_concurrent_handlers"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type MetricsConfig struct {
	// Addr serves /metrics; empty disables it.
	Addr string `yaml:"addr"`
}

type CheckpointConfig struct {
	// NatsURL enables checkpoints of the object store to a JetStream bucket.
	NatsURL  string        `yaml:"nats_url"`
	Bucket   string        `yaml:"bucket"`
	Interval time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Listen:    []string{"127.0.0.1:7400"},
			Transport: TransportTCP,
		},
		Actor: ActorConfig{
			InboundSize:           512,
			MaxConcurrentHandlers: 256,
			ShutdownGrace:         5 * time.Second,
			RequestTimeout:        30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Checkpoint: CheckpointConfig{
			Bucket:   "peeractor_objects",
			Interval: 30 * time.Second,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	for _, addr := range c.Node.Listen {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, fmt.Errorf("%w: empty", ErrInvalidListen))
		}
	}
	switch c.Node.Transport {
	case TransportTCP, TransportWebsocket:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTransport, c.Node.Transport))
	}
	if c.Node.Seed != "" {
		if b, err := hex.DecodeString(c.Node.Seed); err != nil || len(b) != 32 {
			errs = append(errs, fmt.Errorf("%w: want 64 hex characters", ErrInvalidSeed))
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Firewall.Default {
	case "", "allow", "deny":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidFirewall, c.Firewall.Default))
	}
	if c.Actor.InboundSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: inbound_size must be positive", ErrInvalidActor))
	}
	if c.Actor.ShutdownGrace <= 0 {
		errs = append(errs, fmt.Errorf("%w: shutdown_grace must be positive", ErrInvalidActor))
	}
	return errors.Join(errs...)
}

// Keys returns the configured identity, or a fresh one.
func (c *Config) Keys() (comm.Keypair, error) {
	if c.Node.Seed == "" {
		return comm.GenerateKeypair()
	}
	return comm.KeypairFromHexSeed(c.Node.Seed)
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	return lvl, nil
}
