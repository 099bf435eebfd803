package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PEERACTOR"

// Loader reads configuration files and applies environment overrides.
type Loader struct {
	envPrefix string
	lookupEnv func(string) (string, bool)
}

func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix, lookupEnv: os.LookupEnv}
}

func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load reads filename on top of the defaults. An empty filename uses the
// defaults only. Environment overrides are applied before validation.
func (l *Loader) Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse is Load for configuration already in memory.
func (l *Loader) Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (l *Loader) applyEnv(cfg *Config) error {
	env := func(name string) (string, bool) {
		return l.lookupEnv(l.envPrefix + "_" + name)
	}

	if val, ok := env("SEED"); ok {
		cfg.Node.Seed = val
	}
	if val, ok := env("LISTEN"); ok {
		cfg.Node.Listen = splitList(val)
	}
	if val, ok := env("TRANSPORT"); ok {
		cfg.Node.Transport = val
	}
	if val, ok := env("PEERS"); ok {
		cfg.Peers = splitList(val)
	}
	if val, ok := env("LOG_LEVEL"); ok {
		cfg.Log.Level = val
	}
	if val, ok := env("LOG_FORMAT"); ok {
		cfg.Log.Format = val
	}
	if val, ok := env("METRICS_ADDR"); ok {
		cfg.Metrics.Addr = val
	}
	if val, ok := env("NATS_URL"); ok {
		cfg.Checkpoint.NatsURL = val
	}
	if val, ok := env("INBOUND_SIZE"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_INBOUND_SIZE: %w", l.envPrefix, err)
		}
		cfg.Actor.InboundSize = n
	}
	if val, ok := env("SHUTDOWN_GRACE"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s_SHUTDOWN_GRACE: %w", l.envPrefix, err)
		}
		cfg.Actor.ShutdownGrace = d
	}
	return nil
}
