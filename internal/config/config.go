package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/dhtc/internal/engine"
	"github.com/dyluth/dhtc/pkg/dht"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "dhtc.yml"

// Environment overrides
const (
	EnvRedisURL = "DHTC_REDIS_URL"
	EnvEngine   = "DHTC_ENGINE"
)

// DHTConfig represents the top-level dhtc.yml configuration
type DHTConfig struct {
	Version       string        `yaml:"version"`
	BootstrapFile string        `yaml:"bootstrap_file,omitempty"` // Contact file handed to the engine on start
	Engine        EngineConfig  `yaml:"engine"`
	Connect       ConnectConfig `yaml:"connect,omitempty"`
	Find          FindConfig    `yaml:"find,omitempty"`
	Store         StoreConfig   `yaml:"store,omitempty"`
	Metrics       MetricsConfig `yaml:"metrics,omitempty"`
}

// EngineConfig selects the network engine
type EngineConfig struct {
	Kind       string        `yaml:"kind"` // memory, redis or sqlite
	RedisURL   string        `yaml:"redis_url,omitempty"`
	Network    string        `yaml:"network,omitempty"`   // Redis key namespace
	Advertise  string        `yaml:"advertise,omitempty"` // ip:port reported as external address
	SQLitePath string        `yaml:"sqlite_path,omitempty"`
	Heartbeat  time.Duration `yaml:"heartbeat,omitempty"`
	PeerTTL    time.Duration `yaml:"peer_ttl,omitempty"`
}

// ConnectConfig tunes connection detection. Zero values select the defaults.
type ConnectConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	SettleTimeout time.Duration `yaml:"settle_timeout,omitempty"`
	PeerThreshold int           `yaml:"peer_threshold,omitempty"`
}

// FindConfig tunes searches
type FindConfig struct {
	Threads  int           `yaml:"threads,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	MaxHits  int           `yaml:"max_hits,omitempty"`
}

// StoreConfig tunes publishing
type StoreConfig struct {
	Threads  int           `yaml:"threads,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

// MetricsConfig enables the health and metrics endpoint of `dhtc serve`
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the configuration used when no file exists
func Default() *DHTConfig {
	c := &DHTConfig{Version: "1.0", Engine: EngineConfig{Kind: engine.KindMemory}}
	c.applyDefaults()
	return c
}

func (c *DHTConfig) applyDefaults() {
	if c.Engine.Kind == "" {
		c.Engine.Kind = engine.KindMemory
	}
	def := dht.DefaultConfig()
	if c.Connect.PollInterval == 0 {
		c.Connect.PollInterval = def.Connect.PollInterval
	}
	if c.Connect.Timeout == 0 {
		c.Connect.Timeout = def.Connect.Timeout
	}
	if c.Connect.SettleTimeout == 0 {
		c.Connect.SettleTimeout = def.Connect.SettleTimeout
	}
	if c.Connect.PeerThreshold == 0 {
		c.Connect.PeerThreshold = def.Connect.PeerThreshold
	}
	if c.Find.MaxHits == 0 {
		c.Find.MaxHits = def.Find.MaxHits
	}
	if c.Store.Threads == 0 {
		c.Store.Threads = def.Store.Threads
	}
	if c.Store.Duration == 0 {
		c.Store.Duration = def.Store.Duration
	}
}

// applyEnv lets the environment override the file
func (c *DHTConfig) applyEnv() {
	if v := os.Getenv(EnvEngine); v != "" {
		c.Engine.Kind = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Engine.RedisURL = v
	}
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *DHTConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	switch c.Engine.Kind {
	case engine.KindMemory:
	case engine.KindRedis:
		if c.Engine.RedisURL == "" && c.BootstrapFile == "" {
			return fmt.Errorf("engine.redis_url is required for the redis engine (or list redis:// seeds in bootstrap_file)")
		}
	case engine.KindSQLite:
		if c.Engine.SQLitePath == "" {
			return fmt.Errorf("engine.sqlite_path is required for the sqlite engine")
		}
	default:
		return fmt.Errorf("invalid engine.kind: %s (must be 'memory', 'redis', or 'sqlite')", c.Engine.Kind)
	}
	if c.Engine.Heartbeat < 0 || c.Engine.PeerTTL < 0 {
		return fmt.Errorf("engine.heartbeat and engine.peer_ttl must be >= 0")
	}

	if c.Connect.PollInterval < 0 || c.Connect.Timeout < 0 || c.Connect.SettleTimeout < 0 {
		return fmt.Errorf("connect durations must be >= 0")
	}
	if c.Connect.PeerThreshold < 1 {
		return fmt.Errorf("connect.peer_threshold must be >= 1, got %d", c.Connect.PeerThreshold)
	}

	if err := checkRange("find.threads", c.Find.Threads, dht.MaxThreads); err != nil {
		return err
	}
	if err := checkRange("find.max_hits", c.Find.MaxHits, dht.MaxFindHits); err != nil {
		return err
	}
	if err := checkRange("store.threads", c.Store.Threads, dht.MaxThreads); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{"find.duration": c.Find.Duration, "store.duration": c.Store.Duration} {
		if d < 0 || d > dht.MaxDuration {
			return fmt.Errorf("%s must be between 0 and %s, got %s", name, dht.MaxDuration, d)
		}
	}

	return nil
}

func checkRange(name string, v, limit int) error {
	if v < 0 || v > limit {
		return fmt.Errorf("%s must be between 0 and %d, got %d", name, limit, v)
	}
	return nil
}

// ClientConfig converts the file into the client configuration
func (c *DHTConfig) ClientConfig() dht.Config {
	return dht.Config{
		BootstrapFile: c.BootstrapFile,
		Connect: dht.ConnectPolicy{
			PollInterval:  c.Connect.PollInterval,
			Timeout:       c.Connect.Timeout,
			SettleTimeout: c.Connect.SettleTimeout,
			PeerThreshold: c.Connect.PeerThreshold,
		},
		Find:  dht.FindParams{Threads: c.Find.Threads, Duration: c.Find.Duration, MaxHits: c.Find.MaxHits},
		Store: dht.StoreParams{Threads: c.Store.Threads, Duration: c.Store.Duration},
	}
}

// EngineSettings converts the engine section for engine.Open
func (c *DHTConfig) EngineSettings() engine.Settings {
	return engine.Settings{
		Kind:       c.Engine.Kind,
		RedisURL:   c.Engine.RedisURL,
		Network:    c.Engine.Network,
		Advertise:  c.Engine.Advertise,
		SQLitePath: c.Engine.SQLitePath,
		Heartbeat:  c.Engine.Heartbeat,
		PeerTTL:    c.Engine.PeerTTL,
	}
}

// Load reads and validates dhtc.yml from the specified path
func Load(path string) (*DHTConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config DHTConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path, falling back to the defaults when the default file is absent
func LoadOrDefault(path string) (*DHTConfig, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	config, err := Load(path)
	if err == nil {
		return config, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		config = Default()
		config.applyEnv()
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return config, nil
	}
	return nil, err
}
