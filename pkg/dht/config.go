package dht

import "time"

// Engine tunable limits.
const (
	MaxThreads  = 20
	MaxDuration = 200 * time.Second
	MaxFindHits = 500

	DefaultStoreThreads  = 5
	DefaultStoreDuration = 15 * time.Second
)

// ConnectPolicy drives connection detection while the client is connecting.
type ConnectPolicy struct {
	// PollInterval is how often the engine's peer count is sampled.
	PollInterval time.Duration
	// Timeout is the absolute connection timeout.
	Timeout time.Duration
	// SettleTimeout starts when the first peer appears; when it expires the
	// connection is declared successful.
	SettleTimeout time.Duration
	// PeerThreshold declares success immediately once reached.
	PeerThreshold int
}

// DefaultConnectPolicy returns the reference values: 0.5s poll, 120s timeout,
// 10s settle, 20 peers.
func DefaultConnectPolicy() ConnectPolicy {
	return ConnectPolicy{
		PollInterval:  500 * time.Millisecond,
		Timeout:       120 * time.Second,
		SettleTimeout: 10 * time.Second,
		PeerThreshold: 20,
	}
}

// Config is passed once to Client.Init.
type Config struct {
	BootstrapFile string
	Connect       ConnectPolicy
	Find          FindParams
	Store         StoreParams
}

// DefaultConfig returns a Config with the reference connection policy and engine defaults.
func DefaultConfig() Config {
	return Config{
		Connect: DefaultConnectPolicy(),
		Find:    FindParams{MaxHits: MaxFindHits},
		Store:   StoreParams{Threads: DefaultStoreThreads, Duration: DefaultStoreDuration},
	}
}

// normalized fills zero policy fields with defaults and clamps engine tunables.
func (c Config) normalized() Config {
	def := DefaultConnectPolicy()
	if c.Connect.PollInterval <= 0 {
		c.Connect.PollInterval = def.PollInterval
	}
	if c.Connect.Timeout <= 0 {
		c.Connect.Timeout = def.Timeout
	}
	if c.Connect.SettleTimeout <= 0 {
		c.Connect.SettleTimeout = def.SettleTimeout
	}
	if c.Connect.PeerThreshold <= 0 {
		c.Connect.PeerThreshold = def.PeerThreshold
	}

	c.Find.Threads = clampInt(c.Find.Threads, MaxThreads)
	c.Find.Duration = clampDuration(c.Find.Duration, MaxDuration)
	if c.Find.MaxHits <= 0 {
		c.Find.MaxHits = MaxFindHits
	}
	c.Find.MaxHits = clampInt(c.Find.MaxHits, MaxFindHits)

	if c.Store.Threads <= 0 {
		c.Store.Threads = DefaultStoreThreads
	}
	if c.Store.Duration <= 0 {
		c.Store.Duration = DefaultStoreDuration
	}
	c.Store.Threads = clampInt(c.Store.Threads, MaxThreads)
	c.Store.Duration = clampDuration(c.Store.Duration, MaxDuration)
	return c
}

func clampInt(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func clampDuration(v, limit time.Duration) time.Duration {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
