package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dyluth/dhtc/internal/config"
	"github.com/dyluth/dhtc/internal/engine"
	"github.com/dyluth/dhtc/internal/engine/memory"
	"github.com/dyluth/dhtc/internal/printer"
	"github.com/dyluth/dhtc/pkg/dht"
)

const (
	pumpInterval      = 100 * time.Millisecond
	disconnectTimeout = 30 * time.Second
)

// outcome collects the single success or failure notification of one operation
type outcome struct {
	done   bool
	ok     bool
	code   int
	reason string
}

func (o *outcome) handler() *dht.NotifyFuncs {
	return &dht.NotifyFuncs{
		Success: func() { o.done, o.ok = true, true },
		Failure: func(code int, reason string) { o.done, o.code, o.reason = true, code, reason },
	}
}

func (o *outcome) finished() bool { return o.done }

// session owns one client for the lifetime of a command. All client calls
// happen on the goroutine that runs the command.
type session struct {
	cfg    *config.DHTConfig
	client *dht.Client
}

// loadConfig resolves the configuration file and applies flag overrides
func loadConfig(opts *globalOptions) (*config.DHTConfig, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, printer.Error("failed to load configuration", err.Error(),
			[]string{"Check dhtc.yml, or pass --config with the correct path"})
	}

	overridden := false
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{opts.engine, &cfg.Engine.Kind},
		{opts.redisURL, &cfg.Engine.RedisURL},
		{opts.sqlitePath, &cfg.Engine.SQLitePath},
		{opts.bootstrap, &cfg.BootstrapFile},
	} {
		if o.flag != "" {
			*o.dst = o.flag
			overridden = true
		}
	}
	if overridden {
		if err := cfg.Validate(); err != nil {
			return nil, printer.Error("invalid flags", err.Error(), nil)
		}
	}
	return cfg, nil
}

// openSession builds the engine and an initialised client. It does not connect.
func openSession(opts *globalOptions, clientOpts ...dht.Option) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	settings := cfg.EngineSettings()
	if settings.Kind == engine.KindMemory {
		// A standalone memory node sees a simulated network just big enough to connect
		network := memory.NewNetwork()
		network.SetRemotePeers(cfg.Connect.PeerThreshold)
		settings.MemoryNetwork = network
	}
	eng, err := engine.Open(settings)
	if err != nil {
		return nil, printer.Error("failed to create engine", err.Error(), nil)
	}

	logger := log.New(io.Discard, "", 0)
	if opts.verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	client := dht.New(eng, append([]dht.Option{dht.WithLogger(logger)}, clientOpts...)...)
	if err := client.Init(cfg.ClientConfig()); err != nil {
		return nil, printer.CallError("init", err)
	}
	return &session{cfg: cfg, client: client}, nil
}

// pump processes client work until done reports true or ctx ends
func (s *session) pump(ctx context.Context, done func() bool) error {
	for !done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.client.Process(pumpInterval)
	}
	return nil
}

// connect blocks until the client is connected
func (s *session) connect(ctx context.Context) error {
	var result outcome
	if err := s.client.Connect(result.handler()); err != nil {
		return printer.CallError("connect", err)
	}
	if err := s.pump(ctx, result.finished); err != nil {
		return printer.Error("connect interrupted", err.Error(), nil)
	}
	if !result.ok {
		return printer.Failure("connect", result.code, result.reason)
	}
	return nil
}

// close disconnects if needed and releases the client
func (s *session) close() error {
	defer s.client.Close()

	var result outcome
	if err := s.client.Disconnect(result.handler()); err != nil {
		if errors.Is(err, dht.ErrNotStarted) {
			return nil
		}
		return fmt.Errorf("disconnect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.pump(ctx, result.finished); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	if !result.ok {
		printer.Warning("disconnect: %s\n", result.reason)
	}
	return nil
}

// withSession connects, runs fn and always disconnects
func withSession(ctx context.Context, opts *globalOptions, fn func(ctx context.Context, s *session) error) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	if err := s.connect(ctx); err != nil {
		_ = s.close()
		return err
	}

	runErr := fn(ctx, s)
	if err := s.close(); err != nil && runErr == nil {
		return printer.Error("disconnect failed", err.Error(), nil)
	}
	return runErr
}
