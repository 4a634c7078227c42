package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/dhtc/internal/health"
	"github.com/dyluth/dhtc/internal/printer"
	"github.com/dyluth/dhtc/pkg/dht"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stay connected and expose health and metrics endpoints",
		Long: `Connect and keep the client running until interrupted.

GET /healthz reports the client state (200 while connected, 503 otherwise)
and GET /metrics exposes Prometheus metrics. The listen address comes from
--listen or metrics.addr in dhtc.yml; without either no HTTP server is started.

Stored values can be announced at startup with --announce KEY=VALUE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			announce, _ := cmd.Flags().GetStringArray("announce")
			return runServe(ctx, opts, listen, announce, nil)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Health and metrics listen address (overrides metrics.addr)")
	cmd.Flags().StringArray("announce", nil, "KEY=VALUE to store once connected (repeatable)")
	return cmd
}

// serveObserver mirrors state changes into the health status and the terminal
type serveObserver struct {
	status *health.Status
}

func (o *serveObserver) OnStateChanged(s dht.State) {
	o.status.OnStateChanged(s)
	printer.State(s)
}

// runServe blocks until ctx ends. ready, when set, receives the health server
// address once the client is connected.
func runServe(ctx context.Context, opts *globalOptions, listen string, announce []string, ready chan<- string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := openSession(opts, dht.WithMetrics(reg))
	if err != nil {
		return err
	}

	status := health.NewStatus()
	if err := s.client.ObserverAttach(&serveObserver{status: status}, dht.MaskStateChanged); err != nil {
		s.client.Close()
		return printer.CallError("observe", err)
	}

	if listen == "" {
		listen = s.cfg.Metrics.Addr
	}
	var srv *health.Server
	if listen != "" {
		srv = health.NewServer(status, reg)
		if err := srv.Start(listen); err != nil {
			s.client.Close()
			return printer.Error("failed to start health server", err.Error(),
				[]string{"Choose a free address with --listen"})
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if srv != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, release := context.WithTimeout(context.Background(), 5*time.Second)
			defer release()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// The client is owned by this goroutine from here on
	g.Go(func() error {
		defer cancel()
		if err := s.connect(gctx); err != nil {
			_ = s.close()
			return err
		}
		if addr, err := s.client.ExternalAddress(); err == nil && addr.IsValid() {
			status.SetAddress(addr.String())
			printer.Info("external address %s\n", addr)
		}

		for _, a := range announce {
			key, value, err := parseAnnounce(a)
			if err != nil {
				_ = s.close()
				return err
			}
			if err := runStore(gctx, s, key, value); err != nil {
				_ = s.close()
				return err
			}
		}

		if ready != nil {
			addr := ""
			if srv != nil {
				addr = srv.Addr()
			}
			ready <- addr
		}

		// Stay connected until interrupted
		_ = s.pump(gctx, func() bool { return s.client.InState() == dht.Disconnected })
		return s.close()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	printer.Success("stopped\n")
	return nil
}

func parseAnnounce(a string) (dht.Key, dht.Value, error) {
	key, value, ok := strings.Cut(a, "=")
	if !ok || key == "" {
		return dht.Key{}, dht.Value{}, printer.Error("invalid --announce", fmt.Sprintf("malformed pair %q", a),
			[]string{"Pass --announce KEY=VALUE"})
	}
	return dht.KeyString(key), dht.ValueString(value, nil), nil
}
