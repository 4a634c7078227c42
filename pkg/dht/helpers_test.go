package dht

import (
	"context"
	"errors"
	"io"
	"log"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// fakeEngine is a scriptable Engine. Every call is appended to calls.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	peers atomic.Int64
	addr  netip.AddrPort

	startErr error
	stopErr  error

	hits       []Hit
	findErr    error
	findBlock  bool
	findPanic  bool
	results    ResultSet
	lastResult *SliceResults

	accepted   int
	storeErr   error
	storeBlock bool
	stored     []Digest
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		addr:     netip.MustParseAddrPort("203.0.113.7:4672"),
		accepted: 3,
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeEngine) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEngine) Start(ctx context.Context, cfg BootstrapConfig) error {
	f.record("start")
	return f.startErr
}

func (f *fakeEngine) Stop(ctx context.Context) error {
	f.record("stop")
	return f.stopErr
}

func (f *fakeEngine) Find(ctx context.Context, index Digest, params FindParams) (ResultSet, error) {
	f.record("find")
	if f.findPanic {
		panic("engine exploded")
	}
	if f.findBlock {
		<-ctx.Done()
		f.record("find-cancelled")
		return nil, ctx.Err()
	}
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.results != nil {
		return f.results, nil
	}
	rs := NewSliceResults(f.hits)
	f.mu.Lock()
	f.lastResult = rs
	f.mu.Unlock()
	return rs, nil
}

func (f *fakeEngine) Store(ctx context.Context, index, value Digest, meta Metadata, params StoreParams) (int, error) {
	f.record("store")
	if f.storeBlock {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	f.mu.Lock()
	f.stored = append(f.stored, index)
	f.mu.Unlock()
	return f.accepted, nil
}

func (f *fakeEngine) PeerCount() int { return int(f.peers.Load()) }

func (f *fakeEngine) ExternalAddress() netip.AddrPort { return f.addr }

var errEngine = errors.New("engine unavailable")

// explodingResults panics on the first Next and records whether it was closed.
type explodingResults struct {
	closed atomic.Bool
}

func (r *explodingResults) Next() (Hit, bool) { panic("result set exploded") }

func (r *explodingResults) Close() error {
	r.closed.Store(true)
	return nil
}

// counterValue returns the value of the counter name with label=value in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// recorder collects notifications. It implements the keyless search fallbacks only.
type recorder struct {
	successes int
	failures  []Failure
	found     []Value
	stopAfter int
}

func (r *recorder) OnSuccess() { r.successes++ }

func (r *recorder) OnFailure(code int, reason string) {
	r.failures = append(r.failures, Failure{Code: code, Reason: reason})
}

func (r *recorder) OnFound(key Key, value Value) bool {
	r.found = append(r.found, value)
	return r.stopAfter > 0 && len(r.found) >= r.stopAfter
}

func (r *recorder) outcomes() int { return r.successes + len(r.failures) }

type stateRecorder struct {
	states []State
	hits   int
}

func (s *stateRecorder) OnStateChanged(state State) { s.states = append(s.states, state) }

func (s *stateRecorder) OnSearchResult(Key, Value) { s.hits++ }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Connect = ConnectPolicy{
		PollInterval:  5 * time.Millisecond,
		Timeout:       150 * time.Millisecond,
		SettleTimeout: 20 * time.Millisecond,
		PeerThreshold: 3,
	}
	return cfg
}

func newTestClient(t *testing.T, e Engine, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	c := New(e, opts...)
	require.NoError(t, c.Init(testConfig()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// pumpUntil drives the client until cond holds or the test times out.
func pumpUntil(t *testing.T, c *Client, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, client %s with %d running tasks", c.InState(), c.runningCount())
		}
		c.Process(10 * time.Millisecond)
	}
}

// connected returns a client that has completed Connect.
func connected(t *testing.T, e *fakeEngine, opts ...Option) *Client {
	t.Helper()
	e.peers.Store(5)
	c := newTestClient(t, e, opts...)
	require.NoError(t, c.Connect(nil))
	pumpUntil(t, c, func() bool { return c.InState() == Connected })
	pumpUntil(t, c, func() bool { return c.runningCount() == 0 })
	return c
}

func idle(c *Client) func() bool {
	return func() bool { return c.runningCount() == 0 && c.ch.len() == 0 }
}
