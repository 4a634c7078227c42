// Package memory implements an in-process DHT engine. Engines joined to the same
// Network count each other as peers and share one index, which makes it the
// engine of choice for tests and demos.
package memory

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/dhtc/pkg/dht"
)

// ErrNotStarted is returned by Find and Store before Start.
var ErrNotStarted = errors.New("memory engine not started")

// Network is the shared state of a simulated DHT.
type Network struct {
	mu      sync.RWMutex
	members map[*Engine]struct{}
	remote  int
	index   map[dht.Digest]map[dht.Digest]dht.Metadata
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		members: make(map[*Engine]struct{}),
		index:   make(map[dht.Digest]map[dht.Digest]dht.Metadata),
	}
}

// SetRemotePeers sets how many simulated peers outside this process are reachable.
func (n *Network) SetRemotePeers(count int) {
	n.mu.Lock()
	n.remote = count
	n.mu.Unlock()
}

// Entries returns how many values are stored under index.
func (n *Network) Entries(index dht.Digest) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.index[index])
}

func (n *Network) join(e *Engine) {
	n.mu.Lock()
	n.members[e] = struct{}{}
	n.mu.Unlock()
}

func (n *Network) leave(e *Engine) {
	n.mu.Lock()
	delete(n.members, e)
	n.mu.Unlock()
}

// peersOf counts every reachable peer other than e.
func (n *Network) peersOf(e *Engine) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	count := n.remote + len(n.members)
	if _, ok := n.members[e]; ok {
		count--
	}
	return count
}

// Faults are errors injected into engine calls.
type Faults struct {
	Start error
	Stop  error
	Find  error
	Store error
}

// Options configure an Engine.
type Options struct {
	// Network to join. A private network is created when nil.
	Network *Network
	// Address reported by ExternalAddress.
	Address netip.AddrPort
	// PeerRamp makes peers appear one by one, one per interval after Start.
	PeerRamp time.Duration
	// Latency delays every Find and Store.
	Latency time.Duration
}

// Engine is a dht.Engine backed by a Network.
type Engine struct {
	net  *Network
	opts Options

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	faults    Faults
}

// New creates an engine that joins opts.Network on Start.
func New(opts Options) *Engine {
	if opts.Network == nil {
		opts.Network = NewNetwork()
	}
	return &Engine{net: opts.Network, opts: opts}
}

// Inject replaces the current set of injected faults.
func (e *Engine) Inject(f Faults) {
	e.mu.Lock()
	e.faults = f
	e.mu.Unlock()
}

func (e *Engine) fault(pick func(Faults) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pick(e.faults)
}

func (e *Engine) Start(ctx context.Context, _ dht.BootstrapConfig) error {
	if err := e.fault(func(f Faults) error { return f.Start }); err != nil {
		return err
	}
	e.mu.Lock()
	e.started = true
	e.startedAt = time.Now()
	e.mu.Unlock()
	e.net.join(e)
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	if err := e.fault(func(f Faults) error { return f.Stop }); err != nil {
		return err
	}
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	e.net.leave(e)
	return nil
}

// Started reports whether the engine is currently part of its network.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *Engine) PeerCount() int {
	e.mu.Lock()
	started, since := e.started, time.Since(e.startedAt)
	e.mu.Unlock()
	if !started {
		return 0
	}
	peers := e.net.peersOf(e)
	if e.opts.PeerRamp > 0 {
		if visible := int(since / e.opts.PeerRamp); visible < peers {
			return visible
		}
	}
	return peers
}

func (e *Engine) ExternalAddress() netip.AddrPort { return e.opts.Address }

func (e *Engine) Find(ctx context.Context, index dht.Digest, params dht.FindParams) (dht.ResultSet, error) {
	if err := e.ready(ctx, func(f Faults) error { return f.Find }); err != nil {
		return nil, err
	}

	e.net.mu.RLock()
	hits := make([]dht.Hit, 0, len(e.net.index[index]))
	for value, meta := range e.net.index[index] {
		hits = append(hits, dht.Hit{Value: value, Meta: meta.Clone()})
	}
	e.net.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		return bytes.Compare(hits[i].Value[:], hits[j].Value[:]) < 0
	})
	if params.MaxHits > 0 && len(hits) > params.MaxHits {
		hits = hits[:params.MaxHits]
	}
	return dht.NewSliceResults(hits), nil
}

// Store records the value and reports every peer plus this node as accepting it.
func (e *Engine) Store(ctx context.Context, index, value dht.Digest, meta dht.Metadata, _ dht.StoreParams) (int, error) {
	if err := e.ready(ctx, func(f Faults) error { return f.Store }); err != nil {
		return 0, err
	}

	e.net.mu.Lock()
	values, ok := e.net.index[index]
	if !ok {
		values = make(map[dht.Digest]dht.Metadata)
		e.net.index[index] = values
	}
	values[value] = meta.Clone()
	e.net.mu.Unlock()

	return e.net.peersOf(e) + 1, nil
}

// ready applies latency, injected faults and the started check shared by Find and Store.
func (e *Engine) ready(ctx context.Context, pick func(Faults) error) error {
	if e.opts.Latency > 0 {
		timer := time.NewTimer(e.opts.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := e.fault(pick); err != nil {
		return err
	}
	if !e.Started() {
		return ErrNotStarted
	}
	return ctx.Err()
}
