package dht

import (
	"context"
	"net/netip"
	"time"
)

// Engine is the network component that implements peer discovery, lookup and storage.
// The client only ever calls it from task goroutines, one blocking primitive per task,
// so implementations must be safe for concurrent use.
type Engine interface {
	// Start joins the network using the bootstrap configuration.
	Start(ctx context.Context, cfg BootstrapConfig) error
	// Stop leaves the network. Stopping a never-started engine is a no-op.
	Stop(ctx context.Context) error
	// Find looks up every value stored under index. The returned ResultSet is owned
	// by the caller and must be closed.
	Find(ctx context.Context, index Digest, params FindParams) (ResultSet, error)
	// Store publishes value under index and returns how many peers accepted it.
	Store(ctx context.Context, index, value Digest, meta Metadata, params StoreParams) (int, error)
	// PeerCount returns the number of peers currently known.
	PeerCount() int
	// ExternalAddress returns the address other peers see, or the zero AddrPort if unknown.
	ExternalAddress() netip.AddrPort
}

// BootstrapConfig is handed to Engine.Start.
type BootstrapConfig struct {
	// ContactFile lists peers to contact first. Its format belongs to the engine.
	ContactFile string
}

// Hit is one search result as produced by the engine.
type Hit struct {
	Value Digest
	Meta  Metadata
}

// ResultSet is an engine-owned set of search results.
type ResultSet interface {
	Next() (Hit, bool)
	Close() error
}

// FindParams tune a single engine lookup. Zero values select engine defaults.
type FindParams struct {
	Threads  int
	MaxHits  int
	Duration time.Duration
}

// StoreParams tune a single engine publish. Zero values select engine defaults.
type StoreParams struct {
	Threads  int
	Duration time.Duration
}

// SliceResults is a ResultSet over an in-memory slice.
type SliceResults struct {
	hits   []Hit
	pos    int
	closed bool
}

// NewSliceResults wraps hits in a ResultSet.
func NewSliceResults(hits []Hit) *SliceResults {
	return &SliceResults{hits: hits}
}

func (s *SliceResults) Next() (Hit, bool) {
	if s.closed || s.pos >= len(s.hits) {
		return Hit{}, false
	}
	h := s.hits[s.pos]
	s.pos++
	return h, true
}

func (s *SliceResults) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceResults) Closed() bool { return s.closed }
