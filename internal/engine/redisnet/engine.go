// Package redisnet implements a DHT engine on top of a shared Redis server.
// Every node registers itself in a peer set refreshed by heartbeats; stored
// values live in one hash per index digest.
package redisnet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dyluth/dhtc/internal/engine/contacts"
	"github.com/dyluth/dhtc/pkg/dht"
)

const (
	DefaultHeartbeat = 5 * time.Second
	DefaultNetwork   = "default"
)

// ErrNoSeeds is returned by Start when no Redis server could be reached.
var ErrNoSeeds = errors.New("no reachable seed")

// Options configure an Engine.
type Options struct {
	// URLs are seed Redis URLs tried in order. Lines of the bootstrap contact
	// file starting with redis:// or rediss:// are appended.
	URLs []string
	// Network namespaces all keys.
	Network string
	// Advertise is the address reported by ExternalAddress.
	Advertise netip.AddrPort
	// Heartbeat is how often this node refreshes its peer registration.
	Heartbeat time.Duration
	// PeerTTL is how long a node counts as live after its last heartbeat.
	PeerTTL time.Duration
	// NodeID identifies this node in the peer set. A UUID is generated when empty.
	NodeID string
}

// Engine is a dht.Engine backed by Redis. It is safe for concurrent use.
type Engine struct {
	opts Options

	mu     sync.Mutex
	rdb    *redis.Client
	cancel context.CancelFunc
	done   chan struct{}

	peers atomic.Int64
}

// New creates an engine. Nothing is contacted before Start.
func New(opts Options) *Engine {
	if opts.Network == "" {
		opts.Network = DefaultNetwork
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.PeerTTL <= 0 {
		opts.PeerTTL = 3 * opts.Heartbeat
	}
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	return &Engine{opts: opts}
}

// NodeID returns this node's member name in the peer set.
func (e *Engine) NodeID() string { return e.opts.NodeID }

// Start connects to the first reachable seed, registers this node and starts heartbeats.
func (e *Engine) Start(ctx context.Context, boot dht.BootstrapConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rdb != nil {
		return nil
	}

	urls := append([]string(nil), e.opts.URLs...)
	seeds, err := contacts.Read(boot.ContactFile)
	if err != nil {
		return err
	}
	for _, s := range seeds {
		if strings.HasPrefix(s, "redis://") || strings.HasPrefix(s, "rediss://") {
			urls = append(urls, s)
		}
	}

	rdb, err := dial(ctx, urls)
	if err != nil {
		return err
	}
	if err := e.heartbeat(ctx, rdb); err != nil {
		rdb.Close()
		return err
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	e.rdb = rdb
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.heartbeatLoop(hbCtx, rdb, e.done)

	log.Printf("[RedisEngine] Node %s joined network %s", e.opts.NodeID, e.opts.Network)
	return nil
}

func dial(ctx context.Context, urls []string) (*redis.Client, error) {
	var errs []error
	for _, u := range urls {
		opts, err := redis.ParseURL(u)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid redis URL %q: %w", u, err))
			continue
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			errs = append(errs, fmt.Errorf("failed to ping %s: %w", opts.Addr, err))
			continue
		}
		return rdb, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no redis URL configured", ErrNoSeeds)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSeeds, errors.Join(errs...))
}

// Stop deregisters this node and closes the connection. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	rdb, cancel, done := e.rdb, e.cancel, e.done
	e.rdb, e.cancel, e.done = nil, nil, nil
	e.mu.Unlock()
	if rdb == nil {
		return nil
	}

	cancel()
	<-done
	e.peers.Store(0)

	remErr := rdb.ZRem(ctx, PeersKey(e.opts.Network), e.opts.NodeID).Err()
	closeErr := rdb.Close()
	if remErr != nil {
		return fmt.Errorf("failed to deregister node: %w", remErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close redis client: %w", closeErr)
	}
	log.Printf("[RedisEngine] Node %s left network %s", e.opts.NodeID, e.opts.Network)
	return nil
}

func (e *Engine) heartbeatLoop(ctx context.Context, rdb *redis.Client, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.heartbeat(ctx, rdb); err != nil && ctx.Err() == nil {
				log.Printf("[RedisEngine] Heartbeat failed: %v", err)
			}
		}
	}
}

// heartbeat refreshes this node's score, prunes expired nodes and caches the peer count.
func (e *Engine) heartbeat(ctx context.Context, rdb *redis.Client) error {
	key := PeersKey(e.opts.Network)
	now := time.Now()

	z := redis.Z{Score: HeartbeatScore(now), Member: e.opts.NodeID}
	if err := rdb.ZAdd(ctx, key, z).Err(); err != nil {
		return fmt.Errorf("failed to register heartbeat: %w", err)
	}
	expired := fmt.Sprintf("(%d", now.Add(-e.opts.PeerTTL).UnixMilli())
	if err := rdb.ZRemRangeByScore(ctx, key, "-inf", expired).Err(); err != nil {
		return fmt.Errorf("failed to prune expired peers: %w", err)
	}

	live, err := e.livePeers(ctx, rdb, now)
	if err != nil {
		return err
	}
	e.peers.Store(int64(live))
	return nil
}

// livePeers counts live nodes other than this one.
func (e *Engine) livePeers(ctx context.Context, rdb *redis.Client, now time.Time) (int, error) {
	lo, hi := scoreRange(now.Add(-e.opts.PeerTTL))
	members, err := rdb.ZRangeByScore(ctx, PeersKey(e.opts.Network), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count peers: %w", err)
	}
	count := 0
	for _, m := range members {
		if m != e.opts.NodeID {
			count++
		}
	}
	return count, nil
}

// PeerCount returns the peer count observed at the last heartbeat.
func (e *Engine) PeerCount() int { return int(e.peers.Load()) }

func (e *Engine) ExternalAddress() netip.AddrPort { return e.opts.Advertise }

func (e *Engine) client() (*redis.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rdb == nil {
		return nil, fmt.Errorf("redis engine not started")
	}
	return e.rdb, nil
}

// Find reads every value stored under index, in digest order, capped at params.MaxHits.
func (e *Engine) Find(ctx context.Context, index dht.Digest, params dht.FindParams) (dht.ResultSet, error) {
	rdb, err := e.client()
	if err != nil {
		return nil, err
	}
	fields, err := rdb.HGetAll(ctx, IndexKey(e.opts.Network, index)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index from Redis: %w", err)
	}

	hits := make([]dht.Hit, 0, len(fields))
	for field, raw := range fields {
		hit, err := decodeHit(field, raw)
		if err != nil {
			log.Printf("[RedisEngine] Skipping malformed entry %s under %s: %v", field, index, err)
			continue
		}
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool {
		return bytes.Compare(hits[i].Value[:], hits[j].Value[:]) < 0
	})
	if params.MaxHits > 0 && len(hits) > params.MaxHits {
		hits = hits[:params.MaxHits]
	}
	return dht.NewSliceResults(hits), nil
}

// Store writes value under index and returns the number of live nodes, this one included.
func (e *Engine) Store(ctx context.Context, index, value dht.Digest, meta dht.Metadata, _ dht.StoreParams) (int, error) {
	rdb, err := e.client()
	if err != nil {
		return 0, err
	}
	if meta == nil {
		meta = dht.Metadata{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := rdb.HSet(ctx, IndexKey(e.opts.Network, index), hex.EncodeToString(value[:]), metaJSON).Err(); err != nil {
		return 0, fmt.Errorf("failed to write value to Redis: %w", err)
	}

	live, err := e.livePeers(ctx, rdb, time.Now())
	if err != nil {
		return 0, err
	}
	return live + 1, nil
}

func decodeHit(field, raw string) (dht.Hit, error) {
	var hit dht.Hit
	b, err := hex.DecodeString(field)
	if err != nil || len(b) != dht.DigestSize {
		return hit, fmt.Errorf("invalid value digest")
	}
	copy(hit.Value[:], b)
	if err := json.Unmarshal([]byte(raw), &hit.Meta); err != nil {
		return hit, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return hit, nil
}
