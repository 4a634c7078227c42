// Package localdb implements an offline, single-node DHT engine persisted in SQLite.
// Peers are the contacts imported from the bootstrap file; stored values survive restarts.
package localdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/dhtc/internal/engine/contacts"
	"github.com/dyluth/dhtc/pkg/dht"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	address  TEXT PRIMARY KEY,
	added_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	index_hex TEXT NOT NULL,
	value_hex TEXT NOT NULL,
	metadata  TEXT NOT NULL,
	stored_at TEXT NOT NULL,
	PRIMARY KEY (index_hex, value_hex)
);`

// Options configure an Engine.
type Options struct {
	// Path of the database file. It is created when missing.
	Path string
	// Address reported by ExternalAddress.
	Address netip.AddrPort
}

// Engine is a dht.Engine over a local SQLite database.
type Engine struct {
	opts Options

	mu sync.RWMutex
	db *sql.DB

	peers atomic.Int64
}

// New creates an engine. The database is opened by Start.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Start opens the database and imports the bootstrap contacts.
func (e *Engine) Start(ctx context.Context, boot dht.BootstrapConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return nil
	}
	if e.opts.Path == "" {
		return fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", e.opts.Path)
	if err != nil {
		return fmt.Errorf("open sqlite %q: %w", e.opts.Path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	seeds, err := contacts.Read(boot.ContactFile)
	if err != nil {
		db.Close()
		return err
	}
	for _, s := range seeds {
		if err := insertContact(ctx, db, s); err != nil {
			db.Close()
			return err
		}
	}

	e.db = db
	if err := e.refreshPeers(ctx); err != nil {
		e.db = nil
		db.Close()
		return err
	}
	log.Printf("[LocalDB] Opened %s with %d contacts", e.opts.Path, e.peers.Load())
	return nil
}

// Stop closes the database. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	e.peers.Store(0)
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func insertContact(ctx context.Context, db *sql.DB, address string) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO contacts (address, added_at) VALUES (?, ?)",
		address, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert contact %q: %w", address, err)
	}
	return nil
}

// refreshPeers must be called with e.mu held.
func (e *Engine) refreshPeers(ctx context.Context) error {
	var n int
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contacts").Scan(&n); err != nil {
		return fmt.Errorf("count contacts: %w", err)
	}
	e.peers.Store(int64(n))
	return nil
}

func (e *Engine) PeerCount() int { return int(e.peers.Load()) }

func (e *Engine) ExternalAddress() netip.AddrPort { return e.opts.Address }

var errNotStarted = errors.New("sqlite engine not started")

// Store upserts the value under index. The local node is the only one accepting it.
func (e *Engine) Store(ctx context.Context, index, value dht.Digest, meta dht.Metadata, _ dht.StoreParams) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return 0, errNotStarted
	}
	if meta == nil {
		meta = dht.Metadata{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO entries (index_hex, value_hex, metadata, stored_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(index_hex, value_hex) DO UPDATE SET metadata = excluded.metadata, stored_at = excluded.stored_at`,
		hex.EncodeToString(index[:]), hex.EncodeToString(value[:]), string(metaJSON),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("store entry: %w", err)
	}
	return 1, nil
}

// Find streams the values stored under index straight from the query cursor.
func (e *Engine) Find(ctx context.Context, index dht.Digest, params dht.FindParams) (dht.ResultSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, errNotStarted
	}
	limit := params.MaxHits
	if limit <= 0 {
		limit = -1
	}
	rows, err := e.db.QueryContext(ctx,
		"SELECT value_hex, metadata FROM entries WHERE index_hex = ? ORDER BY value_hex LIMIT ?",
		hex.EncodeToString(index[:]), limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return &rowResults{rows: rows}, nil
}

// rowResults is a dht.ResultSet over an open *sql.Rows.
type rowResults struct {
	rows *sql.Rows
	err  error
}

func (r *rowResults) Next() (dht.Hit, bool) {
	for r.err == nil && r.rows.Next() {
		var valueHex, metaJSON string
		if err := r.rows.Scan(&valueHex, &metaJSON); err != nil {
			r.err = fmt.Errorf("scan entry: %w", err)
			return dht.Hit{}, false
		}
		hit, err := decodeHit(valueHex, metaJSON)
		if err != nil {
			log.Printf("[LocalDB] Skipping malformed entry %s: %v", valueHex, err)
			continue
		}
		return hit, true
	}
	return dht.Hit{}, false
}

func (r *rowResults) Close() error {
	return errors.Join(r.err, r.rows.Err(), r.rows.Close())
}

func decodeHit(valueHex, metaJSON string) (dht.Hit, error) {
	var hit dht.Hit
	b, err := hex.DecodeString(valueHex)
	if err != nil || len(b) != dht.DigestSize {
		return hit, fmt.Errorf("invalid value digest")
	}
	copy(hit.Value[:], b)
	if err := json.Unmarshal([]byte(metaJSON), &hit.Meta); err != nil {
		return hit, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return hit, nil
}
