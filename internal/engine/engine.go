// Package engine selects and builds the DHT engine implementation.
package engine

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/dyluth/dhtc/internal/engine/localdb"
	"github.com/dyluth/dhtc/internal/engine/memory"
	"github.com/dyluth/dhtc/internal/engine/redisnet"
	"github.com/dyluth/dhtc/pkg/dht"
)

// Engine kinds.
const (
	KindMemory = "memory"
	KindRedis  = "redis"
	KindSQLite = "sqlite"
)

// Settings describe which engine to build and how.
type Settings struct {
	Kind       string
	RedisURL   string
	Network    string
	Advertise  string
	SQLitePath string
	Heartbeat  time.Duration
	PeerTTL    time.Duration

	// MemoryNetwork is joined by memory engines. A private network is used when nil.
	MemoryNetwork *memory.Network
}

// Open builds the engine described by s.
func Open(s Settings) (dht.Engine, error) {
	var advertise netip.AddrPort
	if s.Advertise != "" {
		addr, err := netip.ParseAddrPort(s.Advertise)
		if err != nil {
			return nil, fmt.Errorf("invalid advertise address %q: %w", s.Advertise, err)
		}
		advertise = addr
	}

	switch s.Kind {
	case KindMemory, "":
		return memory.New(memory.Options{Network: s.MemoryNetwork, Address: advertise}), nil
	case KindRedis:
		var urls []string
		if s.RedisURL != "" {
			urls = append(urls, s.RedisURL)
		}
		return redisnet.New(redisnet.Options{
			URLs:      urls,
			Network:   s.Network,
			Advertise: advertise,
			Heartbeat: s.Heartbeat,
			PeerTTL:   s.PeerTTL,
		}), nil
	case KindSQLite:
		if s.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite engine requires a database path")
		}
		return localdb.New(localdb.Options{Path: s.SQLitePath, Address: advertise}), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q (expected %s, %s or %s)", s.Kind, KindMemory, KindRedis, KindSQLite)
	}
}
