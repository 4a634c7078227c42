package redisnet

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dyluth/dhtc/pkg/dht"
)

// Redis key pattern helpers
//
// Every key is namespaced by network name so several simulated DHTs can share
// one Redis server.
//
// Key pattern: dht:{network}:{entity}[:{id}]

// PeersKey returns the ZSET of live nodes, scored by last heartbeat (unix ms).
// Pattern: dht:{network}:peers
func PeersKey(network string) string {
	return fmt.Sprintf("dht:%s:peers", network)
}

// IndexKey returns the HASH holding every value stored under index.
// Fields are value digests in hex, values are metadata JSON.
// Pattern: dht:{network}:index:{digest_hex}
func IndexKey(network string, index dht.Digest) string {
	return fmt.Sprintf("dht:%s:index:%s", network, hex.EncodeToString(index[:]))
}

// HeartbeatScore converts a heartbeat time into a ZSET score.
func HeartbeatScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// scoreRange returns the ZRANGEBYSCORE bound for heartbeats newer than since.
func scoreRange(since time.Time) (string, string) {
	return fmt.Sprintf("%d", since.UnixMilli()), "+inf"
}
