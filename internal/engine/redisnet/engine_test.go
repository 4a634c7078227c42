package redisnet

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/dhtc/pkg/dht"
)

// setupRedis starts a miniredis instance and returns its URL.
func setupRedis(t *testing.T) (string, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	return "redis://" + mr.Addr(), mr
}

func newEngine(t *testing.T, url, node string) *Engine {
	e := New(Options{
		URLs:      []string{url},
		Network:   "test-net",
		Heartbeat: 20 * time.Millisecond,
		NodeID:    node,
		Advertise: netip.MustParseAddrPort("198.51.100.1:4672"),
	})
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestKeyPatterns(t *testing.T) {
	assert.Equal(t, "dht:net:peers", PeersKey("net"))
	assert.Equal(t, "dht:net:index:0a000000000000000000000000000000", IndexKey("net", dht.Digest{0x0a}))
}

func TestNewAppliesDefaults(t *testing.T) {
	e := New(Options{})
	assert.Equal(t, DefaultNetwork, e.opts.Network)
	assert.Equal(t, DefaultHeartbeat, e.opts.Heartbeat)
	assert.Equal(t, 3*DefaultHeartbeat, e.opts.PeerTTL)
	assert.NotEmpty(t, e.NodeID())
}

func TestStartRegistersPeers(t *testing.T) {
	url, mr := setupRedis(t)
	ctx := context.Background()
	a := newEngine(t, url, "node-a")
	b := newEngine(t, url, "node-b")

	require.NoError(t, a.Start(ctx, dht.BootstrapConfig{}))
	assert.Zero(t, a.PeerCount())
	assert.Equal(t, netip.MustParseAddrPort("198.51.100.1:4672"), a.ExternalAddress())

	require.NoError(t, b.Start(ctx, dht.BootstrapConfig{}))
	assert.Equal(t, 1, b.PeerCount())
	assert.Eventually(t, func() bool { return a.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	members, err := mr.ZMembers(PeersKey("test-net"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, members)

	require.NoError(t, b.Stop(ctx))
	members, err = mr.ZMembers(PeersKey("test-net"))
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a"}, members)
	assert.Zero(t, b.PeerCount())
	require.NoError(t, b.Stop(ctx), "stop is idempotent")
}

func TestStartFromContactFile(t *testing.T) {
	url, _ := setupRedis(t)
	path := filepath.Join(t.TempDir(), "contacts.txt")
	require.NoError(t, os.WriteFile(path, []byte("# seeds\n192.0.2.1:4672\n"+url+"\n"), 0644))

	e := New(Options{Network: "test-net"})
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	require.NoError(t, e.Start(context.Background(), dht.BootstrapConfig{ContactFile: path}))
}

func TestStartWithoutSeeds(t *testing.T) {
	e := New(Options{URLs: []string{"not a url"}})
	err := e.Start(context.Background(), dht.BootstrapConfig{})
	assert.ErrorIs(t, err, ErrNoSeeds)

	err = New(Options{}).Start(context.Background(), dht.BootstrapConfig{})
	assert.ErrorIs(t, err, ErrNoSeeds)
}

func TestStoreAndFind(t *testing.T) {
	url, mr := setupRedis(t)
	ctx := context.Background()
	a := newEngine(t, url, "node-a")
	b := newEngine(t, url, "node-b")
	require.NoError(t, a.Start(ctx, dht.BootstrapConfig{}))
	require.NoError(t, b.Start(ctx, dht.BootstrapConfig{}))

	index, _ := dht.DigestOf([]byte("song"), true)
	v1, _ := dht.DigestOf([]byte("one"), true)
	v2, _ := dht.DigestOf([]byte("two"), true)

	accepted, err := a.Store(ctx, index, v1, dht.Metadata{"name": "one"}, dht.StoreParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
	_, err = a.Store(ctx, index, v2, nil, dht.StoreParams{})
	require.NoError(t, err)

	// A malformed field is skipped.
	mr.HSet(IndexKey("test-net", index), "zz", "{}")

	rs, err := b.Find(ctx, index, dht.FindParams{})
	require.NoError(t, err)
	defer rs.Close()

	found := map[dht.Digest]dht.Metadata{}
	for {
		hit, ok := rs.Next()
		if !ok {
			break
		}
		found[hit.Value] = hit.Meta
	}
	require.Len(t, found, 2)
	assert.Equal(t, "one", found[v1]["name"])
	assert.Empty(t, found[v2])

	rs, err = b.Find(ctx, index, dht.FindParams{MaxHits: 1})
	require.NoError(t, err)
	_, ok := rs.Next()
	assert.True(t, ok)
	_, ok = rs.Next()
	assert.False(t, ok)
}

func TestOperationsRequireStart(t *testing.T) {
	e := New(Options{})
	_, err := e.Find(context.Background(), dht.Digest{}, dht.FindParams{})
	assert.Error(t, err)
	_, err = e.Store(context.Background(), dht.Digest{}, dht.Digest{}, nil, dht.StoreParams{})
	assert.Error(t, err)
	assert.NoError(t, e.Stop(context.Background()))
}

func TestExpiredPeersArePruned(t *testing.T) {
	url, mr := setupRedis(t)
	stale := float64(time.Now().Add(-time.Hour).UnixMilli())
	_, err := mr.ZAdd(PeersKey("test-net"), stale, "ghost")
	require.NoError(t, err)

	e := newEngine(t, url, "node-a")
	require.NoError(t, e.Start(context.Background(), dht.BootstrapConfig{}))
	assert.Zero(t, e.PeerCount())

	members, err := mr.ZMembers(PeersKey("test-net"))
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a"}, members)
}
