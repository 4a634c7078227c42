package localdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/dhtc/pkg/dht"
)

func openEngine(t *testing.T, path, contactFile string) *Engine {
	t.Helper()
	e := New(Options{Path: path})
	require.NoError(t, e.Start(context.Background(), dht.BootstrapConfig{ContactFile: contactFile}))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestStartImportsContacts(t *testing.T) {
	dir := t.TempDir()
	contactFile := filepath.Join(dir, "contacts.txt")
	require.NoError(t, os.WriteFile(contactFile, []byte("192.0.2.1:4672\n192.0.2.2:4672\n192.0.2.1:4672\n"), 0644))

	path := filepath.Join(dir, "dht.db")
	e := openEngine(t, path, contactFile)
	assert.Equal(t, 2, e.PeerCount())
	require.NoError(t, e.Stop(context.Background()))
	assert.Zero(t, e.PeerCount())

	// Imported contacts persist and merge with the seeds of the next start
	require.NoError(t, os.WriteFile(contactFile, []byte("192.0.2.3:4672\n"), 0644))
	e = openEngine(t, path, contactFile)
	assert.Equal(t, 3, e.PeerCount())
}

func TestStartRequiresPath(t *testing.T) {
	err := New(Options{}).Start(context.Background(), dht.BootstrapConfig{})
	assert.Error(t, err)
}

func TestStoreFindAndPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dht.db")
	e := New(Options{Path: path})
	require.NoError(t, e.Start(ctx, dht.BootstrapConfig{}))

	index, _ := dht.DigestOf([]byte("song"), true)
	v1, _ := dht.DigestOf([]byte("one"), true)
	v2, _ := dht.DigestOf([]byte("two"), true)

	accepted, err := e.Store(ctx, index, v1, dht.Metadata{"name": "one"}, dht.StoreParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	_, err = e.Store(ctx, index, v2, nil, dht.StoreParams{})
	require.NoError(t, err)
	// Storing again replaces the metadata.
	_, err = e.Store(ctx, index, v1, dht.Metadata{"name": "uno"}, dht.StoreParams{})
	require.NoError(t, err)

	require.NoError(t, e.Stop(ctx))
	require.NoError(t, e.Stop(ctx), "stop is idempotent")
	_, err = e.Find(ctx, index, dht.FindParams{})
	assert.Error(t, err)

	e = openEngine(t, path, "")
	rs, err := e.Find(ctx, index, dht.FindParams{})
	require.NoError(t, err)

	found := map[dht.Digest]dht.Metadata{}
	for {
		hit, ok := rs.Next()
		if !ok {
			break
		}
		found[hit.Value] = hit.Meta
	}
	require.NoError(t, rs.Close())
	require.Len(t, found, 2)
	assert.Equal(t, "uno", found[v1]["name"])

	rs, err = e.Find(ctx, index, dht.FindParams{MaxHits: 1})
	require.NoError(t, err)
	_, ok := rs.Next()
	assert.True(t, ok)
	_, ok = rs.Next()
	assert.False(t, ok)
	require.NoError(t, rs.Close())
}

func TestFindClosedEarly(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, filepath.Join(t.TempDir(), "dht.db"), "")
	index, _ := dht.DigestOf([]byte("k"), true)
	for _, v := range []string{"a", "b", "c"} {
		d, _ := dht.DigestOf([]byte(v), true)
		_, err := e.Store(ctx, index, d, nil, dht.StoreParams{})
		require.NoError(t, err)
	}

	rs, err := e.Find(ctx, index, dht.FindParams{})
	require.NoError(t, err)
	_, ok := rs.Next()
	require.True(t, ok)
	assert.NoError(t, rs.Close())
}
