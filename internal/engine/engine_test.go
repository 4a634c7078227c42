package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/dhtc/internal/engine/localdb"
	"github.com/dyluth/dhtc/internal/engine/memory"
	"github.com/dyluth/dhtc/internal/engine/redisnet"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		check    func(t *testing.T, e any)
		wantErr  string
	}{
		{
			name:     "memory by default",
			settings: Settings{},
			check: func(t *testing.T, e any) {
				assert.IsType(t, &memory.Engine{}, e)
			},
		},
		{
			name:     "redis",
			settings: Settings{Kind: KindRedis, RedisURL: "redis://localhost:6379", Network: "n"},
			check: func(t *testing.T, e any) {
				assert.IsType(t, &redisnet.Engine{}, e)
			},
		},
		{
			name:     "sqlite",
			settings: Settings{Kind: KindSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")},
			check: func(t *testing.T, e any) {
				assert.IsType(t, &localdb.Engine{}, e)
			},
		},
		{
			name:     "sqlite without path",
			settings: Settings{Kind: KindSQLite},
			wantErr:  "requires a database path",
		},
		{
			name:     "unknown kind",
			settings: Settings{Kind: "kademlia"},
			wantErr:  "unknown engine kind",
		},
		{
			name:     "bad advertise address",
			settings: Settings{Advertise: "nowhere"},
			wantErr:  "invalid advertise address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Open(tt.settings)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, e)
		})
	}
}

func TestOpenAdvertise(t *testing.T) {
	e, err := Open(Settings{Kind: KindMemory, Advertise: "192.0.2.10:4672"})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10:4672", e.ExternalAddress().String())
}
