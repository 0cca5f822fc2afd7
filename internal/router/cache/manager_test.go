// internal/router/cache/manager_test.go
package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlq-router/internal/common/config"
	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

func testManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.CacheConfig{
		Embedding:    config.CacheLayerConfig{TTLSeconds: 3600, FloorSeconds: 600, CeilingSeconds: 86400},
		Similarity:   config.CacheLayerConfig{TTLSeconds: 1800, FloorSeconds: 300, CeilingSeconds: 7200},
		QueryResult:  config.CacheLayerConfig{TTLSeconds: 900, FloorSeconds: 60, CeilingSeconds: 3600},
		SpecTemplate: config.CacheLayerConfig{TTLSeconds: 7200, FloorSeconds: 600, CeilingSeconds: 86400},
	}
	return NewManager(client, cfg, logger.NewTestLogger(t)), mr
}

func TestManager_SetGetRoundTrip(t *testing.T) {
	m, mr := testManager(t)
	ctx := context.Background()

	key := TextKey(models.CacheQueryResult, "top brands last_30_days")
	require.NoError(t, m.Set(ctx, models.CacheQueryResult, key, `{"rows":3}`))

	val, hit, err := m.Get(ctx, models.CacheQueryResult, key)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, `{"rows":3}`, val)

	ttl := mr.TTL(key)
	assert.Equal(t, 900*time.Second, ttl)
}

func TestManager_GetMissIsNotAnError(t *testing.T) {
	m, _ := testManager(t)

	val, hit, err := m.Get(context.Background(), models.CacheEmbedding,
		TextKey(models.CacheEmbedding, "never stored"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, val)
}

func TestManager_GetReportsBackendFailure(t *testing.T) {
	m, mr := testManager(t)
	mr.Close()

	_, hit, err := m.Get(context.Background(), models.CacheEmbedding, "nlq:emb:any")
	require.Error(t, err)
	assert.False(t, hit)
	assert.True(t, stderrors.Is(err, stderrors.ErrCodeCacheUnavailable))
}

func TestManager_KeyspacesAreDisjoint(t *testing.T) {
	text := "same text, four layers"
	keys := map[string]bool{}
	for _, layer := range []models.CacheLayer{
		models.CacheEmbedding, models.CacheSimilarity,
		models.CacheQueryResult, models.CacheSpecTemplate,
	} {
		key := TextKey(layer, text)
		assert.False(t, keys[key])
		keys[key] = true
	}
	assert.True(t, strings.HasPrefix(TextKey(models.CacheEmbedding, text), "nlq:emb:"))
	assert.True(t, strings.HasPrefix(TextKey(models.CacheSimilarity, text), "nlq:sim:"))
	assert.True(t, strings.HasPrefix(TextKey(models.CacheQueryResult, text), "nlq:result:"))
	assert.True(t, strings.HasPrefix(TextKey(models.CacheSpecTemplate, text), "nlq:tpl:"))
}

func TestVectorKey_Deterministic(t *testing.T) {
	vec := make([]float32, 384)
	for i := range vec {
		vec[i] = float32(i) * 0.01
	}

	a := VectorKey(models.CacheSimilarity, vec)
	b := VectorKey(models.CacheSimilarity, vec)
	assert.Equal(t, a, b)

	changed := make([]float32, len(vec))
	copy(changed, vec)
	changed[0] = -1
	assert.NotEqual(t, a, VectorKey(models.CacheSimilarity, changed))

	// Length participates in the key, so a prefix never collides with the
	// full vector.
	assert.NotEqual(t, a, VectorKey(models.CacheSimilarity, vec[:384-8]))
}

func TestManager_InvalidatePattern(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	keys := []string{
		TextKey(models.CacheQueryResult, "q1"),
		TextKey(models.CacheQueryResult, "q2"),
		TextKey(models.CacheQueryResult, "q3"),
	}
	for _, k := range keys {
		require.NoError(t, m.Set(ctx, models.CacheQueryResult, k, "cached"))
	}
	embKey := TextKey(models.CacheEmbedding, "q1")
	require.NoError(t, m.Set(ctx, models.CacheEmbedding, embKey, "vector"))

	deleted, err := m.InvalidatePattern(ctx, models.CacheQueryResult, "*")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	for _, k := range keys {
		_, hit, err := m.Get(ctx, models.CacheQueryResult, k)
		require.NoError(t, err)
		assert.False(t, hit)
	}

	// The embedding layer is untouched.
	_, hit, err := m.Get(ctx, models.CacheEmbedding, embKey)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestManager_AdjustTTLClamps(t *testing.T) {
	m, _ := testManager(t)

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"within bounds", 1200 * time.Second, 1200 * time.Second},
		{"below floor", time.Second, 60 * time.Second},
		{"above ceiling", 48 * time.Hour, 3600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.AdjustTTL(models.CacheQueryResult, tt.requested)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, m.TTL(models.CacheQueryResult))
		})
	}
}

func TestManager_SetUsesAdjustedTTL(t *testing.T) {
	m, mr := testManager(t)
	ctx := context.Background()

	m.AdjustTTL(models.CacheQueryResult, 120*time.Second)

	key := TextKey(models.CacheQueryResult, "after adjustment")
	require.NoError(t, m.Set(ctx, models.CacheQueryResult, key, "v"))
	assert.Equal(t, 120*time.Second, mr.TTL(key))
}

func TestManager_Ping(t *testing.T) {
	m, mr := testManager(t)
	require.NoError(t, m.Ping(context.Background()))

	mr.Close()
	assert.Error(t, m.Ping(context.Background()))
}
