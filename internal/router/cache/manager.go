// internal/router/cache/manager.go
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"nlq-router/internal/common/config"
	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/common/metrics"
	"nlq-router/internal/models"
)

// layerPrefixes keep the four keyspaces disjoint so invalidation of one
// never touches another.
var layerPrefixes = map[models.CacheLayer]string{
	models.CacheEmbedding:    "nlq:emb:",
	models.CacheSimilarity:   "nlq:sim:",
	models.CacheQueryResult:  "nlq:result:",
	models.CacheSpecTemplate: "nlq:tpl:",
}

// Manager is the Redis-backed cache over the four router keyspaces. All
// operations are safe for concurrent use; Redis failures are reported as
// typed errors so callers can degrade to a miss instead of failing the
// request.
type Manager struct {
	client *redis.Client
	logger logger.Logger

	mu   sync.RWMutex
	ttls map[models.CacheLayer]ttlBounds
}

type ttlBounds struct {
	current time.Duration
	floor   time.Duration
	ceiling time.Duration
}

func NewManager(client *redis.Client, cfg config.CacheConfig, log logger.Logger) *Manager {
	toBounds := func(lc config.CacheLayerConfig) ttlBounds {
		return ttlBounds{
			current: time.Duration(lc.TTLSeconds) * time.Second,
			floor:   time.Duration(lc.FloorSeconds) * time.Second,
			ceiling: time.Duration(lc.CeilingSeconds) * time.Second,
		}
	}
	return &Manager{
		client: client,
		logger: log.WithFields(map[string]interface{}{
			"component": "cache-manager",
		}),
		ttls: map[models.CacheLayer]ttlBounds{
			models.CacheEmbedding:    toBounds(cfg.Embedding),
			models.CacheSimilarity:   toBounds(cfg.Similarity),
			models.CacheQueryResult:  toBounds(cfg.QueryResult),
			models.CacheSpecTemplate: toBounds(cfg.SpecTemplate),
		},
	}
}

// TextKey derives a layer key from normalized text via sha256, so key length
// and charset never depend on user input.
func TextKey(layer models.CacheLayer, text string) string {
	sum := sha256.Sum256([]byte(text))
	return layerPrefixes[layer] + hex.EncodeToString(sum[:])
}

// VectorKey derives a layer key from an embedding by hashing a fixed-width
// sub-sample. Eight evenly spaced components are enough to distinguish
// vectors without hashing all 384 floats.
func VectorKey(layer models.CacheLayer, vector []float32) string {
	h := sha256.New()
	var buf [4]byte
	if len(vector) > 0 {
		step := len(vector) / 8
		if step == 0 {
			step = 1
		}
		for i := 0; i < len(vector); i += step {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(vector[i]))
			h.Write(buf[:])
		}
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(len(vector)))
	h.Write(buf[:])
	return layerPrefixes[layer] + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached value, a hit flag, and an error only when Redis
// itself failed. An absent key is (="", false, nil).
func (m *Manager) Get(ctx context.Context, layer models.CacheLayer, key string) (string, bool, error) {
	val, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues(string(layer)).Inc()
		return "", false, nil
	}
	if err != nil {
		metrics.CacheMisses.WithLabelValues(string(layer)).Inc()
		return "", false, stderrors.NewCacheUnavailableError(err)
	}
	metrics.CacheHits.WithLabelValues(string(layer)).Inc()
	return val, true, nil
}

// Set stores a value under the layer's current TTL.
func (m *Manager) Set(ctx context.Context, layer models.CacheLayer, key, value string) error {
	ttl := m.TTL(layer)
	if err := m.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return stderrors.NewCacheUnavailableError(err)
	}
	return nil
}

// InvalidatePattern deletes all keys in a layer matching pattern, walking the
// keyspace with SCAN so large invalidations never block Redis.
func (m *Manager) InvalidatePattern(ctx context.Context, layer models.CacheLayer, pattern string) (int, error) {
	full := layerPrefixes[layer] + pattern
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := m.client.Scan(ctx, cursor, full, 100).Result()
		if err != nil {
			return deleted, stderrors.NewCacheUnavailableError(err)
		}
		if len(keys) > 0 {
			n, err := m.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, stderrors.NewCacheUnavailableError(err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	m.logger.Info("cache invalidation completed", map[string]interface{}{
		"layer":   string(layer),
		"pattern": pattern,
		"deleted": deleted,
	})
	return deleted, nil
}

// TTL returns the layer's current effective TTL.
func (m *Manager) TTL(layer models.CacheLayer) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ttls[layer].current
}

// AdjustTTL moves a layer's TTL, clamped to its configured floor and
// ceiling. The performance monitor calls this from its adjustment loop.
func (m *Manager) AdjustTTL(layer models.CacheLayer, ttl time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.ttls[layer]
	if !ok {
		return 0
	}
	if ttl < b.floor {
		ttl = b.floor
	}
	if b.ceiling > 0 && ttl > b.ceiling {
		ttl = b.ceiling
	}
	if ttl != b.current {
		m.logger.Info("cache ttl adjusted", map[string]interface{}{
			"layer":   string(layer),
			"old_ttl": b.current.String(),
			"new_ttl": ttl.String(),
		})
	}
	b.current = ttl
	m.ttls[layer] = b
	metrics.CacheTTLSeconds.WithLabelValues(string(layer)).Set(ttl.Seconds())
	return ttl
}

// Ping verifies connectivity for health checks.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
