// internal/router/monitor/monitor_test.go
package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

type fakeAdjuster struct {
	mu       sync.Mutex
	ttls     map[models.CacheLayer]time.Duration
	adjusted map[models.CacheLayer][]time.Duration
}

func newFakeAdjuster() *fakeAdjuster {
	f := &fakeAdjuster{
		ttls:     make(map[models.CacheLayer]time.Duration),
		adjusted: make(map[models.CacheLayer][]time.Duration),
	}
	for _, layer := range models.AllCacheLayers {
		f.ttls[layer] = time.Hour
	}
	return f
}

func (f *fakeAdjuster) TTL(layer models.CacheLayer) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[layer]
}

func (f *fakeAdjuster) AdjustTTL(layer models.CacheLayer, ttl time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[layer] = ttl
	f.adjusted[layer] = append(f.adjusted[layer], ttl)
	return ttl
}

func observeN(m *Monitor, layer models.CacheLayer, hits, misses int) {
	for i := 0; i < hits; i++ {
		m.ObserveCache(layer, true)
	}
	for i := 0; i < misses; i++ {
		m.ObserveCache(layer, false)
	}
}

func TestAdjust_RaisesTTLOnHotLayer(t *testing.T) {
	adjuster := newFakeAdjuster()
	m := New(adjuster, time.Minute, logger.NewTestLogger(t))

	observeN(m, models.CacheQueryResult, 9, 1) // 90% hit rate
	m.adjust()

	require.Len(t, adjuster.adjusted[models.CacheQueryResult], 1)
	assert.Equal(t, time.Duration(float64(time.Hour)*1.25), adjuster.adjusted[models.CacheQueryResult][0])
}

func TestAdjust_LowersTTLOnColdLayer(t *testing.T) {
	adjuster := newFakeAdjuster()
	m := New(adjuster, time.Minute, logger.NewTestLogger(t))

	observeN(m, models.CacheEmbedding, 1, 9) // 10% hit rate
	m.adjust()

	require.Len(t, adjuster.adjusted[models.CacheEmbedding], 1)
	assert.Equal(t, time.Duration(float64(time.Hour)/1.25), adjuster.adjusted[models.CacheEmbedding][0])
}

func TestAdjust_HoldsSteadyInsideBand(t *testing.T) {
	adjuster := newFakeAdjuster()
	m := New(adjuster, time.Minute, logger.NewTestLogger(t))

	observeN(m, models.CacheSimilarity, 5, 5) // 50% hit rate
	m.adjust()

	assert.Empty(t, adjuster.adjusted[models.CacheSimilarity])
	assert.Equal(t, time.Hour, adjuster.TTL(models.CacheSimilarity))
}

func TestAdjust_BoundariesAreStrict(t *testing.T) {
	adjuster := newFakeAdjuster()
	m := New(adjuster, time.Minute, logger.NewTestLogger(t))

	observeN(m, models.CacheQueryResult, 8, 2)  // exactly 0.8: hold
	observeN(m, models.CacheSpecTemplate, 3, 7) // exactly 0.3: hold
	m.adjust()

	assert.Empty(t, adjuster.adjusted[models.CacheQueryResult])
	assert.Empty(t, adjuster.adjusted[models.CacheSpecTemplate])
}

func TestAdjust_SkipsIdleLayersAndResetsWindow(t *testing.T) {
	adjuster := newFakeAdjuster()
	m := New(adjuster, time.Minute, logger.NewTestLogger(t))

	observeN(m, models.CacheQueryResult, 10, 0)
	m.adjust()
	require.Len(t, adjuster.adjusted[models.CacheQueryResult], 1)

	// Second interval has no observations; nothing moves.
	m.adjust()
	assert.Len(t, adjuster.adjusted[models.CacheQueryResult], 1)
	assert.Empty(t, adjuster.adjusted[models.CacheEmbedding])
}

func TestObserveRequest_CountersResetPerWindow(t *testing.T) {
	m := New(newFakeAdjuster(), time.Minute, logger.NewTestLogger(t))

	m.ObserveRequest(true)
	m.ObserveRequest(false)
	m.adjust()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Zero(t, m.success)
	assert.Zero(t, m.failure)
}
