// internal/router/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"nlq-router/internal/common/logger"
	"nlq-router/internal/common/metrics"
	"nlq-router/internal/models"
)

// TTLAdjuster is the slice of the cache manager the monitor drives.
type TTLAdjuster interface {
	TTL(layer models.CacheLayer) time.Duration
	AdjustTTL(layer models.CacheLayer, ttl time.Duration) time.Duration
}

// window accumulates one observation interval per cache layer.
type window struct {
	hits   int64
	misses int64
}

// Monitor tracks per-stage latency and per-layer cache hit rates over a
// rolling window, and periodically nudges cache TTLs: hot layers (high hit
// rate) get longer TTLs, cold layers shorter, always inside the configured
// floor/ceiling.
type Monitor struct {
	adjuster TTLAdjuster
	interval time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	windows map[models.CacheLayer]*window
	success int64
	failure int64
}

// Hit-rate thresholds for the adjustment step. Between the two bounds the
// TTL holds steady.
const (
	raiseAbove = 0.8
	lowerBelow = 0.3
	adjustStep = 1.25
)

func New(adjuster TTLAdjuster, interval time.Duration, log logger.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	m := &Monitor{
		adjuster: adjuster,
		interval: interval,
		logger: log.WithFields(map[string]interface{}{
			"component": "performance-monitor",
		}),
		windows: make(map[models.CacheLayer]*window, len(models.AllCacheLayers)),
	}
	for _, layer := range models.AllCacheLayers {
		m.windows[layer] = &window{}
	}
	return m
}

// ObserveStage records a stage duration into the Prometheus histogram.
func (m *Monitor) ObserveStage(stage string, d time.Duration) {
	metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveCache records one cache lookup outcome for the current window.
func (m *Monitor) ObserveCache(layer models.CacheLayer, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windows[layer]
	if w == nil {
		return
	}
	if hit {
		w.hits++
	} else {
		w.misses++
	}
}

// ObserveRequest records request success or failure for the window summary.
func (m *Monitor) ObserveRequest(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.success++
	} else {
		m.failure++
	}
}

// Run drives the adjustment loop until the context is canceled. Call it in
// its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.adjust()
		}
	}
}

// adjust closes the current window, moves TTLs, and resets counters.
func (m *Monitor) adjust() {
	m.mu.Lock()
	snapshot := make(map[models.CacheLayer]window, len(m.windows))
	for layer, w := range m.windows {
		snapshot[layer] = *w
		*w = window{}
	}
	success, failure := m.success, m.failure
	m.success, m.failure = 0, 0
	m.mu.Unlock()

	for _, layer := range models.AllCacheLayers {
		w := snapshot[layer]
		total := w.hits + w.misses
		if total == 0 {
			continue
		}
		rate := float64(w.hits) / float64(total)
		current := m.adjuster.TTL(layer)
		switch {
		case rate > raiseAbove:
			m.adjuster.AdjustTTL(layer, time.Duration(float64(current)*adjustStep))
		case rate < lowerBelow:
			m.adjuster.AdjustTTL(layer, time.Duration(float64(current)/adjustStep))
		}
	}

	if success+failure > 0 {
		m.logger.Info("window summary", map[string]interface{}{
			"requests_ok":     success,
			"requests_failed": failure,
		})
	}
}
