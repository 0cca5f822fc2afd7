// internal/router/feedback.go
package router

import (
	"context"
	"sync"
	"time"

	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
	"nlq-router/internal/router/similarity"
)

// FeedbackEvent carries what the pipeline learned from one served request.
type FeedbackEvent struct {
	Decision   models.RouteDecision
	Spec       models.Spec
	Normalized models.NormalizedQuery
	Vector     []float32
	Intent     *models.Intent
	Succeeded  bool
}

// FeedbackUpdater applies usage and success updates to the similarity store
// off the response path. Offer never blocks: events queue into a buffered
// channel and drop (with a log line) when the consumer falls behind.
type FeedbackUpdater struct {
	store  similarity.Store
	events chan FeedbackEvent
	logger logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewFeedbackUpdater(store similarity.Store, bufferSize int, log logger.Logger) *FeedbackUpdater {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	u := &FeedbackUpdater{
		store:  store,
		events: make(chan FeedbackEvent, bufferSize),
		logger: log.WithFields(map[string]interface{}{
			"component": "feedback-updater",
		}),
		done: make(chan struct{}),
	}
	go u.run()
	return u
}

// Offer enqueues an event without blocking.
func (u *FeedbackUpdater) Offer(event FeedbackEvent) {
	select {
	case u.events <- event:
	default:
		u.logger.Warn("feedback buffer full, dropping event", map[string]interface{}{
			"source": string(event.Decision.Source),
		})
	}
}

func (u *FeedbackUpdater) run() {
	defer close(u.done)
	for event := range u.events {
		u.apply(event)
	}
}

func (u *FeedbackUpdater) apply(event FeedbackEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch event.Decision.Source {
	case models.SourceSimilarity:
		// A reused record earned its keep: bump usage, nudge score up.
		if id := event.Decision.MatchedRecordID; id != "" {
			if err := u.store.RecordUsage(ctx, id); err != nil {
				u.logger.Warn("usage update failed", map[string]interface{}{
					"record_id": id,
					"error":     err.Error(),
				})
			}
			delta := 0.05
			if !event.Succeeded {
				delta = -0.1
			}
			if err := u.store.AdjustSuccessScore(ctx, id, delta); err != nil {
				u.logger.Warn("success score update failed", map[string]interface{}{
					"record_id": id,
					"error":     err.Error(),
				})
			}
		}
	case models.SourceDirect, models.SourceIntent:
		// A confidently routed, successfully served pair is worth remembering
		// for future similarity reuse.
		if !event.Succeeded || len(event.Vector) == 0 {
			return
		}
		record := models.EmbeddingRecord{
			OriginalQuery:   event.Normalized.Original,
			NormalizedQuery: event.Normalized.Cleaned,
			Embedding:       event.Vector,
			Spec:            event.Spec,
			SuccessScore:    0.5,
			UsageCount:      1,
		}
		if event.Intent != nil {
			record.IntentCategory = event.Intent.Category
		}
		if _, err := u.store.Upsert(ctx, record); err != nil {
			u.logger.Warn("embedding record upsert failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// Close drains outstanding events and stops the updater.
func (u *FeedbackUpdater) Close() {
	u.closeOnce.Do(func() {
		close(u.events)
		<-u.done
	})
}
