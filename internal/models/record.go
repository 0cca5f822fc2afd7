// internal/models/record.go
package models

import "time"

// EmbeddingRecord is a persisted (query, spec) pair with its vector.
// Owned by the similarity store; callers mutate it only through the store API.
type EmbeddingRecord struct {
	ID              string         `json:"id"`
	OriginalQuery   string         `json:"original_query"`
	NormalizedQuery string         `json:"normalized_query"`
	Embedding       []float32      `json:"embedding"`
	Spec            Spec           `json:"spec"`
	IntentCategory  IntentCategory `json:"intent_category"`
	SuccessScore    float64        `json:"success_score"` // clamped [0,1]
	UsageCount      int            `json:"usage_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SimilarityResult is a nearest-neighbor hit from the similarity store.
type SimilarityResult struct {
	Record     EmbeddingRecord `json:"record"`
	Similarity float64         `json:"similarity"` // cosine, [0,1]
}

// CacheLayer names one of the four independent cache keyspaces.
type CacheLayer string

const (
	CacheEmbedding    CacheLayer = "embedding"
	CacheSimilarity   CacheLayer = "similarity"
	CacheQueryResult  CacheLayer = "query_result"
	CacheSpecTemplate CacheLayer = "spec_template"
)

// AllCacheLayers in a fixed order, for iteration and metrics labels.
var AllCacheLayers = []CacheLayer{
	CacheEmbedding,
	CacheSimilarity,
	CacheQueryResult,
	CacheSpecTemplate,
}

// CacheEntry is the stored unit of the cache manager.
type CacheEntry struct {
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Layer      CacheLayer `json:"layer"`
	TTLSeconds int        `json:"ttl_seconds"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditEvent is an append-only record of a validated or rejected query, or a
// recovery action on the request's behalf.
type AuditEvent struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Action     string    `json:"action"` // "validated", "rejected", "recovered"
	ErrorKind  string    `json:"error_kind,omitempty"`
	Relation   string    `json:"relation,omitempty"`
	Descriptor string    `json:"descriptor,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
