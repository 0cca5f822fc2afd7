// internal/router/similarity/store.go
package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

// mergeSimilarity is the near-duplicate threshold: an upsert whose top match
// scores above it merges into the existing record instead of inserting.
const mergeSimilarity = 0.97

// Store is the vector index over previously successful (query, spec) pairs.
type Store interface {
	FindSimilar(ctx context.Context, vector []float32, threshold float64, limit int) ([]models.SimilarityResult, error)
	Upsert(ctx context.Context, record models.EmbeddingRecord) (string, error)
	RecordUsage(ctx context.Context, id string) error
	AdjustSuccessScore(ctx context.Context, id string, delta float64) error
}

// ESStore backs the similarity contract with an Elasticsearch dense_vector
// index scored by cosine similarity.
type ESStore struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewESStore(client *elasticsearch.Client, index string, log logger.Logger) *ESStore {
	return &ESStore{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{
			"component": "similarity-store",
		}),
	}
}

type esDoc struct {
	OriginalQuery   string      `json:"original_query"`
	NormalizedQuery string      `json:"normalized_query"`
	Embedding       []float32   `json:"embedding"`
	Spec            models.Spec `json:"spec"`
	IntentCategory  string      `json:"intent_category"`
	SuccessScore    float64     `json:"success_score"`
	UsageCount      int         `json:"usage_count"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// FindSimilar returns nearest neighbors above threshold, ordered by
// descending similarity. Store outages surface as a typed error so callers
// can distinguish "store down" from "no matches".
func (s *ESStore) FindSimilar(ctx context.Context, vector []float32, threshold float64, limit int) ([]models.SimilarityResult, error) {
	if limit <= 0 {
		limit = 5
	}

	// cosineSimilarity ranges [-1,1]; +1.0 keeps the script score positive,
	// so min_score = threshold + 1.
	queryBody := map[string]interface{}{
		"size":      limit,
		"min_score": threshold + 1.0,
		"query": map[string]interface{}{
			"script_score": map[string]interface{}{
				"query": map[string]interface{}{"match_all": map[string]interface{}{}},
				"script": map[string]interface{}{
					"source": "cosineSimilarity(params.query_vector, 'embedding') + 1.0",
					"params": map[string]interface{}{
						"query_vector": vector,
					},
				},
			},
		},
	}

	body, _ := json.Marshal(queryBody)
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, stderrors.NewSimilarityStoreUnavailableError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, stderrors.NewSimilarityStoreUnavailableError(fmt.Errorf("search error: %s", res.Status()))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source esDoc   `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, stderrors.NewSimilarityStoreUnavailableError(err)
	}

	results := make([]models.SimilarityResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, models.SimilarityResult{
			Record: models.EmbeddingRecord{
				ID:              hit.ID,
				OriginalQuery:   hit.Source.OriginalQuery,
				NormalizedQuery: hit.Source.NormalizedQuery,
				Embedding:       hit.Source.Embedding,
				Spec:            hit.Source.Spec,
				IntentCategory:  models.ParseIntentCategory(hit.Source.IntentCategory),
				SuccessScore:    hit.Source.SuccessScore,
				UsageCount:      hit.Source.UsageCount,
				CreatedAt:       hit.Source.CreatedAt,
				UpdatedAt:       hit.Source.UpdatedAt,
			},
			Similarity: hit.Score - 1.0,
		})
	}

	return results, nil
}

// Upsert stores a new embedding record. When the nearest existing record is a
// near-duplicate (similarity > 0.97) the records merge: the existing id is
// kept, usage counts sum, and the higher success score wins.
func (s *ESStore) Upsert(ctx context.Context, record models.EmbeddingRecord) (string, error) {
	existing, err := s.FindSimilar(ctx, record.Embedding, mergeSimilarity, 1)
	if err == nil && len(existing) > 0 {
		return existing[0].Record.ID, s.mergeInto(ctx, existing[0].Record, record)
	}
	// A store probe failure here falls through to a plain insert attempt; the
	// insert will surface the outage if it persists.

	id := record.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	doc := esDoc{
		OriginalQuery:   record.OriginalQuery,
		NormalizedQuery: record.NormalizedQuery,
		Embedding:       record.Embedding,
		Spec:            record.Spec,
		IntentCategory:  string(record.IntentCategory),
		SuccessScore:    clamp01(record.SuccessScore),
		UsageCount:      record.UsageCount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	body, _ := json.Marshal(doc)
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return "", stderrors.NewSimilarityStoreUnavailableError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", stderrors.NewSimilarityStoreUnavailableError(fmt.Errorf("index error: %s", res.Status()))
	}

	s.logger.Debug("embedding record stored", map[string]interface{}{
		"id":     id,
		"intent": string(record.IntentCategory),
	})

	return id, nil
}

func (s *ESStore) mergeInto(ctx context.Context, existing models.EmbeddingRecord, incoming models.EmbeddingRecord) error {
	script := map[string]interface{}{
		"script": map[string]interface{}{
			"source": `ctx._source.usage_count += params.count;
if (params.score > ctx._source.success_score) { ctx._source.success_score = params.score; }
ctx._source.updated_at = params.now;`,
			"params": map[string]interface{}{
				"count": maxInt(incoming.UsageCount, 1),
				"score": clamp01(incoming.SuccessScore),
				"now":   time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	return s.update(ctx, existing.ID, script)
}

// RecordUsage increments usage_count; fire-and-forget from the caller's
// perspective.
func (s *ESStore) RecordUsage(ctx context.Context, id string) error {
	script := map[string]interface{}{
		"script": map[string]interface{}{
			"source": "ctx._source.usage_count += 1; ctx._source.updated_at = params.now;",
			"params": map[string]interface{}{
				"now": time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	return s.update(ctx, id, script)
}

// AdjustSuccessScore nudges success_score by delta, clamped to [0,1].
func (s *ESStore) AdjustSuccessScore(ctx context.Context, id string, delta float64) error {
	script := map[string]interface{}{
		"script": map[string]interface{}{
			"source": `double v = ctx._source.success_score + params.delta;
if (v < 0) { v = 0; } if (v > 1) { v = 1; }
ctx._source.success_score = v;
ctx._source.updated_at = params.now;`,
			"params": map[string]interface{}{
				"delta": delta,
				"now":   time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	return s.update(ctx, id, script)
}

func (s *ESStore) update(ctx context.Context, id string, script map[string]interface{}) error {
	body, _ := json.Marshal(script)
	req := esapi.UpdateRequest{
		Index:      s.index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return stderrors.NewSimilarityStoreUnavailableError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return stderrors.NewSimilarityStoreUnavailableError(fmt.Errorf("update error: %s", res.Status()))
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
