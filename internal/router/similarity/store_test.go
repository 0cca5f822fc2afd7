// internal/router/similarity/store_test.go
package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

// fakeES records requests and plays back canned responses per path suffix. The
// product header keeps the v8 client's compatibility check happy.
type fakeES struct {
	t        *testing.T
	searches []map[string]interface{}
	indexed  []string // document ids from index requests
	updated  []string // document ids from update requests

	searchResponse string
	searchStatus   int
	updateStatus   int
}

func (f *fakeES) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		body, _ := io.ReadAll(r.Body)

		switch {
		case strings.HasSuffix(r.URL.Path, "/_search"):
			var q map[string]interface{}
			require.NoError(f.t, json.Unmarshal(body, &q))
			f.searches = append(f.searches, q)
			status := f.searchStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			fmt.Fprint(w, f.searchResponse)
		case strings.Contains(r.URL.Path, "/_update/"):
			parts := strings.Split(r.URL.Path, "/")
			f.updated = append(f.updated, parts[len(parts)-1])
			status := f.updateStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			fmt.Fprint(w, `{"result":"updated"}`)
		case strings.Contains(r.URL.Path, "/_doc/"):
			parts := strings.Split(r.URL.Path, "/")
			f.indexed = append(f.indexed, parts[len(parts)-1])
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"result":"created"}`)
		default:
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{}`)
		}
	})
}

func testStore(t *testing.T, fake *fakeES) *ESStore {
	fake.t = t
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewESStore(client, "nlq_embedding_records", logger.NewTestLogger(t))
}

func searchHit(id string, score float64) string {
	return fmt.Sprintf(`{
		"hits": {"hits": [{
			"_id": %q,
			"_score": %v,
			"_source": {
				"original_query": "top brands last month",
				"normalized_query": "top brands last_month",
				"embedding": [0.1, 0.2],
				"spec": {"schema_version": 1, "dimension": "brand", "measure": "sales", "aggregation": "sum", "row_limit": 10},
				"intent_category": "brand_comparison",
				"success_score": 0.8,
				"usage_count": 4
			}
		}]}
	}`, id, score)
}

func TestFindSimilar_ParsesHitsAndOffsetsScore(t *testing.T) {
	fake := &fakeES{searchResponse: searchHit("rec-1", 1.92)}
	store := testStore(t, fake)

	results, err := store.FindSimilar(context.Background(), []float32{0.1, 0.2}, 0.8, 5)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "rec-1", results[0].Record.ID)
	assert.InDelta(t, 0.92, results[0].Similarity, 1e-9)
	assert.Equal(t, models.IntentBrandComparison, results[0].Record.IntentCategory)
	assert.Equal(t, "brand", results[0].Record.Spec.Dimension)
	assert.Equal(t, 4, results[0].Record.UsageCount)

	require.Len(t, fake.searches, 1)
	q := fake.searches[0]
	assert.InDelta(t, 1.8, q["min_score"].(float64), 1e-9) // threshold + cosine offset
	assert.EqualValues(t, 5, q["size"])
}

func TestFindSimilar_NoMatchesIsEmptyNotError(t *testing.T) {
	fake := &fakeES{searchResponse: `{"hits":{"hits":[]}}`}
	store := testStore(t, fake)

	results, err := store.FindSimilar(context.Background(), []float32{0.1}, 0.8, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindSimilar_ServerErrorIsTyped(t *testing.T) {
	fake := &fakeES{searchStatus: http.StatusServiceUnavailable, searchResponse: `{"error":"overloaded"}`}
	store := testStore(t, fake)

	_, err := store.FindSimilar(context.Background(), []float32{0.1}, 0.8, 5)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, stderrors.ErrCodeSimilarityStoreUnavailable))
}

func TestUpsert_InsertsWhenNoNearDuplicate(t *testing.T) {
	fake := &fakeES{searchResponse: `{"hits":{"hits":[]}}`}
	store := testStore(t, fake)

	id, err := store.Upsert(context.Background(), models.EmbeddingRecord{
		OriginalQuery:   "compare alaska vs bear brand",
		NormalizedQuery: "compare alaska vs bear brand",
		Embedding:       []float32{0.3, 0.4},
		IntentCategory:  models.IntentBrandComparison,
		SuccessScore:    0.5,
		UsageCount:      1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, fake.indexed, 1)
	assert.Equal(t, id, fake.indexed[0])
	assert.Empty(t, fake.updated)

	// The duplicate probe searches above the merge threshold.
	require.Len(t, fake.searches, 1)
	assert.InDelta(t, 0.97+1.0, fake.searches[0]["min_score"].(float64), 1e-9)
}

func TestUpsert_MergesNearDuplicate(t *testing.T) {
	fake := &fakeES{searchResponse: searchHit("existing-1", 1.98)}
	store := testStore(t, fake)

	id, err := store.Upsert(context.Background(), models.EmbeddingRecord{
		OriginalQuery: "compare alaska vs bear brand milk",
		Embedding:     []float32{0.3, 0.4},
		SuccessScore:  0.6,
		UsageCount:    1,
	})
	require.NoError(t, err)

	assert.Equal(t, "existing-1", id)
	assert.Empty(t, fake.indexed)
	assert.Equal(t, []string{"existing-1"}, fake.updated)
}

func TestRecordUsageAndAdjustScore_TargetDocument(t *testing.T) {
	fake := &fakeES{}
	store := testStore(t, fake)

	require.NoError(t, store.RecordUsage(context.Background(), "rec-7"))
	require.NoError(t, store.AdjustSuccessScore(context.Background(), "rec-7", -0.1))
	assert.Equal(t, []string{"rec-7", "rec-7"}, fake.updated)
}

func TestUpdate_ErrorStatusIsTyped(t *testing.T) {
	fake := &fakeES{updateStatus: http.StatusNotFound}
	store := testStore(t, fake)

	err := store.RecordUsage(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, stderrors.ErrCodeSimilarityStoreUnavailable))
}
