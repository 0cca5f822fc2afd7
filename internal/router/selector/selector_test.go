// internal/router/selector/selector_test.go
package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

func testThresholds() Thresholds {
	return Thresholds{
		Direct:          0.9,
		SimilarityReuse: 0.85,
		Intent:          0.7,
		KeywordFraction: 0.3,
	}
}

func testSelector(t *testing.T) *Selector {
	return New(testThresholds(), logger.NewTestLogger(t))
}

func normalized(tokens ...string) models.NormalizedQuery {
	return models.NormalizedQuery{
		Original: "test",
		Cleaned:  "test",
		Tokens:   tokens,
		Language: "en",
	}
}

func TestSelect_DirectRoute(t *testing.T) {
	s := testSelector(t)

	d, err := s.Select(Inputs{
		Normalized: normalized("alaska", "sales"),
		Intent: &models.Intent{
			Category:   models.IntentSalesTrend,
			Confidence: 0.95,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceDirect, d.Source)
	assert.Equal(t, "handler.sales_trend", d.HandlerRef)
	assert.Equal(t, 0.95, d.Confidence)
	assert.Equal(t, "sales", d.Spec.Measure)
	assert.Equal(t, models.AggSum, d.Spec.Aggregation)
}

func TestSelect_DirectThresholdIsStrict(t *testing.T) {
	s := testSelector(t)

	// Exactly 0.9 must NOT route directly; strict > comparison.
	d, err := s.Select(Inputs{
		Normalized: normalized("alaska", "sales"),
		Intent: &models.Intent{
			Category:   models.IntentSalesTrend,
			Confidence: 0.9,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SourceIntent, d.Source)
}

func TestSelect_SimilarityReuse(t *testing.T) {
	s := testSelector(t)

	stored := models.Spec{
		SchemaVersion: models.SpecSchemaVersion,
		Dimension:     "brand",
		Measure:       "sales",
		Aggregation:   models.AggSum,
		ChartHint:     "bar",
		Filters:       map[string]string{"region": "NCR"},
		RowLimit:      10,
	}
	d, err := s.Select(Inputs{
		Normalized: normalized("top", "brands"),
		Similar: []models.SimilarityResult{
			{
				Record: models.EmbeddingRecord{
					ID:             "rec-1",
					Spec:           stored,
					IntentCategory: models.IntentBrandComparison,
				},
				Similarity: 0.91,
			},
		},
		Filters: map[string]string{"region": "Visayas"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceSimilarity, d.Source)
	assert.Equal(t, "rec-1", d.MatchedRecordID)
	// Current request filters win over the stored spec's filters.
	assert.Equal(t, "Visayas", d.Spec.Filters["region"])
	// The stored record itself must stay untouched.
	assert.Equal(t, "NCR", stored.Filters["region"])
}

func TestSelect_IntentRoute(t *testing.T) {
	s := testSelector(t)

	d, err := s.Select(Inputs{
		Normalized: normalized("category", "breakdown"),
		Intent: &models.Intent{
			Category:   models.IntentCategoryMix,
			Confidence: 0.75,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceIntent, d.Source)
	assert.Equal(t, "pie", d.Spec.ChartHint)
}

func TestSelect_KeywordRoute(t *testing.T) {
	s := testSelector(t)

	// "compare ... vs ..." hits the full brand_comparison keyword set.
	d, err := s.Select(Inputs{
		Normalized: normalized("compare", "alaska", "vs", "oishi", "sales"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceKeyword, d.Source)
	assert.Equal(t, "handler.brand_comparison", d.HandlerRef)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "bar", d.Spec.ChartHint)
	assert.Equal(t, "brand", d.Spec.SplitBy)
}

func TestSelect_SplitColumnIsNeverFiltered(t *testing.T) {
	s := testSelector(t)

	// A brand comparison groups by brand; a brand entity must not pin the
	// split column to one value and collapse the comparison.
	d, err := s.Select(Inputs{
		Normalized: models.NormalizedQuery{
			Tokens: []string{"compare", "oishi", "vs", "alaska"},
			Entities: []models.Entity{
				{Type: models.EntityBrand, Value: "Oishi", Confidence: 1.0},
				{Type: models.EntityBrand, Value: "Alaska", Confidence: 1.0},
				{Type: models.EntityRegion, Value: "NCR", Confidence: 1.0},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "brand", d.Spec.SplitBy)
	_, filtered := d.Spec.Filters["brand"]
	assert.False(t, filtered)
	assert.Equal(t, "NCR", d.Spec.Filters["region"])
}

func TestSelect_RuleOrderWins(t *testing.T) {
	s := testSelector(t)

	// Both direct and similarity qualify; the earlier rule must win.
	d, err := s.Select(Inputs{
		Normalized: normalized("sales", "trend"),
		Intent: &models.Intent{
			Category:   models.IntentSalesTrend,
			Confidence: 0.95,
		},
		Similar: []models.SimilarityResult{
			{Record: models.EmbeddingRecord{ID: "rec-2"}, Similarity: 0.99},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SourceDirect, d.Source)
}

func TestSelect_NoRouteFound(t *testing.T) {
	s := testSelector(t)

	_, err := s.Select(Inputs{
		Normalized: normalized("xyzzy", "qwerty"),
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, stderrors.ErrCodeNoRouteFound))
}

func TestSelect_Deterministic(t *testing.T) {
	s := testSelector(t)

	in := Inputs{
		Normalized: normalized("compare", "vs", "sales"),
		Intent: &models.Intent{
			Category:   models.IntentBrandComparison,
			Confidence: 0.75,
		},
	}
	first, err := s.Select(in)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := s.Select(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelect_EntitiesFillSpecSlots(t *testing.T) {
	s := testSelector(t)

	d, err := s.Select(Inputs{
		Normalized: models.NormalizedQuery{
			Tokens: []string{"sales", "trend", "alaska"},
			Entities: []models.Entity{
				{Type: models.EntityBrand, Value: "Alaska", Confidence: 1.0},
				{Type: models.EntityTime, Value: "last_30_days", Confidence: 1.0},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceKeyword, d.Source)
	assert.Equal(t, "Alaska", d.Spec.Filters["brand"])
	assert.Equal(t, "last_30_days", d.Spec.Filters["time"])
}

func TestExploratory(t *testing.T) {
	s := testSelector(t)

	t.Run("entities present", func(t *testing.T) {
		d := s.Exploratory(Inputs{
			Normalized: models.NormalizedQuery{
				Tokens: []string{"alaska", "stuff"},
				Entities: []models.Entity{
					{Type: models.EntityBrand, Value: "Alaska", Confidence: 1.0},
				},
			},
		})
		require.NotNil(t, d)
		assert.Equal(t, models.SourceTemplate, d.Source)
		assert.Equal(t, 0.55, d.Confidence)
		assert.Equal(t, "table", d.Spec.ChartHint)
	})

	t.Run("no entities declines", func(t *testing.T) {
		d := s.Exploratory(Inputs{Normalized: normalized("xyzzy")})
		assert.Nil(t, d)
	})
}

func TestHandlerForIntent_Exhaustive(t *testing.T) {
	for _, cat := range models.AllIntentCategories {
		if cat == models.IntentUnknown {
			assert.Empty(t, handlerForIntent(cat))
			continue
		}
		assert.NotEmpty(t, handlerForIntent(cat), "intent %s has no handler", cat)
	}
}
