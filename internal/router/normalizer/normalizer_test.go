// internal/router/normalizer/normalizer_test.go
package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/models"
)

func TestNormalize_CleansAndTokenizes(t *testing.T) {
	n := New(2048, 256)

	nq, err := n.Normalize("Show me the Alaska milk sales in NCR!")
	require.NoError(t, err)

	assert.Equal(t, "Show me the Alaska milk sales in NCR!", nq.Original)
	assert.Equal(t, []string{"alaska", "milk", "sales", "ncr"}, nq.Tokens)
	assert.Equal(t, "alaska milk sales ncr", nq.Cleaned)
	assert.Equal(t, "en", nq.Language)
}

func TestNormalize_InputTooLarge(t *testing.T) {
	n := New(64, 256)

	_, err := n.Normalize(strings.Repeat("a", 65))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, stderrors.ErrCodeInputTooLarge))
}

func TestNormalize_ExtractsEntities(t *testing.T) {
	n := New(2048, 256)

	nq, err := n.Normalize("Show Alaska milk sales in NCR last 30 days")
	require.NoError(t, err)

	byType := map[models.EntityType][]string{}
	for _, e := range nq.Entities {
		byType[e.Type] = append(byType[e.Type], e.Value)
	}

	assert.Contains(t, byType[models.EntityBrand], "Alaska")
	assert.Contains(t, byType[models.EntityCategory], "milk")
	assert.Contains(t, byType[models.EntityRegion], "NCR")
	assert.Contains(t, byType[models.EntityMetric], "sales")
	assert.Contains(t, byType[models.EntityTime], "last_30_days")
}

func TestNormalize_EntitiesKeepMentionOrder(t *testing.T) {
	n := New(2048, 256)

	// The first-mentioned brand claims the filter slot downstream, so
	// extraction order must follow the question, not the alphabet.
	nq, err := n.Normalize("compare Oishi vs Alaska sales")
	require.NoError(t, err)

	var brands []string
	for _, e := range nq.Entities {
		if e.Type == models.EntityBrand {
			brands = append(brands, e.Value)
		}
	}
	require.Equal(t, []string{"Oishi", "Alaska"}, brands)

	nq, err = n.Normalize("compare Alaska vs Oishi sales")
	require.NoError(t, err)
	brands = brands[:0]
	for _, e := range nq.Entities {
		if e.Type == models.EntityBrand {
			brands = append(brands, e.Value)
		}
	}
	require.Equal(t, []string{"Alaska", "Oishi"}, brands)
}

func TestNormalize_TimeRanges(t *testing.T) {
	n := New(2048, 256)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"last n days", "sales last 30 days", "last_30_days"},
		{"last n weeks", "sales last 2 weeks", "last_2_weeks"},
		{"last n months", "sales last 6 months", "last_6_months"},
		{"this month", "sales this month", "this_month"},
		{"year to date", "sales year to date", "year_to_date"},
		{"today", "sales today", "today"},
		{"yesterday", "sales yesterday", "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nq, err := n.Normalize(tt.input)
			require.NoError(t, err)

			var got string
			for _, e := range nq.Entities {
				if e.Type == models.EntityTime {
					got = e.Value
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_FuzzyBrandMatch(t *testing.T) {
	n := New(2048, 256)

	// One typo inside a brand token still resolves, at reduced confidence.
	nq, err := n.Normalize("compare oishe snacks sales")
	require.NoError(t, err)

	var brand *models.Entity
	for i, e := range nq.Entities {
		if e.Type == models.EntityBrand {
			brand = &nq.Entities[i]
		}
	}
	require.NotNil(t, brand)
	assert.Equal(t, "Oishi", brand.Value)
	assert.Less(t, brand.Confidence, 1.0)
}

func TestNormalize_NoWordBoundaryFalsePositives(t *testing.T) {
	n := New(2048, 256)

	// "share" must not match inside "shareholder".
	nq, err := n.Normalize("shareholder meeting notes")
	require.NoError(t, err)

	for _, e := range nq.Entities {
		assert.NotEqual(t, "market_share", e.Value)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	n := New(2048, 256)

	first, err := n.Normalize("compare Alaska vs Oishi sales in Visayas")
	require.NoError(t, err)
	second, err := n.Normalize("compare Alaska vs Oishi sales in Visayas")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNormalize_TokenCap(t *testing.T) {
	n := New(2048, 5)

	nq, err := n.Normalize("alpha beta gamma delta epsilon zeta eta theta")
	require.NoError(t, err)
	assert.Len(t, nq.Tokens, 5)
}

func TestTruncateForService(t *testing.T) {
	n := New(2048, 3)

	assert.Equal(t, "one two three", n.TruncateForService("one two three four five"))
	assert.Equal(t, "one two", n.TruncateForService("one two"))
}
