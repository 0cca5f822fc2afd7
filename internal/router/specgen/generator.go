// internal/router/specgen/generator.go
package specgen

import (
	"strings"

	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

// tokenRole classifies a query token for spec slot assignment.
type tokenRole int

const (
	roleNone tokenRole = iota
	roleTemporal
	roleCategorical
	roleMeasure
)

// Generator refines a route's spec skeleton using the normalized query and
// the caller's role ceiling. Generate is total: any input yields a valid
// Spec, degrading to a minimal table view when nothing maps.
type Generator struct {
	defaultRowLimit int
	logger          logger.Logger
}

func New(defaultRowLimit int, log logger.Logger) *Generator {
	if defaultRowLimit <= 0 {
		defaultRowLimit = 100
	}
	return &Generator{
		defaultRowLimit: defaultRowLimit,
		logger: log.WithFields(map[string]interface{}{
			"component": "spec-generator",
		}),
	}
}

var temporalTokens = map[string]models.TimeGrain{
	"daily":   models.GrainDay,
	"day":     models.GrainDay,
	"days":    models.GrainDay,
	"weekly":  models.GrainWeek,
	"week":    models.GrainWeek,
	"weeks":   models.GrainWeek,
	"monthly": models.GrainMonth,
	"month":   models.GrainMonth,
	"months":  models.GrainMonth,
}

var categoricalTokens = map[string]string{
	"brand":      "brand",
	"brands":     "brand",
	"category":   "category",
	"categories": "category",
	"region":     "region",
	"regions":    "region",
	"store":      "store",
	"stores":     "store",
	"sku":        "sku",
	"skus":       "sku",
	"product":    "sku",
	"products":   "sku",
}

// measureClasses maps measure tokens to (canonical measure, semantic class).
// The class decides aggregation: revenue-like sums, rate-like averages,
// count-like counts.
var measureClasses = map[string]struct {
	measure string
	agg     models.Aggregation
}{
	"sales":        {"sales", models.AggSum},
	"revenue":      {"revenue", models.AggSum},
	"amount":       {"sales", models.AggSum},
	"units":        {"units", models.AggSum},
	"volume":       {"units", models.AggSum},
	"growth":       {"growth_rate", models.AggAvg},
	"rate":         {"growth_rate", models.AggAvg},
	"share":        {"market_share", models.AggAvg},
	"basket":       {"basket_size", models.AggAvg},
	"average":      {"basket_size", models.AggAvg},
	"transactions": {"transactions", models.AggCount},
	"count":        {"transactions", models.AggCount},
	"orders":       {"transactions", models.AggCount},
}

// chartForIntent is the intent -> chart hint table.
var chartForIntent = map[models.IntentCategory]string{
	models.IntentSalesTrend:          "line",
	models.IntentBrandComparison:     "bar",
	models.IntentCategoryMix:         "pie",
	models.IntentRegionalPerformance: "bar",
	models.IntentStorePerformance:    "table",
	models.IntentBasketAnalysis:      "table",
	models.IntentDemandForecast:      "line",
}

// grainForTimeRange derives the bucket size from the normalizer's canonical
// time-range token.
func grainForTimeRange(token string) (models.TimeGrain, bool) {
	switch {
	case token == "":
		return "", false
	case token == "today" || token == "yesterday" || strings.HasSuffix(token, "_days"):
		return models.GrainDay, true
	case token == "this_week" || strings.HasSuffix(token, "_weeks"):
		return models.GrainWeek, true
	case token == "this_month" || token == "this_year" || token == "year_to_date" ||
		strings.HasSuffix(token, "_months") || strings.HasSuffix(token, "_years"):
		return models.GrainMonth, true
	}
	return "", false
}

func classifyToken(tok string) tokenRole {
	tok = strings.ToLower(tok)
	if _, ok := temporalTokens[tok]; ok {
		return roleTemporal
	}
	if _, ok := categoricalTokens[tok]; ok {
		return roleCategorical
	}
	if _, ok := measureClasses[tok]; ok {
		return roleMeasure
	}
	return roleNone
}

// Generate fills the gaps in a route's spec from normalized tokens, entities
// and intent, then clamps row_limit to the role ceiling. The result is always
// a complete, valid spec regardless of how sparse the inputs are.
func (g *Generator) Generate(base models.Spec, nq models.NormalizedQuery, intent *models.Intent, roleCeiling int) models.Spec {
	spec := base.Clone()
	spec.SchemaVersion = models.SpecSchemaVersion

	for _, tok := range nq.Tokens {
		switch classifyToken(tok) {
		case roleTemporal:
			if spec.TimeGrain == "" {
				spec.TimeGrain = temporalTokens[strings.ToLower(tok)]
			}
		case roleCategorical:
			if spec.Dimension == "" {
				spec.Dimension = categoricalTokens[strings.ToLower(tok)]
			} else if spec.SplitBy == "" && categoricalTokens[strings.ToLower(tok)] != spec.Dimension {
				spec.SplitBy = categoricalTokens[strings.ToLower(tok)]
			}
		case roleMeasure:
			if spec.Measure == "" {
				mc := measureClasses[strings.ToLower(tok)]
				spec.Measure = mc.measure
				spec.Aggregation = mc.agg
			}
		}
	}

	// Entities settle remaining slots; explicit filters already on the spec
	// win. Metric entities map to the measure, time entities to the canonical
	// time filter, everything else to a filter on its own column.
	if spec.Filters == nil {
		spec.Filters = make(map[string]string)
	}
	for _, e := range nq.Entities {
		switch e.Type {
		case models.EntityMetric:
			if spec.Measure == "" {
				if mc, ok := measureClasses[e.Value]; ok {
					spec.Measure = mc.measure
					spec.Aggregation = mc.agg
				}
			}
		default:
			key := string(e.Type)
			if key == spec.SplitBy {
				// The split column groups; filtering it to one value would
				// collapse the comparison.
				continue
			}
			if _, ok := spec.Filters[key]; !ok {
				spec.Filters[key] = e.Value
			}
		}
	}

	// An explicit time range wins over a template's default grain: "last 30
	// days" means daily buckets even when the sales-trend template defaults
	// to monthly.
	if grain, ok := grainForTimeRange(spec.Filters["time"]); ok {
		spec.TimeGrain = grain
	}

	if spec.ChartHint == "" && intent != nil {
		if hint, ok := chartForIntent[intent.Category]; ok {
			spec.ChartHint = hint
		}
	}

	// Degradation path: nothing mapped, fall back to a minimal table view.
	if spec.Measure == "" {
		spec.Measure = "sales"
		spec.Aggregation = models.AggSum
	}
	if spec.Aggregation == "" {
		spec.Aggregation = models.AggSum
	}
	if spec.Dimension == "" {
		if spec.TimeGrain != "" {
			spec.Dimension = "time"
		} else {
			spec.Dimension = "brand"
		}
	}
	if spec.ChartHint == "" {
		spec.ChartHint = "table"
	}

	if spec.RowLimit <= 0 {
		spec.RowLimit = g.defaultRowLimit
	}
	if roleCeiling > 0 && spec.RowLimit > roleCeiling {
		g.logger.Debug("row limit capped by role ceiling", map[string]interface{}{
			"requested": spec.RowLimit,
			"ceiling":   roleCeiling,
		})
		spec.RowLimit = roleCeiling
	}

	return spec
}
