// internal/router/selector/selector.go
package selector

import (
	"strings"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

// Thresholds gate each routing rule. All comparisons are strict.
type Thresholds struct {
	Direct          float64
	SimilarityReuse float64
	Intent          float64
	KeywordFraction float64
}

// Inputs carries everything the upstream stages produced for one request.
// Intent or Similar may be nil/empty when the corresponding stage failed.
type Inputs struct {
	Normalized models.NormalizedQuery
	Intent     *models.Intent
	Similar    []models.SimilarityResult
	Filters    map[string]string
}

// Selector picks a route by walking a fixed rule order: direct handler,
// similarity reuse, intent template, keyword template. The first rule whose
// gate passes wins; no backtracking.
type Selector struct {
	thresholds Thresholds
	logger     logger.Logger
}

func New(thresholds Thresholds, log logger.Logger) *Selector {
	return &Selector{
		thresholds: thresholds,
		logger: log.WithFields(map[string]interface{}{
			"component": "route-selector",
		}),
	}
}

// handlerForIntent is the static intent -> handler table. The switch is
// exhaustive over the closed intent enum so a new category fails loudly in
// review rather than silently routing to unknown.
func handlerForIntent(cat models.IntentCategory) string {
	switch cat {
	case models.IntentSalesTrend:
		return "handler.sales_trend"
	case models.IntentBrandComparison:
		return "handler.brand_comparison"
	case models.IntentCategoryMix:
		return "handler.category_mix"
	case models.IntentRegionalPerformance:
		return "handler.regional_performance"
	case models.IntentStorePerformance:
		return "handler.store_performance"
	case models.IntentBasketAnalysis:
		return "handler.basket_analysis"
	case models.IntentDemandForecast:
		return "handler.demand_forecast"
	case models.IntentUnknown:
		return ""
	}
	return ""
}

// Select returns the winning route or a NO_ROUTE_FOUND error when every rule
// declines. Deterministic: identical inputs always produce the same decision.
func (s *Selector) Select(in Inputs) (*models.RouteDecision, error) {
	if d := s.tryDirect(in); d != nil {
		return d, nil
	}
	if d := s.trySimilarity(in); d != nil {
		return d, nil
	}
	if d := s.tryIntent(in); d != nil {
		return d, nil
	}
	if d := s.tryKeyword(in); d != nil {
		return d, nil
	}
	return nil, stderrors.NewNoRouteFoundError(in.Normalized.Original)
}

// Rule 1: direct handler dispatch on a high-confidence classified intent.
func (s *Selector) tryDirect(in Inputs) *models.RouteDecision {
	if in.Intent == nil || in.Intent.Category == models.IntentUnknown {
		return nil
	}
	if !(in.Intent.Confidence > s.thresholds.Direct) {
		return nil
	}
	handler := handlerForIntent(in.Intent.Category)
	if handler == "" {
		return nil
	}
	spec := templateForIntent(in.Intent.Category)
	applyFilters(&spec, in.Filters)
	applyEntities(&spec, in.Intent.Entities)
	return &models.RouteDecision{
		HandlerRef: handler,
		Confidence: in.Intent.Confidence,
		Source:     models.SourceDirect,
		Spec:       spec,
	}
}

// Rule 2: reuse the spec of the nearest prior query. Results arrive sorted by
// descending similarity, so only the head matters. The stored spec is cloned
// before the current request's filters are re-applied; the stored record is
// never mutated.
func (s *Selector) trySimilarity(in Inputs) *models.RouteDecision {
	if len(in.Similar) == 0 {
		return nil
	}
	top := in.Similar[0]
	if !(top.Similarity > s.thresholds.SimilarityReuse) {
		return nil
	}
	spec := top.Record.Spec.Clone()
	applyFilters(&spec, in.Filters)
	return &models.RouteDecision{
		HandlerRef:      handlerForIntent(top.Record.IntentCategory),
		Confidence:      top.Similarity,
		Source:          models.SourceSimilarity,
		Spec:            spec,
		MatchedRecordID: top.Record.ID,
	}
}

// Rule 3: intent template at moderate confidence.
func (s *Selector) tryIntent(in Inputs) *models.RouteDecision {
	if in.Intent == nil || in.Intent.Category == models.IntentUnknown {
		return nil
	}
	if !(in.Intent.Confidence > s.thresholds.Intent) {
		return nil
	}
	spec := templateForIntent(in.Intent.Category)
	applyFilters(&spec, in.Filters)
	applyEntities(&spec, in.Intent.Entities)
	return &models.RouteDecision{
		HandlerRef: handlerForIntent(in.Intent.Category),
		Confidence: in.Intent.Confidence,
		Source:     models.SourceIntent,
		Spec:       spec,
	}
}

// Rule 4: keyword matching needs only the normalizer output, so it still
// works when both remote services are down. Confidence is calibrated as
// 0.5 + fraction/2 so any accepted match clears the fallback floor and a
// full keyword-set match scores 1.0.
func (s *Selector) tryKeyword(in Inputs) *models.RouteDecision {
	template, fraction := matchKeywordTemplate(in.Normalized.Tokens)
	if template == nil || !(fraction > s.thresholds.KeywordFraction) {
		return nil
	}
	spec := template.spec.Clone()
	applyFilters(&spec, in.Filters)
	applyEntities(&spec, in.Normalized.Entities)
	s.logger.Debug("keyword template matched", map[string]interface{}{
		"template": template.name,
		"fraction": fraction,
	})
	return &models.RouteDecision{
		HandlerRef: template.handler,
		Confidence: 0.5 + fraction/2,
		Source:     models.SourceKeyword,
		Spec:       spec,
	}
}

// Exploratory is the generic fallback route used by the fallback chain after
// every selector rule has declined: when the normalizer extracted at least
// one entity, serve a simple table view scoped to those entities. With no
// entities there is nothing to anchor a query on and it declines.
func (s *Selector) Exploratory(in Inputs) *models.RouteDecision {
	if len(in.Normalized.Entities) == 0 {
		return nil
	}
	spec := models.Spec{
		SchemaVersion: models.SpecSchemaVersion,
		Measure:       "sales",
		Aggregation:   models.AggSum,
		ChartHint:     "table",
		RowLimit:      50,
	}
	for _, e := range in.Normalized.Entities {
		switch e.Type {
		case models.EntityBrand, models.EntityCategory, models.EntityRegion:
			if spec.Dimension == "" {
				spec.Dimension = string(e.Type)
			}
		}
	}
	if spec.Dimension == "" {
		spec.Dimension = "brand"
	}
	applyFilters(&spec, in.Filters)
	applyEntities(&spec, in.Normalized.Entities)
	// The dimension column should group, not filter.
	delete(spec.Filters, spec.Dimension)
	return &models.RouteDecision{
		HandlerRef: "handler.exploratory",
		Confidence: 0.55,
		Source:     models.SourceTemplate,
		Spec:       spec,
	}
}

// applyFilters overlays request filters onto a spec; request values win.
func applyFilters(spec *models.Spec, filters map[string]string) {
	if len(filters) == 0 {
		return
	}
	if spec.Filters == nil {
		spec.Filters = make(map[string]string, len(filters))
	}
	for k, v := range filters {
		spec.Filters[k] = v
	}
}

// applyEntities maps extracted entities onto spec slots. Brand, category and
// region entities become filters (explicit request filters win); metric
// entities settle the measure; time entities become the canonical time
// filter the query builder translates into a date predicate.
func applyEntities(spec *models.Spec, entities []models.Entity) {
	if spec.Filters == nil {
		spec.Filters = make(map[string]string)
	}
	for _, e := range entities {
		switch e.Type {
		case models.EntityMetric:
			if spec.Measure == "" {
				spec.Measure = e.Value
				spec.Aggregation = aggregationForMeasure(e.Value)
			}
		case models.EntityBrand, models.EntityCategory, models.EntityRegion, models.EntityTime:
			key := string(e.Type)
			if key == spec.SplitBy {
				// The split column groups the comparison; pinning it to one
				// value would collapse the comparison to a single series.
				continue
			}
			if _, ok := spec.Filters[key]; !ok {
				spec.Filters[key] = e.Value
			}
		}
	}
}

// aggregationForMeasure applies the semantic-class mapping: rate-like
// measures average, count-like measures count, everything else sums.
func aggregationForMeasure(measure string) models.Aggregation {
	switch measure {
	case "growth_rate", "market_share", "basket_size":
		return models.AggAvg
	case "transactions":
		return models.AggCount
	}
	return models.AggSum
}

// keywordTemplate is a canned spec triggered by token overlap.
type keywordTemplate struct {
	name     string
	handler  string
	keywords []string
	spec     *models.Spec
}

var keywordTemplates = []keywordTemplate{
	{
		name:     "brand_comparison",
		handler:  "handler.brand_comparison",
		keywords: []string{"compare", "vs"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "time",
			Measure:       "sales",
			Aggregation:   models.AggSum,
			ChartHint:     "bar",
			SplitBy:       "brand",
			TimeGrain:     models.GrainMonth,
			RowLimit:      100,
		},
	},
	{
		name:     "top_brands",
		handler:  "handler.brand_comparison",
		keywords: []string{"top", "brands"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "brand",
			Measure:       "sales",
			Aggregation:   models.AggSum,
			ChartHint:     "bar",
			RowLimit:      10,
		},
	},
	{
		name:     "sales_trend",
		handler:  "handler.sales_trend",
		keywords: []string{"sales", "trend"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "time",
			Measure:       "sales",
			Aggregation:   models.AggSum,
			ChartHint:     "line",
			TimeGrain:     models.GrainMonth,
			RowLimit:      100,
		},
	},
	{
		name:     "category_mix",
		handler:  "handler.category_mix",
		keywords: []string{"category", "mix"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "category",
			Measure:       "sales",
			Aggregation:   models.AggSum,
			ChartHint:     "pie",
			RowLimit:      20,
		},
	},
	{
		name:     "store_performance",
		handler:  "handler.store_performance",
		keywords: []string{"store", "performance"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "store",
			Measure:       "sales",
			Aggregation:   models.AggSum,
			ChartHint:     "table",
			RowLimit:      50,
		},
	},
	{
		name:     "regional_performance",
		handler:  "handler.regional_performance",
		keywords: []string{"region", "regional"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "region",
			Measure:       "sales",
			Aggregation:   models.AggSum,
			ChartHint:     "bar",
			RowLimit:      20,
		},
	},
	{
		name:     "basket_analysis",
		handler:  "handler.basket_analysis",
		keywords: []string{"basket", "together"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "product_pair",
			Measure:       "transactions",
			Aggregation:   models.AggCount,
			ChartHint:     "table",
			RowLimit:      25,
		},
	},
	{
		name:     "demand_forecast",
		handler:  "handler.demand_forecast",
		keywords: []string{"forecast", "demand"},
		spec: &models.Spec{
			SchemaVersion: models.SpecSchemaVersion,
			Dimension:     "time",
			Measure:       "forecast_units",
			Aggregation:   models.AggSum,
			ChartHint:     "line",
			TimeGrain:     models.GrainWeek,
			RowLimit:      52,
		},
	},
}

// matchKeywordTemplate scores each template by the fraction of its required
// keyword set present in the query tokens and returns the best. Ties break
// on declaration order, keeping the result deterministic.
func matchKeywordTemplate(tokens []string) (*keywordTemplate, float64) {
	if len(tokens) == 0 {
		return nil, 0
	}
	present := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		present[strings.ToLower(tok)] = true
	}
	var best *keywordTemplate
	bestFraction := 0.0
	for i := range keywordTemplates {
		t := &keywordTemplates[i]
		matched := 0
		for _, kw := range t.keywords {
			if present[kw] {
				matched++
			}
		}
		fraction := float64(matched) / float64(len(t.keywords))
		if fraction > bestFraction {
			best = t
			bestFraction = fraction
		}
	}
	return best, bestFraction
}

// templateForIntent builds the default spec skeleton for an intent category.
func templateForIntent(cat models.IntentCategory) models.Spec {
	switch cat {
	case models.IntentSalesTrend:
		return models.Spec{SchemaVersion: models.SpecSchemaVersion, Dimension: "time", Measure: "sales", Aggregation: models.AggSum, ChartHint: "line", TimeGrain: models.GrainMonth, RowLimit: 100}
	case models.IntentBrandComparison:
		return models.Spec{SchemaVersion: models.SpecSchemaVersion, Dimension: "brand", Measure: "sales", Aggregation: models.AggSum, ChartHint: "bar", RowLimit: 10}
	case models.IntentCategoryMix:
		return models.Spec{SchemaVersion: models.SpecSchemaVersion, Dimension: "category", Measure: "sales", Aggregation: models.AggSum, ChartHint: "pie", RowLimit: 20}
	case models.IntentRegionalPerformance:
		return models.Spec{SchemaVersion: models.SpecSchemaVersion, Dimension: "region", Measure: "sales", Aggregation: models.AggSum, ChartHint: "bar", RowLimit: 20}
	case models.IntentStorePerformance:
		return models.Spec{SchemaVersion: models.SpecSchemaVersion, Dimension: "store", Measure: "sales", Aggregation: models.AggSum, ChartHint: "table", RowLimit: 50}
	case models.IntentBasketAnalysis:
		return models.Spec{SchemaVersion: models.SpecSchemaVersion, Dimension: "product_pair", Measure: "transactions", Aggregation: models.AggCount, ChartHint: "table", RowLimit: 25}
	case models.IntentDemandForecast:
		return models.Spec{SchemaVersion: models.SpecSchemaVersion, Dimension: "time", Measure: "forecast_units", Aggregation: models.AggSum, ChartHint: "line", TimeGrain: models.GrainWeek, RowLimit: 52}
	}
	return models.Spec{SchemaVersion: models.SpecSchemaVersion, RowLimit: 100}
}
