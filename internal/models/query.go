// internal/models/query.go
package models

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityBrand    EntityType = "brand"
	EntityCategory EntityType = "category"
	EntityRegion   EntityType = "region"
	EntityTime     EntityType = "time"
	EntityMetric   EntityType = "metric"
)

// Entity is a typed value extracted from the user's question.
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"` // [0,1]; 1.0 for exact dictionary match
	Aliases    []string   `json:"aliases,omitempty"`
}

// NormalizedQuery is the cleaned, tokenized form of a raw question.
// Created once per request and never mutated afterward.
type NormalizedQuery struct {
	Original string   `json:"original"`
	Cleaned  string   `json:"cleaned"`
	Tokens   []string `json:"tokens"`
	Entities []Entity `json:"entities"`
	Language string   `json:"language"`
}

// IntentCategory is the closed set of business intents the classifier can emit.
type IntentCategory string

const (
	IntentSalesTrend          IntentCategory = "sales_trend"
	IntentBrandComparison     IntentCategory = "brand_comparison"
	IntentCategoryMix         IntentCategory = "category_mix"
	IntentRegionalPerformance IntentCategory = "regional_performance"
	IntentStorePerformance    IntentCategory = "store_performance"
	IntentBasketAnalysis      IntentCategory = "basket_analysis"
	IntentDemandForecast      IntentCategory = "demand_forecast"
	IntentUnknown             IntentCategory = "unknown"
)

// AllIntentCategories lists every known category in a fixed order.
var AllIntentCategories = []IntentCategory{
	IntentSalesTrend,
	IntentBrandComparison,
	IntentCategoryMix,
	IntentRegionalPerformance,
	IntentStorePerformance,
	IntentBasketAnalysis,
	IntentDemandForecast,
	IntentUnknown,
}

// ParseIntentCategory maps a raw string onto the closed enum, IntentUnknown
// when the value is not recognized.
func ParseIntentCategory(s string) IntentCategory {
	for _, c := range AllIntentCategories {
		if string(c) == s {
			return c
		}
	}
	return IntentUnknown
}

// Intent is the classifier's verdict for a normalized query.
type Intent struct {
	Category   IntentCategory `json:"category"`
	Confidence float64        `json:"confidence"` // [0,1]
	Entities   []Entity       `json:"entities,omitempty"`
}
