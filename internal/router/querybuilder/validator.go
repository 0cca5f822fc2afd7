// internal/router/querybuilder/validator.go
package querybuilder

import (
	"fmt"
	"regexp"
	"strings"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/models"
)

// identifierPattern is the only shape an identifier may take before it is
// interpolated into SQL. Everything that queries a relation goes through it.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// allowedSchemaPrefixes gates relations by prefix match. Anything outside
// these schemas is unauthorized regardless of how the spec was produced.
var allowedSchemaPrefixes = []string{
	"scout_raw.",
	"scout_clean.",
	"scout_agg.",
	"scout_pred.",
}

// dangerousFragments are rejected inside any identifier position. Values are
// always bound as parameters, so only identifier slots need this.
var dangerousFragments = []string{
	";", "--", "/*", "*/", "'", "\"", "\\",
	" ", "\t", "\n",
	"select", "insert", "update", "delete", "drop", "alter",
	"truncate", "grant", "revoke", "union", "exec",
}

// allowedAggregations and allowedTimeGrains gate the two non-identifier
// slots interpolated into SQL. Both arrive from outside the request path too
// (stored specs reused on the similarity route, cached templates), so the
// closed sets are enforced here, not at the source.
var allowedAggregations = map[models.Aggregation]bool{
	models.AggSum:   true,
	models.AggAvg:   true,
	models.AggCount: true,
	models.AggMin:   true,
	models.AggMax:   true,
}

var allowedTimeGrains = map[models.TimeGrain]bool{
	models.GrainDay:   true,
	models.GrainWeek:  true,
	models.GrainMonth: true,
}

// relationColumns is the per-relation column allow-list. A spec slot that
// names a column absent here fails validation before any SQL exists.
var relationColumns = map[string]map[string]bool{
	"scout_raw.transactions": {
		"transaction_date": true, "store_id": true, "brand": true,
		"category": true, "region": true, "sku": true,
		"revenue": true, "sales": true, "units": true, "tenant_id": true,
	},
	"scout_clean.transactions": {
		"transaction_date": true, "store_id": true, "store": true,
		"brand": true, "category": true, "region": true, "sku": true,
		"revenue": true, "sales": true, "units": true, "basket_size": true,
		"transactions": true, "tenant_id": true,
	},
	"scout_agg.sales_daily": {
		"transaction_date": true, "time": true, "brand": true,
		"category": true, "region": true, "revenue": true, "sales": true,
		"units": true, "transactions": true, "growth_rate": true,
		"tenant_id": true,
	},
	"scout_agg.sales_by_brand": {
		"brand": true, "category": true, "region": true,
		"revenue": true, "sales": true, "units": true, "transactions": true,
		"market_share": true, "growth_rate": true, "tenant_id": true,
	},
	"scout_agg.sales_by_category": {
		"category": true, "region": true, "revenue": true, "sales": true,
		"units": true, "transactions": true, "market_share": true,
		"tenant_id": true,
	},
	"scout_agg.sales_by_region": {
		"region": true, "brand": true, "category": true,
		"revenue": true, "sales": true, "units": true, "transactions": true,
		"tenant_id": true,
	},
	"scout_agg.sales_by_store": {
		"store": true, "region": true, "revenue": true, "sales": true, "units": true,
		"transactions": true, "basket_size": true, "tenant_id": true,
	},
	"scout_agg.basket_pairs": {
		"product_pair": true, "brand": true, "category": true,
		"transactions": true, "tenant_id": true,
	},
	"scout_pred.demand_forecast": {
		"time": true, "transaction_date": true, "brand": true,
		"category": true, "region": true, "sku": true,
		"forecast_units": true, "confidence_low": true,
		"confidence_high": true, "tenant_id": true,
	},
}

// validateIdentifier rejects anything not shaped like a bare lowercase
// identifier, with an explicit dangerous-construct check first so injection
// attempts are reported as such, not as typos.
func validateIdentifier(name, position string) error {
	lower := strings.ToLower(name)
	for _, frag := range dangerousFragments {
		if strings.Contains(lower, frag) {
			return stderrors.NewDangerousConstructError(
				fmt.Sprintf("%s %q contains disallowed fragment", position, name))
		}
	}
	if !identifierPattern.MatchString(name) {
		return stderrors.NewDangerousConstructError(
			fmt.Sprintf("%s %q is not a valid identifier", position, name))
	}
	return nil
}

// validateRelation enforces the schema prefix allow-list and the exact
// relation allow-list.
func validateRelation(relation string) error {
	ok := false
	for _, prefix := range allowedSchemaPrefixes {
		if strings.HasPrefix(relation, prefix) {
			ok = true
			break
		}
	}
	if !ok {
		return stderrors.NewUnauthorizedTableError(relation)
	}
	if _, known := relationColumns[relation]; !known {
		return stderrors.NewUnauthorizedTableError(relation)
	}
	return nil
}

// validateSpec runs every security check against a spec and its target
// relation. It runs before compilation; on success the builder may trust
// every identifier in the spec.
func validateSpec(spec models.Spec, relation string, roleCeiling int) error {
	if err := validateRelation(relation); err != nil {
		return err
	}

	if spec.Dimension == "" {
		return stderrors.NewDangerousConstructError("dimension is required")
	}
	if spec.Measure == "" {
		return stderrors.NewDangerousConstructError("measure is required")
	}
	if !allowedAggregations[spec.Aggregation] {
		return stderrors.NewDangerousConstructError(
			fmt.Sprintf("aggregation %q is not allowed", spec.Aggregation))
	}
	if spec.TimeGrain != "" && !allowedTimeGrains[spec.TimeGrain] {
		return stderrors.NewDangerousConstructError(
			fmt.Sprintf("time grain %q is not allowed", spec.TimeGrain))
	}

	columns := relationColumns[relation]

	check := func(name, position string) error {
		if name == "" {
			return nil
		}
		if err := validateIdentifier(name, position); err != nil {
			return err
		}
		if !columns[name] {
			return stderrors.NewUnauthorizedColumnError(name, relation)
		}
		return nil
	}

	if err := check(specDimensionColumn(spec), "dimension"); err != nil {
		return err
	}
	if err := check(spec.Measure, "measure"); err != nil {
		return err
	}
	if err := check(spec.SplitBy, "split_by"); err != nil {
		return err
	}
	for key := range spec.Filters {
		if key == "tenant_id" {
			// Tenant scoping is injected server-side; a client-supplied value
			// is dropped, never honored.
			continue
		}
		if key == "time" {
			continue // translated to a date predicate, not a raw column
		}
		if err := validateIdentifier(key, "filter"); err != nil {
			return err
		}
		if !columns[key] {
			return stderrors.NewUnauthorizedColumnError(key, relation)
		}
	}

	if roleCeiling > 0 && spec.RowLimit > roleCeiling {
		return stderrors.NewLimitExceededError(spec.RowLimit, roleCeiling)
	}

	return nil
}

// specDimensionColumn maps the logical "time" dimension onto the physical
// date column; every other dimension is itself a column name.
func specDimensionColumn(spec models.Spec) string {
	if spec.Dimension == "time" {
		return "transaction_date"
	}
	return spec.Dimension
}
