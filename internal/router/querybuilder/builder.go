// internal/router/querybuilder/builder.go
package querybuilder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/common/metrics"
	"nlq-router/internal/models"
)

// defaultRowLimit applies when a spec arrives without a limit; the role
// ceiling still caps it during validation.
const defaultRowLimit = 100

// Auditor receives security-relevant events off the request path.
type Auditor interface {
	Record(event models.AuditEvent)
}

// Builder compiles validated Specs into parameterized SELECT statements
// against one of the four data layers. Validation always runs first; a spec
// that fails never reaches SQL generation.
type Builder struct {
	auditor Auditor
	logger  logger.Logger
}

func New(auditor Auditor, log logger.Logger) *Builder {
	return &Builder{
		auditor: auditor,
		logger: log.WithFields(map[string]interface{}{
			"component": "query-builder",
		}),
	}
}

// relationFor picks the target relation from the spec's shape. Forecast
// measures go to the predictive layer, known dimensions to their aggregate
// rollups, and everything else to row-level cleaned transactions.
func relationFor(spec models.Spec) (models.DataLayer, string) {
	if spec.Measure == "forecast_units" {
		return models.LayerPredictive, "scout_pred.demand_forecast"
	}
	switch spec.Dimension {
	case "time":
		return models.LayerAggregated, "scout_agg.sales_daily"
	case "brand":
		return models.LayerAggregated, "scout_agg.sales_by_brand"
	case "category":
		return models.LayerAggregated, "scout_agg.sales_by_category"
	case "region":
		return models.LayerAggregated, "scout_agg.sales_by_region"
	case "store":
		return models.LayerAggregated, "scout_agg.sales_by_store"
	case "product_pair":
		return models.LayerAggregated, "scout_agg.basket_pairs"
	}
	return models.LayerCleaned, "scout_clean.transactions"
}

// Build validates and compiles a spec for a tenant. The tenant predicate is
// injected server-side as the first bound argument; any client-supplied
// tenant scoping in the spec filters is ignored. Rejections are audited and
// counted before the typed error returns.
func (b *Builder) Build(spec models.Spec, tenantID string, roleCeiling int) (*models.CompiledQuery, error) {
	layer, relation := relationFor(spec)

	if spec.RowLimit <= 0 {
		spec.RowLimit = defaultRowLimit
	}

	if err := validateSpec(spec, relation, roleCeiling); err != nil {
		b.reject(tenantID, relation, spec, err)
		return nil, err
	}

	var (
		sb   strings.Builder
		args []interface{}
	)

	dimCol := specDimensionColumn(spec)
	dimExpr := dimCol
	if spec.Dimension == "time" && spec.TimeGrain != "" {
		dimExpr = fmt.Sprintf("date_trunc('%s', %s)", spec.TimeGrain, dimCol)
	}

	sb.WriteString("SELECT ")
	sb.WriteString(dimExpr)
	sb.WriteString(" AS ")
	sb.WriteString(spec.Dimension)
	if spec.SplitBy != "" {
		sb.WriteString(", ")
		sb.WriteString(spec.SplitBy)
	}
	sb.WriteString(fmt.Sprintf(", %s(%s) AS value", spec.Aggregation, spec.Measure))
	sb.WriteString(" FROM ")
	sb.WriteString(relation)

	args = append(args, tenantID)
	sb.WriteString(" WHERE tenant_id = $1")

	// Deterministic predicate order: filters sorted by key.
	for _, key := range sortedFilterKeys(spec.Filters) {
		if key == "tenant_id" {
			continue
		}
		value := spec.Filters[key]
		if key == "time" {
			from, ok := timeRangeStart(value)
			if !ok {
				continue
			}
			args = append(args, from)
			sb.WriteString(fmt.Sprintf(" AND transaction_date >= $%d", len(args)))
			continue
		}
		args = append(args, value)
		sb.WriteString(fmt.Sprintf(" AND %s = $%d", key, len(args)))
	}

	sb.WriteString(" GROUP BY ")
	sb.WriteString(dimExpr)
	if spec.SplitBy != "" {
		sb.WriteString(", ")
		sb.WriteString(spec.SplitBy)
	}

	if spec.Dimension == "time" {
		sb.WriteString(" ORDER BY 1 ASC")
	} else {
		sb.WriteString(" ORDER BY value DESC")
	}

	args = append(args, spec.RowLimit)
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))

	descriptor := fmt.Sprintf("%s(%s) by %s from %s", spec.Aggregation, spec.Measure, spec.Dimension, relation)
	if spec.SplitBy != "" {
		descriptor += " split by " + spec.SplitBy
	}

	// The audit trail records both outcomes; the sink buffers off this path.
	if b.auditor != nil {
		b.auditor.Record(models.AuditEvent{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			Action:     "validated",
			Relation:   relation,
			Descriptor: descriptor,
			OccurredAt: time.Now().UTC(),
		})
	}

	return &models.CompiledQuery{
		SQL:        sb.String(),
		Args:       args,
		Layer:      layer,
		Relation:   relation,
		Descriptor: descriptor,
	}, nil
}

func (b *Builder) reject(tenantID, relation string, spec models.Spec, err error) {
	code := string(stderrors.CodeOf(err))
	metrics.SecurityRejections.WithLabelValues(code).Inc()
	b.logger.Warn("spec rejected by security validation", map[string]interface{}{
		"tenant_id": tenantID,
		"relation":  relation,
		"dimension": spec.Dimension,
		"measure":   spec.Measure,
		"error":     err.Error(),
	})
	if b.auditor != nil {
		b.auditor.Record(models.AuditEvent{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			Action:     "rejected",
			ErrorKind:  code,
			Relation:   relation,
			Descriptor: fmt.Sprintf("%s(%s) by %s", spec.Aggregation, spec.Measure, spec.Dimension),
			Detail:     err.Error(),
			OccurredAt: time.Now().UTC(),
		})
	}
}

func sortedFilterKeys(filters map[string]string) []string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	// Insertion sort; filter maps are tiny.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// timeRangeStart resolves the normalizer's canonical time-range tokens
// ("last_30_days", "this_month", "year_to_date", ...) to a start timestamp.
func timeRangeStart(token string) (time.Time, bool) {
	now := time.Now().UTC()
	switch token {
	case "today":
		return now.Truncate(24 * time.Hour), true
	case "yesterday":
		return now.Truncate(24 * time.Hour).AddDate(0, 0, -1), true
	case "this_week":
		return now.AddDate(0, 0, -int(now.Weekday())).Truncate(24 * time.Hour), true
	case "this_month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), true
	case "this_year", "year_to_date":
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC), true
	}

	var n int
	var unit string
	if _, err := fmt.Sscanf(token, "last_%d_%s", &n, &unit); err == nil && n > 0 {
		switch unit {
		case "days":
			return now.AddDate(0, 0, -n), true
		case "weeks":
			return now.AddDate(0, 0, -7*n), true
		case "months":
			return now.AddDate(0, -n, 0), true
		case "years":
			return now.AddDate(-n, 0, 0), true
		}
	}
	return time.Time{}, false
}
