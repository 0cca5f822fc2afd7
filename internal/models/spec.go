// internal/models/spec.go
package models

// SpecSchemaVersion is bumped whenever the Spec contract changes shape.
const SpecSchemaVersion = 1

// Aggregation is the closed set of supported aggregate functions.
type Aggregation string

const (
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggCount Aggregation = "count"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
)

// TimeGrain buckets a time dimension.
type TimeGrain string

const (
	GrainDay   TimeGrain = "day"
	GrainWeek  TimeGrain = "week"
	GrainMonth TimeGrain = "month"
)

// Spec is the declarative, data-layer-agnostic query contract produced by the
// router. It is the boundary artifact between NL understanding and execution:
// everything downstream of the Spec Generator consumes this and nothing else.
type Spec struct {
	SchemaVersion int               `json:"schema_version"`
	Dimension     string            `json:"dimension,omitempty"`
	Measure       string            `json:"measure,omitempty"`
	Aggregation   Aggregation       `json:"aggregation"`
	ChartHint     string            `json:"chart_hint"`
	Filters       map[string]string `json:"filters,omitempty"`
	SplitBy       string            `json:"split_by,omitempty"`
	TimeGrain     TimeGrain         `json:"time_grain,omitempty"`
	RowLimit      int               `json:"row_limit"`
}

// Clone returns a deep copy so stored specs can be re-filtered per request
// without mutating shared state.
func (s Spec) Clone() Spec {
	out := s
	if s.Filters != nil {
		out.Filters = make(map[string]string, len(s.Filters))
		for k, v := range s.Filters {
			out.Filters[k] = v
		}
	}
	return out
}

// RouteSource identifies which strategy produced a RouteDecision.
type RouteSource string

const (
	SourceDirect     RouteSource = "direct"
	SourceSimilarity RouteSource = "similarity"
	SourceIntent     RouteSource = "intent"
	SourceKeyword    RouteSource = "keyword"
	SourceTemplate   RouteSource = "template"
	SourceError      RouteSource = "error"
)

// RouteDecision is the ephemeral, per-request outcome of route selection.
type RouteDecision struct {
	HandlerRef string      `json:"handler_ref"`
	Confidence float64     `json:"confidence"` // [0,1]
	Source     RouteSource `json:"source"`
	Spec       Spec        `json:"spec"`
	// MatchedRecordID is set when Source is "similarity"; the feedback loop
	// uses it to bump usage counts off the response path.
	MatchedRecordID string `json:"matched_record_id,omitempty"`
}

// DataLayer is one of the fixed tiers of the underlying store.
type DataLayer string

const (
	LayerRaw        DataLayer = "raw"
	LayerCleaned    DataLayer = "cleaned"
	LayerAggregated DataLayer = "aggregated"
	LayerPredictive DataLayer = "predictive"
)

// CompiledQuery is the output of the query builder: a validated, parameterized
// read against a single allow-listed relation.
type CompiledQuery struct {
	SQL        string        `json:"-"`
	Args       []interface{} `json:"-"`
	Layer      DataLayer     `json:"layer"`
	Relation   string        `json:"relation"`
	Descriptor string        `json:"descriptor"` // safe, human-readable summary
}
