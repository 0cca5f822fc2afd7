// internal/models/api.go
package models

// RequestContext carries the caller's resolved identity and dashboard state.
// Tenant resolution happens upstream; the router only consumes it.
type RequestContext struct {
	TenantID      string            `json:"tenant_id"`
	Role          string            `json:"role"`
	ActivePage    string            `json:"active_page,omitempty"`
	ActiveFilters map[string]string `json:"active_filters,omitempty"`
}

// AskRequest is the single inbound API payload.
type AskRequest struct {
	Prompt  string            `json:"prompt"`
	Filters map[string]string `json:"filters,omitempty"`
	Context *RequestContext   `json:"context,omitempty"`
}

// AskResponse is the success / degraded response shape. LowConfidence marks
// answers the router could not confidently route; the UI must warn the user
// rather than present the result as authoritative.
type AskResponse struct {
	Spec            Spec                     `json:"spec"`
	QueryDescriptor string                   `json:"compiled_query_descriptor,omitempty"`
	Explanation     string                   `json:"explanation"`
	LowConfidence   bool                     `json:"low_confidence,omitempty"`
	Rows            []map[string]interface{} `json:"rows,omitempty"`
	CacheHit        bool                     `json:"cache_hit,omitempty"`
}

// ErrorResponse is the fatal response shape; ErrorKind is stable and callers
// branch on it.
type ErrorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}
