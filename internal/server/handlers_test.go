// internal/server/handlers_test.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlq-router/internal/common/config"
	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

type stubPipeline struct {
	gotReq models.AskRequest
	resp   *models.AskResponse
	err    error
}

func (s *stubPipeline) Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error) {
	s.gotReq = req
	return s.resp, s.err
}

type okChecker struct{}

func (okChecker) Ping(context.Context) error { return nil }

type downChecker struct{}

func (downChecker) Ping(context.Context) error { return errors.New("connection refused") }

func testServer(t *testing.T, pipeline AskPipeline, deps map[string]HealthChecker) *Server {
	log := logger.NewTestLogger(t)
	cfg := &config.Config{}
	cfg.App.Name = "nlq-router"
	cfg.App.Version = "test"
	cfg.Server.Address = ":0"
	return New(cfg, NewAskHandler(pipeline, log), deps, log)
}

func doAsk(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestAsk_Success(t *testing.T) {
	pipeline := &stubPipeline{
		resp: &models.AskResponse{
			Spec:        models.Spec{Dimension: "brand", Measure: "sales", Aggregation: models.AggSum},
			Explanation: "Showing sum of sales by brand.",
			Rows:        []map[string]interface{}{{"brand": "Alaska", "value": 125.5}},
		},
	}
	srv := testServer(t, pipeline, nil)

	w := doAsk(t, srv, `{
		"prompt": "top brands in NCR",
		"filters": {"region": "NCR"},
		"context": {"tenant_id": "tenant-1", "role": "analyst"}
	}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "brand", resp.Spec.Dimension)
	require.Len(t, resp.Rows, 1)

	assert.Equal(t, "top brands in NCR", pipeline.gotReq.Prompt)
	assert.Equal(t, "NCR", pipeline.gotReq.Filters["region"])
	require.NotNil(t, pipeline.gotReq.Context)
	assert.Equal(t, "tenant-1", pipeline.gotReq.Context.TenantID)
}

func TestAsk_RejectsInvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing prompt", `{"filters": {"region": "NCR"}}`},
		{"empty prompt", `{"prompt": ""}`},
		{"wrong prompt type", `{"prompt": 42}`},
		{"unknown field", `{"prompt": "x", "sql": "DROP TABLE users"}`},
		{"non-string filter value", `{"prompt": "x", "filters": {"region": 7}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := &stubPipeline{}
			srv := testServer(t, pipeline, nil)

			w := doAsk(t, srv, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "INVALID_REQUEST", resp.ErrorKind)
			assert.Empty(t, pipeline.gotReq.Prompt) // pipeline never ran
		})
	}
}

func TestAsk_MapsTypedErrorsToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"oversized input", stderrors.NewInputTooLargeError(9000, 512), 413, "INPUT_TOO_LARGE"},
		{"security rejection", stderrors.NewDangerousConstructError("detail"), 403, "DANGEROUS_CONSTRUCT"},
		{"limit exceeded", stderrors.NewLimitExceededError(999999, 500), 403, "LIMIT_EXCEEDED"},
		{"classifier timeout", stderrors.NewServiceTimeoutError("classifier"), 504, "SERVICE_TIMEOUT"},
		{"store down", stderrors.NewSimilarityStoreUnavailableError(errors.New("es 503")), 503, "SIMILARITY_STORE_UNAVAILABLE"},
		{"untyped error", errors.New("boom"), 500, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, &stubPipeline{err: tt.err}, nil)

			w := doAsk(t, srv, `{"prompt": "anything"}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
			// Internal detail must not leak into the message.
			assert.NotContains(t, resp.Message, "boom")
			assert.NotContains(t, resp.Message, "es 503")
		})
	}
}

func TestHealthz_AllDependenciesUp(t *testing.T) {
	srv := testServer(t, &stubPipeline{}, map[string]HealthChecker{
		"postgres": okChecker{},
		"redis":    okChecker{},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Equal(t, "ok", resp.Checks["redis"])
}

func TestHealthz_DegradedDependencyIs503(t *testing.T) {
	srv := testServer(t, &stubPipeline{}, map[string]HealthChecker{
		"postgres":      okChecker{},
		"elasticsearch": downChecker{},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv := testServer(t, &stubPipeline{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
