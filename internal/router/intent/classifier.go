// internal/router/intent/classifier.go
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nlq-router/internal/common/config"
	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

const serviceName = "classifier"

// Service is the narrow contract the pipeline depends on.
type Service interface {
	Classify(ctx context.Context, text string, reqCtx *models.RequestContext) (*models.Intent, error)
}

// Client wraps the external classification service over HTTP.
type Client struct {
	config *config.ServiceConfig
	client *http.Client
	logger logger.Logger
}

func NewClient(cfg *config.ServiceConfig, log logger.Logger) *Client {
	return &Client{
		config: cfg,
		client: &http.Client{
			Timeout: config.GetDuration(cfg.Timeout),
		},
		logger: log.WithFields(map[string]interface{}{
			"service": serviceName,
		}),
	}
}

// Classify maps a normalized question onto the closed intent enum. Off-enum
// service intents collapse to "unknown"; confidence is clamped into [0,1].
func (c *Client) Classify(ctx context.Context, text string, reqCtx *models.RequestContext) (*models.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, config.GetDuration(c.config.Timeout))
	defer cancel()

	requestBody := map[string]interface{}{
		"query": text,
	}
	if reqCtx != nil {
		requestBody["context"] = map[string]interface{}{
			"active_page":    reqCtx.ActivePage,
			"active_filters": reqCtx.ActiveFilters,
		}
	}

	body, _ := json.Marshal(requestBody)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, stderrors.NewServiceTimeoutError(serviceName)
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/v1/classify", bytes.NewBuffer(body))
		if err != nil {
			return nil, stderrors.NewServiceUnavailableError(serviceName, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, lastErr = c.client.Do(req)

		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {
			return nil, stderrors.NewServiceTimeoutError(serviceName)
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, stderrors.NewServiceTimeoutError(serviceName)
		}
		return nil, stderrors.NewServiceUnavailableError(serviceName, lastErr)
	}
	if resp == nil {
		return nil, stderrors.NewServiceUnavailableError(serviceName, errors.New("no successful response after retries"))
	}
	defer resp.Body.Close()

	var apiResponse struct {
		Intent     string          `json:"intent"`
		Confidence float64         `json:"confidence"`
		Entities   []models.Entity `json:"entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, stderrors.NewServiceMalformedResponseError(serviceName, err)
	}

	out := &models.Intent{
		Category:   models.ParseIntentCategory(apiResponse.Intent),
		Confidence: clamp01(apiResponse.Confidence),
		Entities:   apiResponse.Entities,
	}

	c.logger.Info("intent classified", map[string]interface{}{
		"intent":      string(out.Category),
		"confidence":  out.Confidence,
		"entityCount": len(out.Entities),
	})

	return out, nil
}

// MergeEntities combines classifier entities with normalizer entities; the
// classifier wins on (type, value) conflicts, the normalizer fills gaps.
func MergeEntities(classified, extracted []models.Entity) []models.Entity {
	merged := make([]models.Entity, 0, len(classified)+len(extracted))
	seen := make(map[string]struct{}, len(classified))

	for _, e := range classified {
		key := string(e.Type) + ":" + e.Value
		seen[key] = struct{}{}
		merged = append(merged, e)
	}
	for _, e := range extracted {
		key := string(e.Type) + ":" + e.Value
		if _, dup := seen[key]; dup {
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
