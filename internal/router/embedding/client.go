// internal/router/embedding/client.go
package embedding

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
)

const serviceName = "embedding"

// Service is the narrow contract the pipeline depends on.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client wraps the external embedding service over HTTP.
type Client struct {
	config *config.ServiceConfig
	dims   int
	client *http.Client
	logger logger.Logger
}

func NewClient(cfg *config.ServiceConfig, dims int, log logger.Logger) *Client {
	return &Client{
		config: cfg,
		dims:   dims,
		client: &http.Client{
			Timeout: config.GetDuration(cfg.Timeout),
		},
		logger: log.WithFields(map[string]interface{}{
			"service": serviceName,
		}),
	}
}

// Embed produces a fixed-length vector for the given text. Timeouts and
// transport failures surface as typed errors; no default vector is ever
// substituted.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, config.GetDuration(c.config.Timeout))
	defer cancel()

	requestBody := map[string]interface{}{
		"input": text,
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

		req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/v1/embeddings", bytes.NewBuffer(body))
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
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, stderrors.NewServiceMalformedResponseError(serviceName, err)
	}

	if len(apiResponse.Embedding) != c.dims {
		return nil, stderrors.NewServiceMalformedResponseError(serviceName,
			fmt.Errorf("expected %d dimensions, got %d", c.dims, len(apiResponse.Embedding)))
	}

	c.logger.Debug("embedding produced", map[string]interface{}{
		"dims": len(apiResponse.Embedding),
	})

	return apiResponse.Embedding, nil
}
