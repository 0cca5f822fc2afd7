// internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/common/validation"
	"nlq-router/internal/models"
)

// maxBodyBytes bounds the raw request body before any parsing happens.
const maxBodyBytes = 1 << 20

// AskPipeline is the slice of the router the handler consumes; tests
// substitute a stub.
type AskPipeline interface {
	Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error)
}

// AskHandler adapts the pipeline to HTTP.
type AskHandler struct {
	pipeline AskPipeline
	logger   logger.Logger
}

func NewAskHandler(pipeline AskPipeline, log logger.Logger) *AskHandler {
	return &AskHandler{
		pipeline: pipeline,
		logger: log.WithFields(map[string]interface{}{
			"component": "ask-handler",
		}),
	}
}

// Ask handles POST /api/v1/ask: schema-validate, decode, run the pipeline,
// and map typed errors onto status codes.
func (h *AskHandler) Ask(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			ErrorKind: "INVALID_REQUEST",
			Message:   "could not read request body",
		})
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			ErrorKind: "INVALID_REQUEST",
			Message:   "request body is not valid JSON",
		})
		return
	}
	if err := validation.ValidateAskRequest(raw); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			ErrorKind: "INVALID_REQUEST",
			Message:   err.Error(),
		})
		return
	}

	var req models.AskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			ErrorKind: "INVALID_REQUEST",
			Message:   "request body does not match the ask contract",
		})
		return
	}

	resp, err := h.pipeline.Ask(c.Request.Context(), req)
	if err != nil {
		code := stderrors.CodeOf(err)
		status := stderrors.HTTPStatus(code)
		kind := string(code)
		if kind == "" {
			kind = "INTERNAL"
		}
		h.logger.Warn("ask request failed", map[string]interface{}{
			"error_kind": kind,
			"status":     status,
			"error":      err.Error(),
		})
		c.JSON(status, models.ErrorResponse{
			ErrorKind: kind,
			Message:   userMessage(err),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// userMessage strips internal detail from errors before they leave the
// service; the typed kind is enough for callers to branch on.
func userMessage(err error) string {
	var stdErr *stderrors.StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Message
	}
	return "request failed"
}
