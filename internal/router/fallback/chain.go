// internal/router/fallback/chain.go
package fallback

import (
	"context"
	"fmt"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

// Handler is one strategy in the fallback chain. A handler may return a nil
// decision to decline without error.
type Handler interface {
	Name() string
	Handle(ctx context.Context, nq models.NormalizedQuery, reqCtx models.RequestContext) (*models.RouteDecision, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, nq models.NormalizedQuery, reqCtx models.RequestContext) (*models.RouteDecision, error)
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, nq models.NormalizedQuery, reqCtx models.RequestContext) (*models.RouteDecision, error) {
	return h.Fn(ctx, nq, reqCtx)
}

// Chain walks handlers in priority order and returns the first decision whose
// confidence clears the minimum. Handler errors and panics score zero and the
// walk continues; only chain exhaustion is an error.
type Chain struct {
	handlers      []Handler
	minConfidence float64
	logger        logger.Logger
}

func NewChain(minConfidence float64, log logger.Logger, handlers ...Handler) *Chain {
	return &Chain{
		handlers:      handlers,
		minConfidence: minConfidence,
		logger: log.WithFields(map[string]interface{}{
			"component": "fallback-chain",
		}),
	}
}

// Execute runs the chain. The terminal outcome when every handler declines is
// a NO_ROUTE_FOUND error; the caller maps that to an error-source response.
func (c *Chain) Execute(ctx context.Context, nq models.NormalizedQuery, reqCtx models.RequestContext) (*models.RouteDecision, error) {
	for _, h := range c.handlers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, err := c.safeHandle(ctx, h, nq, reqCtx)
		if err != nil {
			c.logger.Warn("fallback handler failed, continuing", map[string]interface{}{
				"handler": h.Name(),
				"error":   err.Error(),
			})
			continue
		}
		if decision == nil {
			continue
		}
		if decision.Confidence > c.minConfidence {
			return decision, nil
		}
		c.logger.Debug("fallback handler below confidence floor", map[string]interface{}{
			"handler":    h.Name(),
			"confidence": decision.Confidence,
		})
	}
	return nil, stderrors.NewNoRouteFoundError(nq.Original)
}

// safeHandle converts a handler panic into an error so one bad strategy never
// takes down the request.
func (c *Chain) safeHandle(ctx context.Context, h Handler, nq models.NormalizedQuery, reqCtx models.RequestContext) (decision *models.RouteDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = nil
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Handle(ctx, nq, reqCtx)
}
