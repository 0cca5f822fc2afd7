// internal/server/server.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nlq-router/internal/common/config"
	"nlq-router/internal/common/logger"
)

// HealthChecker is one pingable dependency surfaced on /healthz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts the router's HTTP surface: the ask endpoint, health, and
// Prometheus metrics.
type Server struct {
	cfg     *config.Config
	engine  *gin.Engine
	http    *http.Server
	handler *AskHandler
	deps    map[string]HealthChecker
	logger  logger.Logger
}

func New(cfg *config.Config, handler *AskHandler, deps map[string]HealthChecker, log logger.Logger) *Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		handler: handler,
		deps:    deps,
		logger: log.WithFields(map[string]interface{}{
			"component": "http-server",
		}),
	}
	s.routes()

	s.http = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Millisecond,
	}

	return s
}

func (s *Server) routes() {
	s.engine.POST("/api/v1/ask", s.handler.Ask)
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// health pings every registered dependency with a short deadline and reports
// per-dependency status. Any failing dependency degrades the overall status
// to 503.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps))
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}

	c.JSON(status, gin.H{
		"service": s.cfg.App.Name,
		"version": s.cfg.App.Version,
		"checks":  checks,
	})
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{
		"address": s.cfg.Server.Address,
	})
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Engine exposes the gin engine for httptest-based tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
