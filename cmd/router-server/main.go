// cmd/router-server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nlq-router/internal/audit"
	"nlq-router/internal/common/config"
	"nlq-router/internal/common/database"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/common/observability"
	"nlq-router/internal/datalayer"
	"nlq-router/internal/router"
	"nlq-router/internal/router/cache"
	"nlq-router/internal/router/embedding"
	"nlq-router/internal/router/intent"
	"nlq-router/internal/router/monitor"
	"nlq-router/internal/router/normalizer"
	"nlq-router/internal/router/querybuilder"
	"nlq-router/internal/router/recovery"
	"nlq-router/internal/router/selector"
	"nlq-router/internal/router/similarity"
	"nlq-router/internal/router/specgen"
	"nlq-router/internal/server"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting query router...",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	// --- Init Postgres with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return pg.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Postgres initialization")
	if err != nil {
		zapLog.Fatal("postgres init failed", zap.Error(err))
	}
	defer pg.Close()

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Redis initialization")
	if err != nil {
		zapLog.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()

	// --- Init Elasticsearch with retry ---
	var es *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return es.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Elasticsearch initialization")
	if err != nil {
		zapLog.Fatal("elasticsearch init failed", zap.Error(err))
	}

	// --- Wire components ---
	auditSink := audit.NewSink(pg.GetDB(), 256, log)
	defer auditSink.Close()

	cacheMgr := cache.NewManager(rdb.GetClient(), cfg.Cache, log)
	simStore := similarity.NewESStore(es.Client, cfg.Database.Elasticsearch.Index, log)
	norm := normalizer.New(cfg.Router.MaxQueryLength, cfg.Router.MaxInputTokens)
	embedder := embedding.NewClient(&cfg.Services.Embedding, cfg.Router.EmbeddingDims, log)
	classifier := intent.NewClient(&cfg.Services.Classifier, log)
	sel := selector.New(selector.Thresholds{
		Direct:          cfg.Router.DirectConfidence,
		SimilarityReuse: cfg.Router.SimilarityReuse,
		Intent:          cfg.Router.IntentConfidence,
		KeywordFraction: cfg.Router.KeywordMatchFraction,
	}, log)
	gen := specgen.New(cfg.Security.DefaultCeiling, log)
	builder := querybuilder.New(auditSink, log)
	executor := datalayer.NewPostgresExecutor(pg.GetDB(), log)
	recoveryMgr := recovery.New(auditSink, log)
	perfMonitor := monitor.New(cacheMgr, time.Minute, log)
	feedback := router.NewFeedbackUpdater(simStore, cfg.Router.FeedbackBuffer, log)
	defer feedback.Close()

	pipeline := router.NewPipeline(cfg, router.PipelineDeps{
		Normalizer: norm,
		Embedder:   embedder,
		Classifier: classifier,
		Store:      simStore,
		Cache:      cacheMgr,
		Selector:   sel,
		Generator:  gen,
		Builder:    builder,
		Executor:   executor,
		Recovery:   recoveryMgr,
		Monitor:    perfMonitor,
		Feedback:   feedback,
		Obs:        obs,
	}, log)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go perfMonitor.Run(monitorCtx)

	handler := server.NewAskHandler(pipeline, log)
	srv := server.New(cfg, handler, map[string]server.HealthChecker{
		"postgres":      pg,
		"redis":         rdb,
		"elasticsearch": es,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	case sig := <-stop:
		zapLog.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("graceful shutdown failed", zap.Error(err))
	}

	zapLog.Info("query router stopped")
}
