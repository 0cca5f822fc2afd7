// internal/router/pipeline.go
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"nlq-router/internal/common/config"
	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/common/metrics"
	"nlq-router/internal/common/observability"
	"nlq-router/internal/datalayer"
	"nlq-router/internal/models"
	"nlq-router/internal/router/cache"
	"nlq-router/internal/router/embedding"
	"nlq-router/internal/router/fallback"
	"nlq-router/internal/router/intent"
	"nlq-router/internal/router/monitor"
	"nlq-router/internal/router/normalizer"
	"nlq-router/internal/router/querybuilder"
	"nlq-router/internal/router/recovery"
	"nlq-router/internal/router/selector"
	"nlq-router/internal/router/similarity"
	"nlq-router/internal/router/specgen"
)

// Pipeline wires the full ask path: normalize, understand (embedding +
// intent in parallel), route, generate, validate, execute, respond. One
// Pipeline serves all requests concurrently; per-request state lives on the
// stack.
type Pipeline struct {
	cfg        *config.Config
	normalizer *normalizer.Normalizer
	embedder   embedding.Service
	classifier intent.Service
	store      similarity.Store
	cache      *cache.Manager
	selector   *selector.Selector
	generator  *specgen.Generator
	builder    *querybuilder.Builder
	executor   datalayer.Executor
	recovery   *recovery.Manager
	monitor    *monitor.Monitor
	feedback   *FeedbackUpdater
	obs        *observability.Observability
	logger     logger.Logger
}

type PipelineDeps struct {
	Normalizer *normalizer.Normalizer
	Embedder   embedding.Service
	Classifier intent.Service
	Store      similarity.Store
	Cache      *cache.Manager
	Selector   *selector.Selector
	Generator  *specgen.Generator
	Builder    *querybuilder.Builder
	Executor   datalayer.Executor
	Recovery   *recovery.Manager
	Monitor    *monitor.Monitor
	Feedback   *FeedbackUpdater
	Obs        *observability.Observability
}

func NewPipeline(cfg *config.Config, deps PipelineDeps, log logger.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		normalizer: deps.Normalizer,
		embedder:   deps.Embedder,
		classifier: deps.Classifier,
		store:      deps.Store,
		cache:      deps.Cache,
		selector:   deps.Selector,
		generator:  deps.Generator,
		builder:    deps.Builder,
		executor:   deps.Executor,
		recovery:   deps.Recovery,
		monitor:    deps.Monitor,
		feedback:   deps.Feedback,
		obs:        deps.Obs,
		logger: log.WithFields(map[string]interface{}{
			"component": "pipeline",
		}),
	}
}

type embedResult struct {
	vector []float32
	err    error
}

type classifyResult struct {
	intent *models.Intent
	err    error
}

// Ask runs one request through the pipeline. Fatal errors (oversized input,
// security rejections, exhausted retries) return as typed errors; everything
// else degrades to a response, possibly low-confidence.
func (p *Pipeline) Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error) {
	reqCtx := models.RequestContext{}
	if req.Context != nil {
		reqCtx = *req.Context
	}
	ceiling := p.cfg.Security.CeilingFor(reqCtx.Role)

	reqStart := time.Now()
	outcome, routeSource := "error", ""
	defer func() {
		p.obs.RecordRequestProcessed(ctx, outcome, routeSource)
		p.obs.RecordRequestDuration(ctx, time.Since(reqStart), outcome)
	}()

	// Stage 1: normalize. The only stage whose failure is always fatal.
	start := time.Now()
	nq, err := p.normalizer.Normalize(req.Prompt)
	p.monitor.ObserveStage("normalize", time.Since(start))
	if err != nil {
		metrics.StageErrors.WithLabelValues("normalize", string(stderrors.CodeOf(err))).Inc()
		return nil, err
	}

	// Merge dashboard filters into request filters; explicit request filters
	// win on conflict.
	filters := mergeFilters(reqCtx.ActiveFilters, req.Filters)

	// Result cache consult before any remote call: identical question from
	// the same tenant/role/filters reuses the whole response.
	resultKey := p.resultKey(nq.Cleaned, reqCtx.TenantID, reqCtx.Role, filters)
	if cached, hit, _ := p.cache.Get(ctx, models.CacheQueryResult, resultKey); hit {
		p.monitor.ObserveCache(models.CacheQueryResult, true)
		var resp models.AskResponse
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			resp.CacheHit = true
			outcome, routeSource = "success", "cache"
			metrics.RouterRequestsTotal.WithLabelValues("success").Inc()
			return &resp, nil
		}
	}
	p.monitor.ObserveCache(models.CacheQueryResult, false)

	// Stage 2: embedding and intent classification run concurrently; the
	// selector needs both before its first three rules.
	embedCh := make(chan embedResult, 1)
	classifyCh := make(chan classifyResult, 1)

	go func() {
		s := time.Now()
		vec, err := p.embedText(ctx, nq.Cleaned)
		p.monitor.ObserveStage("embedding", time.Since(s))
		embedCh <- embedResult{vector: vec, err: err}
	}()
	go func() {
		s := time.Now()
		it, err := p.classifier.Classify(ctx, p.normalizer.TruncateForService(nq.Cleaned), &reqCtx)
		p.monitor.ObserveStage("intent", time.Since(s))
		classifyCh <- classifyResult{intent: it, err: err}
	}()

	emb := <-embedCh
	cls := <-classifyCh
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var queryIntent *models.Intent
	if cls.err != nil {
		metrics.StageErrors.WithLabelValues("intent", string(stderrors.CodeOf(cls.err))).Inc()
		p.recovery.OnStageFailure("intent", reqCtx.TenantID, cls.err)
	} else {
		queryIntent = cls.intent
		queryIntent.Entities = intent.MergeEntities(queryIntent.Entities, nq.Entities)
	}

	var similar []models.SimilarityResult
	if emb.err != nil {
		metrics.StageErrors.WithLabelValues("embedding", string(stderrors.CodeOf(emb.err))).Inc()
		p.recovery.OnStageFailure("embedding", reqCtx.TenantID, emb.err)
	} else {
		similar = p.findSimilar(ctx, reqCtx.TenantID, emb.vector)
	}

	// Stage 3: route selection through the fallback chain. The selector's
	// ordered rules run first (rule 4, keyword, works from the normalizer
	// output alone, so total service loss still routes); the exploratory
	// handler catches entity-bearing queries nothing else claimed; chain
	// exhaustion becomes the terminal error decision, never a silent guess.
	inputs := selector.Inputs{
		Normalized: *nq,
		Intent:     queryIntent,
		Similar:    similar,
		Filters:    filters,
	}
	chain := fallback.NewChain(p.cfg.Router.FallbackConfidence, p.logger,
		fallback.HandlerFunc{
			HandlerName: "selector",
			Fn: func(ctx context.Context, _ models.NormalizedQuery, _ models.RequestContext) (*models.RouteDecision, error) {
				return p.selector.Select(inputs)
			},
		},
		fallback.HandlerFunc{
			HandlerName: "exploratory",
			Fn: func(ctx context.Context, _ models.NormalizedQuery, _ models.RequestContext) (*models.RouteDecision, error) {
				return p.selector.Exploratory(inputs), nil
			},
		},
	)
	decision, err := chain.Execute(ctx, *nq, reqCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		decision = &models.RouteDecision{
			HandlerRef: "handler.terminal",
			Confidence: 0,
			Source:     models.SourceError,
			Spec:       models.Spec{SchemaVersion: models.SpecSchemaVersion},
		}
	}
	metrics.RouteDecisions.WithLabelValues(string(decision.Source)).Inc()

	// Terminal route: report honestly that no confident route exists. No
	// query runs and nothing is fabricated.
	if decision.Source == models.SourceError {
		outcome, routeSource = "degraded", string(decision.Source)
		metrics.RouterRequestsTotal.WithLabelValues("degraded").Inc()
		p.monitor.ObserveRequest(false)
		return &models.AskResponse{
			Spec:          p.generator.Generate(decision.Spec, *nq, queryIntent, ceiling),
			Explanation:   "Could not confidently answer this question; try rephrasing or adding a brand, category, or region.",
			LowConfidence: true,
		}, nil
	}

	// Stage 4: spec generation is total; it completes whatever the route
	// left unspecified and clamps row_limit to the role ceiling. Keyword and
	// template routes share one base spec per intent, so a cached template
	// seeds the decision before generation fills the request-specific slots.
	templateKey := ""
	if decision.Source == models.SourceKeyword || decision.Source == models.SourceTemplate {
		templateKey = cache.TextKey(models.CacheSpecTemplate, decision.HandlerRef)
		if cached, hit, _ := p.cache.Get(ctx, models.CacheSpecTemplate, templateKey); hit {
			p.monitor.ObserveCache(models.CacheSpecTemplate, true)
			var tpl models.Spec
			if err := json.Unmarshal([]byte(cached), &tpl); err == nil {
				tpl.Filters = decision.Spec.Filters
				decision.Spec = tpl
			}
		} else {
			p.monitor.ObserveCache(models.CacheSpecTemplate, false)
		}
	}
	spec := p.generator.Generate(decision.Spec, *nq, queryIntent, ceiling)

	// Stage 5: validate and compile. Security rejections are fatal.
	start = time.Now()
	compiled, err := p.builder.Build(spec, reqCtx.TenantID, ceiling)
	p.monitor.ObserveStage("build", time.Since(start))
	if err != nil {
		metrics.StageErrors.WithLabelValues("build", string(stderrors.CodeOf(err))).Inc()
		metrics.RouterRequestsTotal.WithLabelValues("error").Inc()
		p.monitor.ObserveRequest(false)
		return nil, err
	}

	// Stage 6: execute, with one simplified retry on failure.
	rows, execErr := p.execute(ctx, reqCtx.TenantID, ceiling, spec, compiled)
	if execErr != nil {
		metrics.RouterRequestsTotal.WithLabelValues("error").Inc()
		p.monitor.ObserveRequest(false)
		return nil, execErr
	}

	lowConfidence := !(decision.Confidence > p.cfg.Router.FallbackConfidence)

	resp := &models.AskResponse{
		Spec:            spec,
		QueryDescriptor: compiled.Descriptor,
		Explanation:     explain(decision, len(rows)),
		LowConfidence:   lowConfidence,
		Rows:            rows,
	}

	if body, err := json.Marshal(resp); err == nil {
		if err := p.cache.Set(ctx, models.CacheQueryResult, resultKey, string(body)); err != nil {
			p.logger.Warn("result cache write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	// Warm the template layer: the spec minus its request-specific slots is
	// the reusable shape for every future hit on the same keyword handler.
	// Filters, grain and limit stay empty so generation re-derives them per
	// request (the limit against the caller's own role ceiling).
	if templateKey != "" {
		tpl := spec
		tpl.Filters = nil
		tpl.TimeGrain = ""
		tpl.RowLimit = 0
		if body, err := json.Marshal(tpl); err == nil {
			if err := p.cache.Set(ctx, models.CacheSpecTemplate, templateKey, string(body)); err != nil {
				p.logger.Warn("template cache write failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}

	// Feedback never blocks the response.
	p.feedback.Offer(FeedbackEvent{
		Decision:   *decision,
		Spec:       spec,
		Normalized: *nq,
		Vector:     emb.vector,
		Intent:     queryIntent,
		Succeeded:  true,
	})

	outcome, routeSource = "success", string(decision.Source)
	if lowConfidence {
		outcome = "degraded"
	}
	metrics.RouterRequestsTotal.WithLabelValues(outcome).Inc()
	p.monitor.ObserveRequest(true)

	return resp, nil
}

// embedText consults the embedding cache before calling the remote service.
func (p *Pipeline) embedText(ctx context.Context, text string) ([]float32, error) {
	key := cache.TextKey(models.CacheEmbedding, text)
	if cached, hit, _ := p.cache.Get(ctx, models.CacheEmbedding, key); hit {
		p.monitor.ObserveCache(models.CacheEmbedding, true)
		var vec []float32
		if err := json.Unmarshal([]byte(cached), &vec); err == nil {
			return vec, nil
		}
	}
	p.monitor.ObserveCache(models.CacheEmbedding, false)

	vec, err := p.embedder.Embed(ctx, p.normalizer.TruncateForService(text))
	if err != nil {
		return nil, err
	}
	if body, err := json.Marshal(vec); err == nil {
		_ = p.cache.Set(ctx, models.CacheEmbedding, key, string(body))
	}
	return vec, nil
}

// findSimilar consults the similarity cache, then the store. Store outages
// degrade to no matches; the selector falls through to intent or keyword.
func (p *Pipeline) findSimilar(ctx context.Context, tenantID string, vector []float32) []models.SimilarityResult {
	key := cache.VectorKey(models.CacheSimilarity, vector)
	if cached, hit, _ := p.cache.Get(ctx, models.CacheSimilarity, key); hit {
		p.monitor.ObserveCache(models.CacheSimilarity, true)
		var results []models.SimilarityResult
		if err := json.Unmarshal([]byte(cached), &results); err == nil {
			return results
		}
	}
	p.monitor.ObserveCache(models.CacheSimilarity, false)

	start := time.Now()
	results, err := p.store.FindSimilar(ctx, vector, p.cfg.Router.SimilarityThreshold, p.cfg.Router.SimilarityLimit)
	p.monitor.ObserveStage("similarity", time.Since(start))
	if err != nil {
		metrics.StageErrors.WithLabelValues("similarity", string(stderrors.CodeOf(err))).Inc()
		p.recovery.OnStageFailure("similarity", tenantID, err)
		return nil
	}

	if body, err := json.Marshal(results); err == nil {
		_ = p.cache.Set(ctx, models.CacheSimilarity, key, string(body))
	}
	return results
}

// execute runs the compiled query; a retryable failure gets exactly one more
// attempt with a simplified spec before surfacing.
func (p *Pipeline) execute(ctx context.Context, tenantID string, ceiling int, spec models.Spec, compiled *models.CompiledQuery) ([]map[string]interface{}, error) {
	start := time.Now()
	rows, err := p.executor.Execute(ctx, compiled)
	p.monitor.ObserveStage("execute", time.Since(start))
	if err == nil {
		return rows, nil
	}

	metrics.StageErrors.WithLabelValues("execute", string(stderrors.CodeOf(err))).Inc()
	if p.recovery.OnStageFailure("execute", tenantID, err) != recovery.ActionRetrySimplified {
		return nil, err
	}

	simplified := p.recovery.SimplifySpec(spec)
	recompiled, buildErr := p.builder.Build(simplified, tenantID, ceiling)
	if buildErr != nil {
		return nil, err
	}
	rows, retryErr := p.executor.Execute(ctx, recompiled)
	if retryErr != nil {
		return nil, retryErr
	}
	*compiled = *recompiled
	return rows, nil
}

func (p *Pipeline) resultKey(cleaned, tenantID, role string, filters map[string]string) string {
	h := sha256.New()
	h.Write([]byte(cleaned))
	h.Write([]byte{0})
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(role))
	for _, k := range sortedKeys(filters) {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(filters[k]))
	}
	return "nlq:result:" + hex.EncodeToString(h.Sum(nil))
}

func mergeFilters(active, explicit map[string]string) map[string]string {
	if len(active) == 0 && len(explicit) == 0 {
		return nil
	}
	out := make(map[string]string, len(active)+len(explicit))
	for k, v := range active {
		out[k] = v
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func explain(decision *models.RouteDecision, rowCount int) string {
	switch decision.Source {
	case models.SourceDirect:
		return fmt.Sprintf("Routed directly from classified intent (confidence %.2f), %d rows.", decision.Confidence, rowCount)
	case models.SourceSimilarity:
		return fmt.Sprintf("Reused the answer shape of a similar past question (similarity %.2f), %d rows.", decision.Confidence, rowCount)
	case models.SourceIntent:
		return fmt.Sprintf("Routed from intent template (confidence %.2f), %d rows.", decision.Confidence, rowCount)
	case models.SourceKeyword:
		return fmt.Sprintf("Matched keyword template (coverage %.2f), %d rows.", decision.Confidence, rowCount)
	default:
		return fmt.Sprintf("No confident route found; showing an exploratory view, %d rows.", rowCount)
	}
}
