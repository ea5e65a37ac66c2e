// Package pipeline owns the end-to-end control flow: cache lookup, stage
// sequencing, degradation policy, timing, and result assembly. It is the
// only component that mutates the in-progress PipelineResult.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/quorum/internal/aggregate"
	"github.com/ppiankov/quorum/internal/cache"
	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
	"github.com/ppiankov/quorum/internal/stage"
	"github.com/ppiankov/quorum/internal/worker"
)

// Pipeline is the orchestrator for the five-stage consensus process.
type Pipeline struct {
	cfg       *model.Config
	cache     cache.Cache
	reg       *gateway.Registry
	opinions  *stage.Opinions
	extractor *stage.Extractor
	reviewers *stage.Reviewers
	synthesis *stage.Synthesis

	totalQueries      atomic.Int64
	successfulQueries atomic.Int64
	failedQueries     atomic.Int64
	cacheHits         atomic.Int64
	processingNanos   atomic.Int64
}

// New builds a pipeline from configuration.
func New(cfg *model.Config) (*Pipeline, error) {
	if len(cfg.Models.FirstOpinion) == 0 {
		return nil, fmt.Errorf("no first-opinion models configured")
	}
	if len(cfg.Models.Reviewers) == 0 {
		return nil, fmt.Errorf("no reviewer models configured")
	}

	reg, err := gateway.NewRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("build gateway registry: %w", err)
	}

	var c cache.Cache
	if cfg.Cache.Dir != "" {
		c = cache.NewLayeredCache(cfg.Cache.TTL, cfg.Cache.Dir, cfg.Cache.TTL)
	} else {
		c = cache.NewMemoryCache(cfg.Cache.TTL, 10*time.Minute)
	}

	return &Pipeline{
		cfg:       cfg,
		cache:     c,
		reg:       reg,
		opinions:  stage.NewOpinions(reg, cfg.Models.FirstOpinion),
		extractor: stage.NewExtractor(reg, cfg.Models.Extractor),
		reviewers: stage.NewReviewers(reg, cfg.Models.Reviewers),
		synthesis: stage.NewSynthesis(reg, cfg.Models.Chairman, cfg.Pipeline.FallbackPenalty),
	}, nil
}

// Submit runs one query through the full pipeline, or serves it from
// cache. Only stage-1 total failure is fatal; every later stage degrades
// through its fallback and records errors/warnings in the metadata.
func (p *Pipeline) Submit(ctx context.Context, query string, opts model.Options) (*model.PipelineResult, error) {
	start := time.Now()
	requestID := uuid.NewString()
	p.totalQueries.Add(1)

	query, err := p.validateQuery(query)
	if err != nil {
		p.failedQueries.Add(1)
		queriesTotal.WithLabelValues("invalid").Inc()
		return nil, &Error{Kind: ErrInvalidQuery, Message: err.Error(), RequestID: requestID}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = model.DefaultOptions().Timeout
	}

	useCache := opts.UseCache && p.cfg.Cache.Enabled
	key := cache.Key(query, opts)
	if useCache {
		if result, ok := p.lookup(key); ok {
			p.cacheHits.Add(1)
			cacheHitsTotal.Inc()
			queriesTotal.WithLabelValues("cache_hit").Inc()
			p.logf("[%s] cache hit\n", requestID)
			return result, nil
		}
	}

	timings := make(map[string]float64)
	var allErrors, allWarnings []string

	// Stage 1: first opinions. The only stage whose failure aborts the
	// request.
	stageStart := time.Now()
	opinions, errs, err := p.opinions.Run(ctx, query, opts)
	p.record("stage1", stageStart, timings)
	allErrors = append(allErrors, errs...)
	if err != nil {
		p.failedQueries.Add(1)
		queriesTotal.WithLabelValues("failed").Inc()
		p.logf("[%s] stage1 failed: %v\n", requestID, err)
		return nil, &Error{
			Kind:           ErrStageMinimumNotMet,
			Stage:          "stage1",
			Message:        err.Error(),
			RequestID:      requestID,
			ProcessingTime: time.Since(start).Seconds(),
			StageTimings:   timings,
			Errors:         allErrors,
			Cause:          err,
		}
	}

	// Stage 2: claim extraction, sequential, with local fallback.
	stageStart = time.Now()
	claims, warns := p.extractor.Run(ctx, opinions, opts)
	p.record("paraphrase", stageStart, timings)
	allWarnings = append(allWarnings, warns...)

	// Stage 3: peer review. Degrades to synthetic UNCERTAIN verdicts on
	// total failure; a strict-mode reviewer failure degrades the same
	// way rather than aborting the request.
	stageStart = time.Now()
	var verdicts []model.VerdictSet
	if len(claims) == 0 {
		allWarnings = append(allWarnings, "no claims extracted, skipping peer review")
	} else {
		var revErrs, revWarns []string
		verdicts, revErrs, revWarns, err = p.reviewers.Run(ctx, query, claims, opts)
		allErrors = append(allErrors, revErrs...)
		allWarnings = append(allWarnings, revWarns...)
		if err != nil {
			allWarnings = append(allWarnings, fmt.Sprintf("review stage failed, marking every claim UNCERTAIN: %v", err))
			verdicts = []model.VerdictSet{stage.SyntheticVerdicts(claims)}
		}
	}
	p.record("review", stageStart, timings)

	// Stage 4: aggregation, pure and synchronous.
	stageStart = time.Now()
	agg := aggregate.Aggregate(claims, verdicts)
	p.record("aggregation", stageStart, timings)

	// Stage 5: chairman synthesis, with concatenation fallback.
	stageStart = time.Now()
	finalAnswer, warns := p.synthesis.Run(ctx, query, opinions, claims, verdicts, agg, opts)
	p.record("chairman", stageStart, timings)
	allWarnings = append(allWarnings, warns...)

	result := &model.PipelineResult{
		Query:             query,
		Stage1Opinions:    opinions,
		ParaphrasedClaims: claims,
		ReviewerVerdicts:  verdicts,
		Aggregation:       agg,
		FinalAnswer:       finalAnswer,
		Metadata: model.Metadata{
			RequestID:      requestID,
			ProcessingTime: time.Since(start).Seconds(),
			ModelsUsed:     p.reg.Names(),
			CacheHit:       false,
			Errors:         orEmpty(allErrors),
			Warnings:       orEmpty(allWarnings),
			StageTimings:   timings,
			Timestamp:      time.Now().UTC(),
		},
	}

	if useCache {
		p.store(key, result)
	}

	p.successfulQueries.Add(1)
	p.processingNanos.Add(int64(time.Since(start)))
	queriesTotal.WithLabelValues("success").Inc()
	p.logf("[%s] pipeline completed in %.2fs\n", requestID, result.Metadata.ProcessingTime)
	return result, nil
}

func (p *Pipeline) validateQuery(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < p.cfg.Pipeline.MinQueryLength {
		return "", fmt.Errorf("query must be at least %d characters", p.cfg.Pipeline.MinQueryLength)
	}
	if len(trimmed) > p.cfg.Pipeline.MaxQueryLength {
		return "", fmt.Errorf("query must be at most %d characters", p.cfg.Pipeline.MaxQueryLength)
	}
	return trimmed, nil
}

func (p *Pipeline) lookup(key string) (*model.PipelineResult, bool) {
	data, found := p.cache.Get(key)
	if !found {
		return nil, false
	}
	var result model.PipelineResult
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt entry degrades to a miss.
		_ = p.cache.Delete(key)
		return nil, false
	}
	result.Metadata.CacheHit = true
	return &result, true
}

func (p *Pipeline) store(key string, result *model.PipelineResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.cache.Set(key, data, p.cfg.Cache.TTL); err != nil {
		p.logf("cache store failed: %v\n", err)
	}
}

func (p *Pipeline) record(name string, start time.Time, timings map[string]float64) {
	d := time.Since(start).Seconds()
	timings[name] = d
	stageSeconds.WithLabelValues(name).Observe(d)
}

// Health probes every configured endpoint concurrently.
func (p *Pipeline) Health(ctx context.Context) model.Health {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	names := p.reg.Names()
	tasks := make([]worker.Task[bool], len(names))
	for i, name := range names {
		tasks[i] = func(ctx context.Context) (bool, error) {
			return p.reg.Healthy(ctx, name), nil
		}
	}
	outcomes := worker.Settle(ctx, true, tasks)

	models := make(map[string]string, len(names))
	online := 0
	for i, out := range outcomes {
		status := "offline"
		if out.Err == nil && out.Value {
			status = "online"
			online++
		}
		models[names[i]] = status
	}

	overall := "unhealthy"
	switch {
	case online == len(names):
		overall = "healthy"
	case online*2 >= len(names):
		overall = "degraded"
	}

	return model.Health{Status: overall, Models: models, Timestamp: time.Now().UTC()}
}

// Statistics snapshots the orchestrator counters.
func (p *Pipeline) Statistics() model.Statistics {
	successful := p.successfulQueries.Load()
	var avg float64
	if successful > 0 {
		avg = time.Duration(p.processingNanos.Load()).Seconds() / float64(successful)
	}
	return model.Statistics{
		TotalQueries:          p.totalQueries.Load(),
		SuccessfulQueries:     successful,
		FailedQueries:         p.failedQueries.Load(),
		CacheHits:             p.cacheHits.Load(),
		AverageProcessingTime: avg,
		CacheStats:            p.cache.Stats(),
	}
}

// ClearCache empties the result cache.
func (p *Pipeline) ClearCache() error {
	return p.cache.Clear()
}

// IsFatal reports whether err is a pipeline-fatal typed error.
func IsFatal(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

