package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/quorum/internal/model"
)

// completionServer fakes a llama.cpp-style endpoint whose generated text
// is the given JSON payload.
func completionServer(t *testing.T, payload string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		body, _ := json.Marshal(map[string]string{"content": payload})
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	return server
}

// councilConfig wires a two-opinion, two-reviewer council against fake
// completion servers.
func councilConfig(t *testing.T, opinionHits *atomic.Int64) *model.Config {
	t.Helper()

	opinion := completionServer(t, `{"answer_text":"Greenhouse gases trap heat in the atmosphere. Human activity emits carbon dioxide."}`, opinionHits)
	extractor := completionServer(t, `{"claims":["Greenhouse gases trap heat.","Human activity emits carbon dioxide."]}`, nil)
	reviewer := completionServer(t, `{"reviews":[
		{"claim_id":"claim_0","verdict":"CORRECT","reason":"established physics","confidence":0.95},
		{"claim_id":"claim_1","verdict":"CORRECT","reason":"measured directly","confidence":0.9},
		{"claim_id":"claim_2","verdict":"CORRECT","reason":"established physics","confidence":0.95},
		{"claim_id":"claim_3","verdict":"CORRECT","reason":"measured directly","confidence":0.9}
	]}`, nil)
	chairman := completionServer(t, `{"final_answer":"Climate change is driven by greenhouse gases from human activity.","supporting_claims":["alpha_claim_0"],"confidence":0.92}`, nil)

	cfg := model.DefaultConfig()
	cfg.Models = model.ModelsConfig{
		FirstOpinion: []model.Endpoint{
			{Name: "Alpha", Provider: "local", BaseURL: opinion.URL},
			{Name: "Beta", Provider: "local", BaseURL: opinion.URL},
		},
		Extractor: model.Endpoint{Name: "Extractor", Provider: "local", BaseURL: extractor.URL},
		Reviewers: []model.Endpoint{
			{Name: "ReviewerOne", Provider: "local", BaseURL: reviewer.URL},
			{Name: "ReviewerTwo", Provider: "local", BaseURL: reviewer.URL},
		},
		Chairman: model.Endpoint{Name: "Chairman", Provider: "local", BaseURL: chairman.URL},
	}
	cfg.Gateway.RequestsPerSecond = 1000
	cfg.Gateway.Burst = 1000
	return cfg
}

func TestPipeline_Submit_EndToEnd(t *testing.T) {
	p, err := New(councilConfig(t, nil))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	opts := model.DefaultOptions()
	opts.Timeout = 10
	opts.UseCache = false

	result, err := p.Submit(context.Background(), "What causes climate change?", opts)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(result.Stage1Opinions) != 2 {
		t.Errorf("Expected 2 opinions, got %d", len(result.Stage1Opinions))
	}
	if len(result.ParaphrasedClaims) != 4 {
		t.Errorf("Expected 4 claims, got %d", len(result.ParaphrasedClaims))
	}
	if result.ParaphrasedClaims[0].ClaimID != "alpha_claim_0" {
		t.Errorf("Expected first claim alpha_claim_0, got %s", result.ParaphrasedClaims[0].ClaimID)
	}
	if len(result.ReviewerVerdicts) != 2 {
		t.Errorf("Expected 2 verdict sets, got %d", len(result.ReviewerVerdicts))
	}

	// Both reviewers marked everything CORRECT: full consensus.
	if got := len(result.Aggregation.SupportedClaims); got != 4 {
		t.Errorf("Expected 4 supported claims, got %d", got)
	}
	if result.Aggregation.ConsensusScore != 1.0 {
		t.Errorf("Expected consensus score 1.0, got %f", result.Aggregation.ConsensusScore)
	}

	if result.FinalAnswer.FinalAnswer != "Climate change is driven by greenhouse gases from human activity." {
		t.Errorf("Unexpected final answer: %q", result.FinalAnswer.FinalAnswer)
	}

	if result.Metadata.RequestID == "" {
		t.Error("Expected a request ID")
	}
	if result.Metadata.CacheHit {
		t.Error("Expected cache miss on first run")
	}
	for _, stage := range []string{"stage1", "paraphrase", "review", "aggregation", "chairman"} {
		if _, ok := result.Metadata.StageTimings[stage]; !ok {
			t.Errorf("Missing stage timing %q", stage)
		}
	}
	if len(result.Metadata.Errors) != 0 {
		t.Errorf("Expected no errors, got %v", result.Metadata.Errors)
	}
}

func TestPipeline_Submit_CacheHit(t *testing.T) {
	var opinionHits atomic.Int64
	p, err := New(councilConfig(t, &opinionHits))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	opts := model.DefaultOptions()
	opts.Timeout = 10

	first, err := p.Submit(context.Background(), "What causes climate change?", opts)
	if err != nil {
		t.Fatalf("First submit failed: %v", err)
	}
	callsAfterFirst := opinionHits.Load()

	second, err := p.Submit(context.Background(), "  what causes CLIMATE change?  ", opts)
	if err != nil {
		t.Fatalf("Second submit failed: %v", err)
	}

	if !second.Metadata.CacheHit {
		t.Error("Expected cache hit on normalized repeat query")
	}
	if first.Metadata.CacheHit {
		t.Error("Expected first run to be a miss")
	}
	if opinionHits.Load() != callsAfterFirst {
		t.Error("Expected no model calls on cache hit")
	}
	if second.FinalAnswer.FinalAnswer != first.FinalAnswer.FinalAnswer {
		t.Error("Expected identical cached answer")
	}
}

func TestPipeline_Submit_InvalidQuery(t *testing.T) {
	p, err := New(councilConfig(t, nil))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = p.Submit(context.Background(), "  hi ", model.DefaultOptions())
	if err == nil {
		t.Fatal("Expected error for too-short query")
	}
	pe, ok := IsFatal(err)
	if !ok {
		t.Fatalf("Expected typed pipeline error, got %T", err)
	}
	if pe.Kind != ErrInvalidQuery {
		t.Errorf("Expected invalid_query kind, got %s", pe.Kind)
	}
}

func TestPipeline_Submit_Stage1TotalFailureIsFatal(t *testing.T) {
	cfg := councilConfig(t, nil)
	broken := failingServer(t)
	cfg.Models.FirstOpinion = []model.Endpoint{
		{Name: "Alpha", Provider: "local", BaseURL: broken.URL},
		{Name: "Beta", Provider: "local", BaseURL: broken.URL},
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	opts := model.DefaultOptions()
	opts.Timeout = 5
	opts.UseCache = false

	_, err = p.Submit(context.Background(), "What causes climate change?", opts)
	if err == nil {
		t.Fatal("Expected fatal error when every first-opinion model fails")
	}

	pe, ok := IsFatal(err)
	if !ok {
		t.Fatalf("Expected typed pipeline error, got %T", err)
	}
	if pe.Kind != ErrStageMinimumNotMet {
		t.Errorf("Expected stage_minimum_not_met, got %s", pe.Kind)
	}
	if pe.Stage != "stage1" {
		t.Errorf("Expected stage1, got %s", pe.Stage)
	}
	if _, ok := pe.StageTimings["stage1"]; !ok {
		t.Error("Expected stage1 timing on the error")
	}
	if len(pe.Errors) != 2 {
		t.Errorf("Expected one error per failed model, got %v", pe.Errors)
	}
}

func TestPipeline_Submit_ReviewerFailureDegrades(t *testing.T) {
	cfg := councilConfig(t, nil)
	broken := failingServer(t)
	cfg.Models.Reviewers = []model.Endpoint{
		{Name: "ReviewerOne", Provider: "local", BaseURL: broken.URL},
		{Name: "ReviewerTwo", Provider: "local", BaseURL: broken.URL},
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	opts := model.DefaultOptions()
	opts.Timeout = 5
	opts.UseCache = false

	result, err := p.Submit(context.Background(), "What causes climate change?", opts)
	if err != nil {
		t.Fatalf("Expected degraded success, got %v", err)
	}

	// All reviewers down: one synthetic verdict set, everything UNCERTAIN.
	if len(result.ReviewerVerdicts) != 1 || result.ReviewerVerdicts[0].ReviewerName != "synthetic" {
		t.Fatalf("Expected synthetic verdict set, got %+v", result.ReviewerVerdicts)
	}
	if got := len(result.Aggregation.UncertainClaims); got != 4 {
		t.Errorf("Expected 4 uncertain claims, got %d", got)
	}
	if len(result.Metadata.Warnings) == 0 {
		t.Error("Expected degradation warnings")
	}
	if len(result.Metadata.Errors) != 2 {
		t.Errorf("Expected one error per failed reviewer, got %v", result.Metadata.Errors)
	}
}

func TestPipeline_Submit_ChairmanFailureUsesFallback(t *testing.T) {
	cfg := councilConfig(t, nil)
	broken := failingServer(t)
	cfg.Models.Chairman = model.Endpoint{Name: "Chairman", Provider: "local", BaseURL: broken.URL}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	opts := model.DefaultOptions()
	opts.Timeout = 5
	opts.UseCache = false

	result, err := p.Submit(context.Background(), "What causes climate change?", opts)
	if err != nil {
		t.Fatalf("Expected fallback success, got %v", err)
	}

	// Fallback concatenates supported claims; consensus was unanimous so
	// confidence is the score scaled by the penalty.
	if result.FinalAnswer.FinalAnswer == "" {
		t.Error("Expected non-empty fallback answer")
	}
	if result.FinalAnswer.Confidence != 0.75 {
		t.Errorf("Expected fallback confidence 0.75, got %f", result.FinalAnswer.Confidence)
	}
	if len(result.Metadata.Warnings) != 1 {
		t.Errorf("Expected exactly one fallback warning, got %v", result.Metadata.Warnings)
	}
}

func TestPipeline_Statistics(t *testing.T) {
	p, err := New(councilConfig(t, nil))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	opts := model.DefaultOptions()
	opts.Timeout = 10
	opts.UseCache = false

	if _, err := p.Submit(context.Background(), "What causes climate change?", opts); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := p.Submit(context.Background(), "hi", opts); err == nil {
		t.Fatal("Expected invalid query to fail")
	}

	stats := p.Statistics()
	if stats.TotalQueries != 2 {
		t.Errorf("Expected 2 total queries, got %d", stats.TotalQueries)
	}
	if stats.SuccessfulQueries != 1 {
		t.Errorf("Expected 1 successful query, got %d", stats.SuccessfulQueries)
	}
	if stats.FailedQueries != 1 {
		t.Errorf("Expected 1 failed query, got %d", stats.FailedQueries)
	}
	if stats.AverageProcessingTime <= 0 {
		t.Error("Expected positive average processing time")
	}
}

func TestPipeline_Health(t *testing.T) {
	cfg := councilConfig(t, nil)
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health := p.Health(ctx)

	// Fake servers answer every path with 200, including /health.
	if health.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", health.Status)
	}
	if len(health.Models) != len(cfg.Endpoints()) {
		t.Errorf("Expected %d model statuses, got %d", len(cfg.Endpoints()), len(health.Models))
	}
	for name, status := range health.Models {
		if status != "online" {
			t.Errorf("Expected %s online, got %s", name, status)
		}
	}
}
