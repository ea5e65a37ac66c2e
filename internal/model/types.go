package model

import "time"

// Verdict is a reviewer's judgment of a single claim.
type Verdict string

const (
	VerdictCorrect   Verdict = "CORRECT"
	VerdictIncorrect Verdict = "INCORRECT"
	VerdictUncertain Verdict = "UNCERTAIN"
)

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictCorrect, VerdictIncorrect, VerdictUncertain:
		return true
	}
	return false
}

// Options are the caller-supplied knobs for one pipeline run.
// Field names are part of the external API and must not change.
type Options struct {
	UseCache         bool `json:"use_cache"`
	Timeout          int  `json:"timeout"` // seconds, per-stage budget
	EnableParallel   bool `json:"enable_parallel"`
	SkipFailedModels bool `json:"skip_failed_models"`
}

// DefaultOptions mirrors the defaults of the query API.
func DefaultOptions() Options {
	return Options{
		UseCache:         true,
		Timeout:          120,
		EnableParallel:   true,
		SkipFailedModels: true,
	}
}

// Citation points at an external source referenced by a model.
type Citation struct {
	Source  string `json:"source,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Opinion is one first-opinion model's answer to the query.
type Opinion struct {
	ModelName  string            `json:"model_name"`
	AnswerText string            `json:"answer_text"`
	Claims     []string          `json:"claims"`
	Citations  []Citation        `json:"citations"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Claim is an atomic canonical fact derived from exactly one Opinion.
// ClaimID is the join key every later stage keys on.
type Claim struct {
	ClaimID       string `json:"claim_id"`
	OriginalModel string `json:"original_model"`
	OriginalText  string `json:"original_text"`
	CanonicalText string `json:"canonical_text"`
	WordCount     int    `json:"word_count"`
}

// Review is one reviewer's judgment of one claim.
type Review struct {
	ClaimID        string  `json:"claim_id"`
	Verdict        Verdict `json:"verdict"`
	Reason         string  `json:"reason"`
	EvidenceNeeded bool    `json:"evidence_needed"`
	Confidence     float64 `json:"confidence"`
}

// VerdictSet groups all reviews from one reviewer across all claims.
type VerdictSet struct {
	ReviewerName string            `json:"reviewer_name"`
	Reviews      []Review          `json:"reviews"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Aggregation is the consensus classification of all reviewed claims.
// The four partitions carry claim IDs and are a disjoint cover of every
// claim that received at least one review.
type Aggregation struct {
	TotalClaims         int      `json:"total_claims"`
	SupportedClaims     []string `json:"supported_claims"`
	RejectedClaims      []string `json:"rejected_claims"`
	DisputedClaims      []string `json:"disputed_claims"`
	UncertainClaims     []string `json:"uncertain_claims"`
	ConsensusScore      float64  `json:"consensus_score"`
	EvidenceNeededCount int      `json:"evidence_needed_count"`
}

// FinalAnswer is the chairman synthesis output.
type FinalAnswer struct {
	FinalAnswer      string     `json:"final_answer"`
	SupportingClaims []string   `json:"supporting_claims"`
	UncertainPoints  []string   `json:"uncertain_points"`
	RejectedClaims   []string   `json:"rejected_claims"`
	Citations        []Citation `json:"citations"`
	Confidence       float64    `json:"confidence"`
	ReasoningSummary string     `json:"reasoning_summary,omitempty"`
}

// Metadata describes one pipeline execution.
type Metadata struct {
	RequestID      string             `json:"request_id"`
	ProcessingTime float64            `json:"processing_time"` // seconds
	ModelsUsed     []string           `json:"models_used"`
	CacheHit       bool               `json:"cache_hit"`
	Errors         []string           `json:"errors"`
	Warnings       []string           `json:"warnings"`
	StageTimings   map[string]float64 `json:"stage_timings"`
	Timestamp      time.Time          `json:"timestamp"`
}

// PipelineResult is the complete response for one query.
type PipelineResult struct {
	Query             string       `json:"query"`
	Stage1Opinions    []Opinion    `json:"stage1_opinions"`
	ParaphrasedClaims []Claim      `json:"paraphrased_claims"`
	ReviewerVerdicts  []VerdictSet `json:"reviewer_verdicts"`
	Aggregation       Aggregation  `json:"aggregation"`
	FinalAnswer       FinalAnswer  `json:"final_answer"`
	Metadata          Metadata     `json:"metadata"`
}

// Health is the per-model availability view.
type Health struct {
	Status    string            `json:"status"` // healthy, degraded, unhealthy
	Models    map[string]string `json:"models"` // online / offline
	Timestamp time.Time         `json:"timestamp"`
}

// CacheStats is the read-only cache view exposed by statistics surfaces.
type CacheStats struct {
	Size int     `json:"size"`
	TTL  float64 `json:"ttl"` // seconds
}

// Statistics are orchestrator-maintained aggregate counters.
type Statistics struct {
	TotalQueries          int64      `json:"total_queries"`
	SuccessfulQueries     int64      `json:"successful_queries"`
	FailedQueries         int64      `json:"failed_queries"`
	CacheHits             int64      `json:"cache_hits"`
	AverageProcessingTime float64    `json:"average_processing_time"`
	CacheStats            CacheStats `json:"cache_stats"`
}
