package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
	"github.com/ppiankov/quorum/internal/worker"
)

// Reviewers runs stage 3: every reviewer model receives the entire claim
// set, anonymized, and returns one verdict per claim.
type Reviewers struct {
	reg    *gateway.Registry
	models []model.Endpoint
}

// NewReviewers creates the stage-3 runner.
func NewReviewers(reg *gateway.Registry, models []model.Endpoint) *Reviewers {
	return &Reviewers{reg: reg, models: models}
}

type reviewPayload struct {
	Reviews []struct {
		ClaimID        string  `json:"claim_id"`
		Verdict        string  `json:"verdict"`
		Reason         string  `json:"reason"`
		EvidenceNeeded bool    `json:"evidence_needed"`
		Confidence     float64 `json:"confidence"`
	} `json:"reviews"`
}

// Run fans the anonymized claim set out to every reviewer. Claims appear
// in the prompt as positional claim_N labels with no model-identifying
// substrings; real claim IDs are reattached by position after parsing.
// Reviewer failures become errs entries (or fail the stage when
// skip_failed_models is unset); if every reviewer fails, a synthetic
// verdict set marks all claims UNCERTAIN with confidence 0 so the
// pipeline can proceed.
func (s *Reviewers) Run(ctx context.Context, query string, claims []model.Claim, opts model.Options) ([]model.VerdictSet, []string, []string, error) {
	timeout := time.Duration(opts.Timeout) * time.Second

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	anonymized := make([]string, len(claims))
	for i, c := range claims {
		anonymized[i] = c.CanonicalText
	}
	prompt := reviewerPrompt(query, anonymized)

	tasks := make([]worker.Task[model.VerdictSet], len(s.models))
	for i, ep := range s.models {
		tasks[i] = func(ctx context.Context) (model.VerdictSet, error) {
			raw, err := s.reg.Call(ctx, ep.Name, gateway.RoleReviewer, prompt, timeout)
			if err != nil {
				return model.VerdictSet{}, err
			}
			return parseVerdictSet(ep.Name, raw, claims)
		}
	}

	outcomes := worker.Settle(stageCtx, opts.EnableParallel, tasks)

	var verdicts []model.VerdictSet
	var errs, warnings []string
	for i, out := range outcomes {
		if out.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.models[i].Name, out.Err))
			if !opts.SkipFailedModels {
				return nil, errs, warnings, fmt.Errorf("reviewer %s failed: %w", s.models[i].Name, out.Err)
			}
			continue
		}
		verdicts = append(verdicts, out.Value)
	}

	if len(verdicts) == 0 {
		warnings = append(warnings, "all reviewers failed, marking every claim UNCERTAIN")
		verdicts = []model.VerdictSet{SyntheticVerdicts(claims)}
	}
	return verdicts, errs, warnings, nil
}

// parseVerdictSet maps anonymized claim_N labels back to real claim IDs.
// Reviews referencing unknown labels are dropped; a set with no usable
// reviews is a parse failure.
func parseVerdictSet(reviewerName string, raw json.RawMessage, claims []model.Claim) (model.VerdictSet, error) {
	var payload reviewPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return model.VerdictSet{}, &gateway.Error{Kind: gateway.KindParse, Model: reviewerName, Err: err}
	}

	vs := model.VerdictSet{ReviewerName: reviewerName}
	for _, r := range payload.Reviews {
		idx, ok := anonIndex(r.ClaimID)
		if !ok || idx >= len(claims) {
			continue
		}
		verdict := model.Verdict(strings.ToUpper(strings.TrimSpace(r.Verdict)))
		if !verdict.Valid() {
			continue
		}
		confidence := r.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		vs.Reviews = append(vs.Reviews, model.Review{
			ClaimID:        claims[idx].ClaimID,
			Verdict:        verdict,
			Reason:         r.Reason,
			EvidenceNeeded: r.EvidenceNeeded,
			Confidence:     confidence,
		})
	}

	if len(vs.Reviews) == 0 {
		return model.VerdictSet{}, &gateway.Error{Kind: gateway.KindParse, Model: reviewerName, Err: fmt.Errorf("no usable reviews in response")}
	}
	vs.Metadata = map[string]string{"total_reviewed": strconv.Itoa(len(vs.Reviews))}
	return vs, nil
}

// anonIndex parses a "claim_N" label.
func anonIndex(label string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(label), "claim_")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// SyntheticVerdicts is the total-reviewer-failure fallback: every claim
// UNCERTAIN with zero confidence.
func SyntheticVerdicts(claims []model.Claim) model.VerdictSet {
	vs := model.VerdictSet{
		ReviewerName: "synthetic",
		Metadata:     map[string]string{"fallback": "true"},
	}
	for _, c := range claims {
		vs.Reviews = append(vs.Reviews, model.Review{
			ClaimID:        c.ClaimID,
			Verdict:        model.VerdictUncertain,
			Reason:         "no reviewer was available to verify this claim",
			EvidenceNeeded: true,
			Confidence:     0,
		})
	}
	return vs
}
