package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
)

// Synthesis runs stage 5: a single chairman call over the full pipeline
// context, constrained to supported claims.
type Synthesis struct {
	reg      *gateway.Registry
	endpoint model.Endpoint
	penalty  float64
}

// NewSynthesis creates the stage-5 runner. penalty scales the fallback
// confidence down from the consensus score.
func NewSynthesis(reg *gateway.Registry, endpoint model.Endpoint, penalty float64) *Synthesis {
	if penalty <= 0 || penalty > 1 {
		penalty = 0.75
	}
	return &Synthesis{reg: reg, endpoint: endpoint, penalty: penalty}
}

type synthesisPayload struct {
	FinalAnswer      string           `json:"final_answer"`
	SupportingClaims []string         `json:"supporting_claims"`
	UncertainPoints  []string         `json:"uncertain_points"`
	RejectedClaims   []string         `json:"rejected_claims"`
	Citations        []model.Citation `json:"citations"`
	Confidence       float64          `json:"confidence"`
	ReasoningSummary string           `json:"reasoning_summary"`
}

// Run synthesizes the final answer. On any chairman failure it falls
// back to concatenating supported claims and records one warning; the
// stage never fails the pipeline.
func (s *Synthesis) Run(ctx context.Context, query string, opinions []model.Opinion, claims []model.Claim, verdicts []model.VerdictSet, agg model.Aggregation, opts model.Options) (model.FinalAnswer, []string) {
	timeout := time.Duration(opts.Timeout) * time.Second

	answer, err := s.synthesize(ctx, query, opinions, claims, verdicts, agg, timeout)
	if err != nil {
		return s.Fallback(claims, agg), []string{fmt.Sprintf("chairman synthesis failed, using fallback: %v", err)}
	}
	return answer, nil
}

func (s *Synthesis) synthesize(ctx context.Context, query string, opinions []model.Opinion, claims []model.Claim, verdicts []model.VerdictSet, agg model.Aggregation, timeout time.Duration) (model.FinalAnswer, error) {
	prompt := synthesisPrompt(query, opinions, claims, verdicts, agg)

	raw, err := s.reg.Call(ctx, s.endpoint.Name, gateway.RoleSynthesis, prompt, timeout)
	if err != nil {
		return model.FinalAnswer{}, err
	}

	var payload synthesisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return model.FinalAnswer{}, &gateway.Error{Kind: gateway.KindParse, Model: s.endpoint.Name, Err: err}
	}
	if strings.TrimSpace(payload.FinalAnswer) == "" {
		return model.FinalAnswer{}, &gateway.Error{Kind: gateway.KindParse, Model: s.endpoint.Name, Err: fmt.Errorf("missing final_answer")}
	}

	confidence := payload.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.7
	}
	return model.FinalAnswer{
		FinalAnswer:      strings.TrimSpace(payload.FinalAnswer),
		SupportingClaims: orEmpty(payload.SupportingClaims),
		UncertainPoints:  orEmpty(payload.UncertainPoints),
		RejectedClaims:   orEmpty(payload.RejectedClaims),
		Citations:        payload.Citations,
		Confidence:       confidence,
		ReasoningSummary: payload.ReasoningSummary,
	}, nil
}

// Fallback builds the answer without a model: canonical texts of all
// supported claims concatenated in ascending claim-id order, confidence
// scaled down from the consensus score, empty reasoning summary.
func (s *Synthesis) Fallback(claims []model.Claim, agg model.Aggregation) model.FinalAnswer {
	byID := make(map[string]model.Claim, len(claims))
	for _, c := range claims {
		byID[c.ClaimID] = c
	}

	supported := append([]string(nil), agg.SupportedClaims...)
	sort.Strings(supported)

	var texts []string
	for _, id := range supported {
		if c, ok := byID[id]; ok {
			texts = append(texts, c.CanonicalText)
		}
	}

	answer := strings.Join(texts, " ")
	if answer == "" {
		answer = "Unable to synthesize an answer: no claims were verified."
	}

	return model.FinalAnswer{
		FinalAnswer:      answer,
		SupportingClaims: supported,
		UncertainPoints:  append([]string{}, agg.UncertainClaims...),
		RejectedClaims:   append([]string{}, agg.RejectedClaims...),
		Citations:        nil,
		Confidence:       agg.ConsensusScore * s.penalty,
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
