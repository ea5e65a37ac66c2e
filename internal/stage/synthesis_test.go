package stage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
)

func testRegistry(t *testing.T, handler http.HandlerFunc) (*gateway.Registry, model.Endpoint) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ep := model.Endpoint{Name: "Chairman", Provider: "local", BaseURL: server.URL}
	cfg := &model.Config{
		Models: model.ModelsConfig{
			FirstOpinion: []model.Endpoint{ep},
			Extractor:    ep,
			Reviewers:    []model.Endpoint{ep},
			Chairman:     ep,
		},
		Gateway: model.GatewayConfig{RequestsPerSecond: 100, Burst: 100},
	}
	reg, err := gateway.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg, ep
}

func TestSynthesis_Run_Success(t *testing.T) {
	reg, ep := testRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":"{\"final_answer\":\"Greenhouse gases trap heat.\",\"supporting_claims\":[\"llama-7b_claim_0\"],\"confidence\":0.9}"}`))
	})
	s := NewSynthesis(reg, ep, 0.75)

	answer, warnings := s.Run(context.Background(), "What causes climate change?", nil, nil, nil, model.Aggregation{}, model.DefaultOptions())

	if len(warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", warnings)
	}
	if answer.FinalAnswer != "Greenhouse gases trap heat." {
		t.Errorf("Unexpected final answer: %q", answer.FinalAnswer)
	}
	if answer.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", answer.Confidence)
	}
}

func TestSynthesis_Run_FallbackOnChairmanFailure(t *testing.T) {
	reg, ep := testRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s := NewSynthesis(reg, ep, 0.75)

	claims := []model.Claim{
		{ClaimID: "b_claim_0", CanonicalText: "Second supported fact."},
		{ClaimID: "a_claim_0", CanonicalText: "First supported fact."},
	}
	agg := model.Aggregation{
		TotalClaims:     2,
		SupportedClaims: []string{"b_claim_0", "a_claim_0"},
		ConsensusScore:  1.0,
	}

	answer, warnings := s.Run(context.Background(), "q?", nil, claims, nil, agg, model.DefaultOptions())

	if len(warnings) != 1 {
		t.Fatalf("Expected exactly 1 warning, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "fallback") {
		t.Errorf("Expected fallback warning, got %q", warnings[0])
	}
	// Supported claims concatenated in ascending claim-id order.
	want := "First supported fact. Second supported fact."
	if answer.FinalAnswer != want {
		t.Errorf("Expected %q, got %q", want, answer.FinalAnswer)
	}
	if answer.Confidence != 0.75 {
		t.Errorf("Expected confidence 1.0*0.75, got %f", answer.Confidence)
	}
	if answer.ReasoningSummary != "" {
		t.Errorf("Expected empty reasoning summary in fallback, got %q", answer.ReasoningSummary)
	}
}

func TestSynthesis_Fallback_NoSupportedClaims(t *testing.T) {
	s := NewSynthesis(nil, model.Endpoint{Name: "Chairman"}, 0.75)

	answer := s.Fallback(nil, model.Aggregation{ConsensusScore: 0})

	if answer.FinalAnswer == "" {
		t.Error("Expected a default message when no claims are supported")
	}
	if answer.Confidence != 0 {
		t.Errorf("Expected confidence 0, got %f", answer.Confidence)
	}
}

func TestSynthesis_Run_FallbackOnUnparseableOutput(t *testing.T) {
	reg, ep := testRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":"I refuse to answer in JSON."}`))
	})
	s := NewSynthesis(reg, ep, 0.75)

	_, warnings := s.Run(context.Background(), "q?", nil, nil, nil, model.Aggregation{}, model.DefaultOptions())

	if len(warnings) != 1 {
		t.Errorf("Expected fallback warning for unparseable chairman output, got %v", warnings)
	}
}
