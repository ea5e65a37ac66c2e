package stage

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
)

func testClaims() []model.Claim {
	return []model.Claim{
		{ClaimID: "llama-7b_claim_0", OriginalModel: "Llama-7B", CanonicalText: "The Earth orbits the Sun."},
		{ClaimID: "llama-7b_claim_1", OriginalModel: "Llama-7B", CanonicalText: "A year is about 365 days."},
	}
}

func TestAnonIndex(t *testing.T) {
	cases := []struct {
		label string
		idx   int
		ok    bool
	}{
		{"claim_0", 0, true},
		{"claim_12", 12, true},
		{" claim_3 ", 3, true},
		{"claim_-1", 0, false},
		{"claim_x", 0, false},
		{"llama-7b_claim_0", 0, false},
		{"", 0, false},
	}

	for _, c := range cases {
		idx, ok := anonIndex(c.label)
		if ok != c.ok || (ok && idx != c.idx) {
			t.Errorf("anonIndex(%q) = (%d, %v), want (%d, %v)", c.label, idx, ok, c.idx, c.ok)
		}
	}
}

func TestParseVerdictSet_ReattachesRealIDs(t *testing.T) {
	raw := json.RawMessage(`{"reviews":[
		{"claim_id":"claim_0","verdict":"correct","reason":"verified","evidence_needed":false,"confidence":0.9},
		{"claim_id":"claim_1","verdict":"UNCERTAIN","reason":"no source","evidence_needed":true,"confidence":0.4}
	]}`)

	vs, err := parseVerdictSet("Mistral-7B", raw, testClaims())
	if err != nil {
		t.Fatalf("parseVerdictSet failed: %v", err)
	}

	if vs.ReviewerName != "Mistral-7B" {
		t.Errorf("Expected reviewer Mistral-7B, got %s", vs.ReviewerName)
	}
	if len(vs.Reviews) != 2 {
		t.Fatalf("Expected 2 reviews, got %d", len(vs.Reviews))
	}
	if vs.Reviews[0].ClaimID != "llama-7b_claim_0" {
		t.Errorf("Expected real claim ID llama-7b_claim_0, got %s", vs.Reviews[0].ClaimID)
	}
	// Lowercase verdicts are normalized.
	if vs.Reviews[0].Verdict != model.VerdictCorrect {
		t.Errorf("Expected CORRECT, got %s", vs.Reviews[0].Verdict)
	}
	if vs.Reviews[1].ClaimID != "llama-7b_claim_1" || vs.Reviews[1].Verdict != model.VerdictUncertain {
		t.Errorf("Unexpected second review: %+v", vs.Reviews[1])
	}
}

func TestParseVerdictSet_DropsUnknownLabelsAndVerdicts(t *testing.T) {
	raw := json.RawMessage(`{"reviews":[
		{"claim_id":"claim_0","verdict":"CORRECT","confidence":0.8},
		{"claim_id":"claim_7","verdict":"CORRECT","confidence":0.8},
		{"claim_id":"claim_1","verdict":"MAYBE","confidence":0.8}
	]}`)

	vs, err := parseVerdictSet("Mistral-7B", raw, testClaims())
	if err != nil {
		t.Fatalf("parseVerdictSet failed: %v", err)
	}
	if len(vs.Reviews) != 1 {
		t.Errorf("Expected 1 usable review, got %d", len(vs.Reviews))
	}
}

func TestParseVerdictSet_ClampsConfidence(t *testing.T) {
	raw := json.RawMessage(`{"reviews":[
		{"claim_id":"claim_0","verdict":"CORRECT","confidence":1.7},
		{"claim_id":"claim_1","verdict":"INCORRECT","confidence":-0.2}
	]}`)

	vs, err := parseVerdictSet("Mistral-7B", raw, testClaims())
	if err != nil {
		t.Fatalf("parseVerdictSet failed: %v", err)
	}
	if vs.Reviews[0].Confidence != 1 {
		t.Errorf("Expected confidence clamped to 1, got %f", vs.Reviews[0].Confidence)
	}
	if vs.Reviews[1].Confidence != 0 {
		t.Errorf("Expected confidence clamped to 0, got %f", vs.Reviews[1].Confidence)
	}
}

func TestParseVerdictSet_NoUsableReviewsIsParseError(t *testing.T) {
	raw := json.RawMessage(`{"reviews":[{"claim_id":"claim_99","verdict":"CORRECT","confidence":0.8}]}`)

	_, err := parseVerdictSet("Mistral-7B", raw, testClaims())
	if err == nil {
		t.Fatal("Expected error for verdict set with no usable reviews")
	}
	if gateway.KindOf(err) != gateway.KindParse {
		t.Errorf("Expected parse error kind, got %v", gateway.KindOf(err))
	}
}

func TestSyntheticVerdicts(t *testing.T) {
	claims := testClaims()

	vs := SyntheticVerdicts(claims)

	if vs.ReviewerName != "synthetic" {
		t.Errorf("Expected reviewer synthetic, got %s", vs.ReviewerName)
	}
	if len(vs.Reviews) != len(claims) {
		t.Fatalf("Expected one review per claim, got %d", len(vs.Reviews))
	}
	for i, r := range vs.Reviews {
		if r.ClaimID != claims[i].ClaimID {
			t.Errorf("Review %d: expected claim %s, got %s", i, claims[i].ClaimID, r.ClaimID)
		}
		if r.Verdict != model.VerdictUncertain {
			t.Errorf("Review %d: expected UNCERTAIN, got %s", i, r.Verdict)
		}
		if r.Confidence != 0 {
			t.Errorf("Review %d: expected confidence 0, got %f", i, r.Confidence)
		}
		if !r.EvidenceNeeded {
			t.Errorf("Review %d: expected evidence needed", i)
		}
	}
	if vs.Metadata["fallback"] != "true" {
		t.Errorf("Expected fallback metadata, got %v", vs.Metadata)
	}
}

func TestReviewerPrompt_Anonymized(t *testing.T) {
	claims := testClaims()
	texts := make([]string, len(claims))
	for i, c := range claims {
		texts[i] = c.CanonicalText
	}

	prompt := reviewerPrompt("What is a year?", texts)

	// Positional labels only, nothing that reveals the source model.
	for _, forbidden := range []string{"llama", "Llama", "llama-7b_claim_0"} {
		if strings.Contains(prompt, forbidden) {
			t.Errorf("Prompt leaks model identity: found %q", forbidden)
		}
	}
	for _, required := range []string{"[claim_0]", "[claim_1]", "The Earth orbits the Sun."} {
		if !strings.Contains(prompt, required) {
			t.Errorf("Prompt missing %q", required)
		}
	}
}
