package stage

import (
	"fmt"
	"strings"

	"github.com/ppiankov/quorum/internal/model"
)

// Prompt builders for the four model roles. Each instructs the model to
// return only a JSON object; the gateway recovers that object from
// whatever prose surrounds it.

func firstOpinionPrompt(query string) string {
	return fmt.Sprintf(`You are an expert assistant. Answer the question below directly from your own knowledge. Do not show your reasoning process.

Question: %s

Return ONLY valid JSON with this structure:
{
  "answer_text": "Your complete answer (3-6 sentences)",
  "claims": ["Key factual claim 1", "Key factual claim 2"],
  "citations": [{"source": "Source name", "url": "https://...", "snippet": "Quote"}]
}`, query)
}

func claimExtractionPrompt(answerText string) string {
	return fmt.Sprintf(`Convert the following answer into a list of atomic canonical claims. Each claim must state a single verifiable fact in at most 20 words, preserving the original meaning without adding information.

Original Answer:
%s

Return ONLY valid JSON with this structure:
{
  "claims": ["Canonical claim 1", "Canonical claim 2"]
}`, answerText)
}

// reviewerPrompt presents claims under anonymized labels; the caller maps
// labels back to real claim IDs after parsing.
func reviewerPrompt(query string, anonymized []string) string {
	var list strings.Builder
	for i, text := range anonymized {
		fmt.Fprintf(&list, "[claim_%d]: %s\n", i, text)
	}
	return fmt.Sprintf(`You are an expert fact-checker. Evaluate the following anonymized claims for factual accuracy. Judge each claim independently; you do not know their sources. Do not show your reasoning process.

Original Question: %s

Claims to review:
%s
For each claim give a verdict (CORRECT, INCORRECT, or UNCERTAIN), a reason of at most 30 words, whether more evidence is needed, and your confidence from 0.0 to 1.0.

Return ONLY valid JSON with this structure:
{
  "reviews": [
    {"claim_id": "claim_0", "verdict": "CORRECT", "reason": "Brief justification", "evidence_needed": false, "confidence": 0.85}
  ]
}
Review ALL claims.`, query, list.String())
}

func synthesisPrompt(query string, opinions []model.Opinion, claims []model.Claim, verdicts []model.VerdictSet, agg model.Aggregation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the chairman of an expert panel. Synthesize a final answer to the query below, drawing ONLY on claims in the supported list. Surface uncertain claims explicitly; mention rejected claims only for context.\n\n")
	fmt.Fprintf(&b, "Original Query: %s\n\n", query)

	b.WriteString("=== INITIAL OPINIONS ===\n")
	for _, op := range opinions {
		fmt.Fprintf(&b, "- %s\n", op.AnswerText)
	}

	b.WriteString("\n=== CANONICAL CLAIMS ===\n")
	for _, c := range claims {
		fmt.Fprintf(&b, "[%s]: %s\n", c.ClaimID, c.CanonicalText)
	}

	b.WriteString("\n=== PEER REVIEW VERDICTS ===\n")
	for _, vs := range verdicts {
		for _, r := range vs.Reviews {
			fmt.Fprintf(&b, "%s on [%s]: %s (%.2f): %s\n", vs.ReviewerName, r.ClaimID, r.Verdict, r.Confidence, r.Reason)
		}
	}

	fmt.Fprintf(&b, "\n=== AGGREGATION ===\nTotal claims: %d\nSupported: %s\nRejected: %s\nUncertain: %s\nDisputed: %s\nConsensus score: %.3f\n",
		agg.TotalClaims,
		strings.Join(agg.SupportedClaims, ", "),
		strings.Join(agg.RejectedClaims, ", "),
		strings.Join(agg.UncertainClaims, ", "),
		strings.Join(agg.DisputedClaims, ", "),
		agg.ConsensusScore)

	b.WriteString(`
Return ONLY valid JSON with this structure:
{
  "final_answer": "Comprehensive answer (3-6 sentences) based only on supported claims",
  "supporting_claims": ["claim ids used"],
  "uncertain_points": ["uncertain claim ids or texts"],
  "rejected_claims": ["rejected claim ids or texts"],
  "citations": [{"source": "Source", "url": "https://...", "snippet": "Quote"}],
  "confidence": 0.85,
  "reasoning_summary": "2-3 sentence summary of your reasoning"
}`)

	return b.String()
}
