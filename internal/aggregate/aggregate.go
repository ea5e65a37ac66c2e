// Package aggregate computes the consensus classification of claims from
// independent reviewer verdicts. It is pure and deterministic: no model
// calls, no clock, no randomness. Identical inputs always produce an
// identical Aggregation.
package aggregate

import (
	"sort"

	"github.com/ppiankov/quorum/internal/model"
)

// Aggregate partitions every reviewed claim into exactly one of
// supported / rejected / uncertain / disputed:
//
//   - supported: CORRECT unanimous, or CORRECT holds the strict majority
//     of rendered verdicts
//   - rejected: same rule for INCORRECT
//   - uncertain: UNCERTAIN unanimous (no majority rule)
//   - disputed: everything else (ties, three-way splits)
//
// The consensus score is the fraction of reviewed claims whose verdicts
// are unanimous. Reviews for unknown claim IDs are ignored.
func Aggregate(claims []model.Claim, verdicts []model.VerdictSet) model.Aggregation {
	known := make(map[string]bool, len(claims))
	for _, c := range claims {
		known[c.ClaimID] = true
	}

	reviewsByClaim := make(map[string][]model.Review)
	for _, vs := range verdicts {
		for _, r := range vs.Reviews {
			if known[r.ClaimID] {
				reviewsByClaim[r.ClaimID] = append(reviewsByClaim[r.ClaimID], r)
			}
		}
	}

	agg := model.Aggregation{
		TotalClaims:     len(claims),
		SupportedClaims: []string{},
		RejectedClaims:  []string{},
		DisputedClaims:  []string{},
		UncertainClaims: []string{},
	}

	// Iterate claim IDs in sorted order so the partition slices are
	// byte-identical across runs.
	ids := make([]string, 0, len(reviewsByClaim))
	for id := range reviewsByClaim {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	unanimous := 0
	for _, id := range ids {
		reviews := reviewsByClaim[id]

		var correct, incorrect, uncertain int
		evidenceNeeded := false
		for _, r := range reviews {
			switch r.Verdict {
			case model.VerdictCorrect:
				correct++
			case model.VerdictIncorrect:
				incorrect++
			case model.VerdictUncertain:
				uncertain++
			}
			if r.EvidenceNeeded {
				evidenceNeeded = true
			}
		}
		if evidenceNeeded {
			agg.EvidenceNeededCount++
		}

		total := len(reviews)
		if correct == total || incorrect == total || uncertain == total {
			unanimous++
		}

		// Strict majority means more than half of rendered verdicts; a
		// majority of UNCERTAIN is not a consensus, so uncertain requires
		// unanimity and everything else is disputed.
		switch {
		case correct*2 > total:
			agg.SupportedClaims = append(agg.SupportedClaims, id)
		case incorrect*2 > total:
			agg.RejectedClaims = append(agg.RejectedClaims, id)
		case uncertain == total:
			agg.UncertainClaims = append(agg.UncertainClaims, id)
		default:
			agg.DisputedClaims = append(agg.DisputedClaims, id)
		}
	}

	if len(ids) > 0 {
		agg.ConsensusScore = float64(unanimous) / float64(len(ids))
	}
	return agg
}
