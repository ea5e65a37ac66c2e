package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
)

const (
	maxClaimWords       = 20
	maxFallbackClaims   = 5
	minFallbackSentence = 10
)

// Extractor runs stage 2: each opinion's answer is paraphrased into
// atomic canonical claims, one model call per opinion, sequentially.
type Extractor struct {
	reg      *gateway.Registry
	endpoint model.Endpoint
}

// NewExtractor creates the stage-2 runner.
func NewExtractor(reg *gateway.Registry, endpoint model.Endpoint) *Extractor {
	return &Extractor{reg: reg, endpoint: endpoint}
}

type claimsPayload struct {
	Claims []string `json:"claims"`
}

// Run extracts claims from every opinion. A per-opinion model failure
// falls back to local sentence splitting rather than discarding the
// opinion's claims; each fallback adds one warning. Claim IDs are
// assigned as {model}_claim_{index} in production order, which is stable
// across runs for identical inputs.
func (s *Extractor) Run(ctx context.Context, opinions []model.Opinion, opts model.Options) ([]model.Claim, []string) {
	timeout := time.Duration(opts.Timeout) * time.Second

	var claims []model.Claim
	var warnings []string

	for _, op := range opinions {
		texts, err := s.extract(ctx, op, timeout)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("claim extraction failed for %s, using sentence fallback: %v", op.ModelName, err))
			texts = FallbackSplit(op.AnswerText)
		}
		for idx, text := range texts {
			claims = append(claims, model.Claim{
				ClaimID:       ClaimID(op.ModelName, idx),
				OriginalModel: op.ModelName,
				OriginalText:  op.AnswerText,
				CanonicalText: text,
				WordCount:     len(strings.Fields(text)),
			})
		}
	}
	return claims, warnings
}

// ClaimID derives the stable join key for a claim.
func ClaimID(modelName string, index int) string {
	return fmt.Sprintf("%s_claim_%d", strings.ToLower(modelName), index)
}

func (s *Extractor) extract(ctx context.Context, op model.Opinion, timeout time.Duration) ([]string, error) {
	raw, err := s.reg.Call(ctx, s.endpoint.Name, gateway.RoleClaimExtraction, claimExtractionPrompt(op.AnswerText), timeout)
	if err != nil {
		return nil, err
	}

	var payload claimsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &gateway.Error{Kind: gateway.KindParse, Model: s.endpoint.Name, Err: err}
	}
	if len(payload.Claims) == 0 {
		return nil, &gateway.Error{Kind: gateway.KindParse, Model: s.endpoint.Name, Err: fmt.Errorf("no claims in response")}
	}

	var texts []string
	for _, c := range payload.Claims {
		c = strings.TrimSpace(c)
		if c != "" {
			texts = append(texts, c)
		}
	}
	if len(texts) == 0 {
		return nil, &gateway.Error{Kind: gateway.KindParse, Model: s.endpoint.Name, Err: fmt.Errorf("only empty claims in response")}
	}
	return texts, nil
}

// FallbackSplit turns an answer into sentence-level claims without a
// model call: markup is stripped, sentences are split on punctuation
// boundaries, and each claim is clamped to the canonical word limit.
func FallbackSplit(answerText string) []string {
	text := stripMarkup(answerText)

	var claims []string
	for _, sentence := range splitSentences(text) {
		if len(claims) >= maxFallbackClaims {
			break
		}
		if len(sentence) <= minFallbackSentence {
			continue
		}
		claims = append(claims, clampWords(sentence, maxClaimWords))
	}
	return claims
}

// stripMarkup extracts visible text when the answer carries HTML-ish
// markup; plain text passes through unchanged.
func stripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				buf.WriteString(t)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(buf.String())
}

func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder
	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Only split when followed by whitespace, to skip decimals
			// and abbreviations mid-sentence.
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\t' {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s+".")
	}
	return sentences
}

func clampWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}
