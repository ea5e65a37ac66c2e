// Package gateway is the uniform interface to model-providing backends.
// Providers are selected per endpoint by configuration; callers address
// models through the Registry and branch on typed error kinds, never on
// message text.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role selects the prompt schema and generation parameters for a call.
type Role string

const (
	RoleFirstOpinion    Role = "first_opinion"
	RoleClaimExtraction Role = "claim_extraction"
	RoleReviewer        Role = "reviewer"
	RoleSynthesis       Role = "synthesis"
)

// roleParams are the per-role generation settings.
type roleParams struct {
	Temperature float32
	MaxTokens   int
}

func paramsFor(role Role) roleParams {
	switch role {
	case RoleFirstOpinion:
		return roleParams{Temperature: 0.7, MaxTokens: 1024}
	case RoleClaimExtraction:
		return roleParams{Temperature: 0.5, MaxTokens: 512}
	case RoleReviewer:
		return roleParams{Temperature: 0.3, MaxTokens: 1024}
	case RoleSynthesis:
		return roleParams{Temperature: 0.5, MaxTokens: 2048}
	}
	return roleParams{Temperature: 0.5, MaxTokens: 1024}
}

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
	KindParse     ErrorKind = "parse"
)

// Error is a typed gateway failure for one model call.
type Error struct {
	Kind  ErrorKind
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the error kind, or "" for non-gateway errors.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// classify wraps a transport-level error as timeout or transport.
func classify(model string, err error) error {
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Model: model, Err: err}
}

// Gateway is one provider binding for one endpoint. Call returns the raw
// JSON object extracted from the model output, or a typed *Error.
type Gateway interface {
	Name() string
	Call(ctx context.Context, role Role, prompt string, timeout time.Duration) (json.RawMessage, error)
	Healthy(ctx context.Context) bool
}

// ExtractJSON recovers the JSON object embedded in raw model output.
// Models wrap their answers in prose or markdown fences often enough that
// strict unmarshaling of the whole body is useless in practice.
func ExtractJSON(model, text string) (json.RawMessage, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, &Error{Kind: KindParse, Model: model, Err: fmt.Errorf("no JSON object in output")}
	}
	raw := json.RawMessage(cleaned[start : end+1])
	if !json.Valid(raw) {
		return nil, &Error{Kind: KindParse, Model: model, Err: fmt.Errorf("malformed JSON object in output")}
	}
	return raw, nil
}
