// Package stage holds the four stateless stage runners. Each wraps model
// gateway calls with its own fan-out, timeout, and fallback policy; none
// touches shared state beyond declared inputs.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
	"github.com/ppiankov/quorum/internal/worker"
)

// Opinions runs stage 1: one first-opinion prompt per configured model.
type Opinions struct {
	reg    *gateway.Registry
	models []model.Endpoint
}

// NewOpinions creates the stage-1 runner.
func NewOpinions(reg *gateway.Registry, models []model.Endpoint) *Opinions {
	return &Opinions{reg: reg, models: models}
}

// opinionPayload is the expected first-opinion JSON schema.
type opinionPayload struct {
	AnswerText string           `json:"answer_text"`
	Claims     []string         `json:"claims"`
	Citations  []model.Citation `json:"citations"`
}

// ErrAllModelsFailed reports a stage whose minimum-viability rule was
// violated; for stage 1 this is fatal to the whole request.
type ErrAllModelsFailed struct {
	Stage string
}

func (e *ErrAllModelsFailed) Error() string {
	return fmt.Sprintf("all %s models failed", e.Stage)
}

// Run fans the query out to every configured first-opinion model and
// collects the opinions in configured model order. Each model failure
// becomes one errs entry; with skip_failed_models unset, the first
// failure fails the stage. Zero opinions is always a stage failure.
func (s *Opinions) Run(ctx context.Context, query string, opts model.Options) ([]model.Opinion, []string, error) {
	timeout := time.Duration(opts.Timeout) * time.Second

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tasks := make([]worker.Task[model.Opinion], len(s.models))
	for i, ep := range s.models {
		tasks[i] = func(ctx context.Context) (model.Opinion, error) {
			raw, err := s.reg.Call(ctx, ep.Name, gateway.RoleFirstOpinion, firstOpinionPrompt(query), timeout)
			if err != nil {
				return model.Opinion{}, err
			}
			return parseOpinion(ep.Name, raw)
		}
	}

	outcomes := worker.Settle(stageCtx, opts.EnableParallel, tasks)

	var opinions []model.Opinion
	var errs []string
	for i, out := range outcomes {
		if out.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.models[i].Name, out.Err))
			if !opts.SkipFailedModels {
				return nil, errs, fmt.Errorf("model %s failed: %w", s.models[i].Name, out.Err)
			}
			continue
		}
		opinions = append(opinions, out.Value)
	}

	if len(opinions) == 0 {
		return nil, errs, &ErrAllModelsFailed{Stage: "first-opinion"}
	}
	return opinions, errs, nil
}

func parseOpinion(modelName string, raw json.RawMessage) (model.Opinion, error) {
	var payload opinionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return model.Opinion{}, &gateway.Error{Kind: gateway.KindParse, Model: modelName, Err: err}
	}
	if strings.TrimSpace(payload.AnswerText) == "" {
		return model.Opinion{}, &gateway.Error{Kind: gateway.KindParse, Model: modelName, Err: fmt.Errorf("empty answer_text")}
	}
	return model.Opinion{
		ModelName:  modelName,
		AnswerText: strings.TrimSpace(payload.AnswerText),
		Claims:     payload.Claims,
		Citations:  payload.Citations,
	}, nil
}
