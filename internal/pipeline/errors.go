package pipeline

import "fmt"

// ErrorKind classifies pipeline-fatal failures. Stage degradations never
// surface here; they are recorded in result metadata instead.
type ErrorKind string

const (
	// ErrInvalidQuery rejects queries outside the configured bounds.
	ErrInvalidQuery ErrorKind = "invalid_query"
	// ErrStageMinimumNotMet is fatal only for stage 1: zero opinions
	// means there is nothing for later stages to work with.
	ErrStageMinimumNotMet ErrorKind = "stage_minimum_not_met"
)

// Error is a typed pipeline failure carrying whatever stage timings were
// collected before the pipeline short-circuited. Cause preserves the
// stage error so callers can branch on gateway error kinds.
type Error struct {
	Kind           ErrorKind
	Stage          string
	Message        string
	RequestID      string
	ProcessingTime float64
	StageTimings   map[string]float64
	Errors         []string
	Cause          error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("pipeline %s (%s): %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("pipeline %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }
