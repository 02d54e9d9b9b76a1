package pipeline

import "errors"

var (
	// ErrEmptyPipeline is returned when Execute is handed a plan with no
	// steps.
	ErrEmptyPipeline = errors.New("pipeline: empty pipeline")

	// ErrUnknownTask is returned for a step whose type is not in the
	// catalog.
	ErrUnknownTask = errors.New("pipeline: unknown task type")

	// ErrToolLoop is returned when a step exhausts its tool rounds
	// without producing a final answer.
	ErrToolLoop = errors.New("pipeline: tool round limit reached")
)
