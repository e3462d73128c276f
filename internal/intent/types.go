package intent

import "errors"

// DefaultIntent is used when confidence falls below the floor or the model
// output cannot be trusted.
const DefaultIntent = "general_inquiry"

var (
	// ErrInvalidConfidence marks model output with a confidence outside [0,1].
	ErrInvalidConfidence = errors.New("intent classification: confidence out of range")

	// ErrEmptyIntent marks model output without an intent label.
	ErrEmptyIntent = errors.New("intent classification: empty intent label")
)

// Result is the outcome of classifying one inbound message. It lives for the
// current turn only.
type Result struct {
	Intent         string  `json:"intent"`
	Confidence     float64 `json:"confidence"`
	TargetCategory string  `json:"target_category,omitempty"` // empty if none
	Rationale      string  `json:"rationale,omitempty"`
}
