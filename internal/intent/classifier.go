// Package intent classifies inbound user messages into an intent label, a
// confidence score, and an optional target agent category.
package intent

import (
	"context"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/metrics"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/session"
)

// Classifier wraps the external model service with local validation: a minimum
// confidence floor, range checking, and category mapping.
type Classifier struct {
	client        ModelClient
	registry      *registry.Registry
	minConfidence float64
	logger        *zap.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(client ModelClient, reg *registry.Registry, minConfidence float64, logger *zap.Logger) *Classifier {
	return &Classifier{
		client:        client,
		registry:      reg,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Classify produces an intent result for a message. Classification errors are
// recovered locally: a failed or malformed model call degrades to a
// low-confidence general inquiry rather than failing the turn.
func (c *Classifier) Classify(ctx context.Context, message string, sctx *session.Context) Result {
	out, err := c.client.Classify(ctx, message, sctx)
	if err != nil {
		c.logger.Warn("Intent classification failed, defaulting to general inquiry", zap.Error(err))
		metrics.RecordIntent(DefaultIntent, "error", 0)
		return defaultResult("classifier unavailable")
	}

	result, err := validate(out)
	if err != nil {
		c.logger.Warn("Intent classification output rejected",
			zap.Error(err),
			zap.String("intent", out.Intent),
			zap.Float64("confidence", out.Confidence),
		)
		metrics.RecordIntent(DefaultIntent, "invalid", 0)
		return defaultResult(err.Error())
	}

	// Below the floor the intent degrades to a general inquiry with no target.
	if result.Confidence < c.minConfidence {
		metrics.RecordIntent(DefaultIntent, "below_floor", result.Confidence)
		return Result{
			Intent:     DefaultIntent,
			Confidence: result.Confidence,
			Rationale:  "confidence below floor",
		}
	}

	// Unknown category names coerce to the general fallback.
	if result.TargetCategory != "" {
		cat := c.registry.Resolve(result.Intent, result.TargetCategory)
		result.TargetCategory = cat.ID
	}

	metrics.RecordIntent(result.Intent, "ok", result.Confidence)
	return result
}

// validate checks model output ranges. Out-of-range confidence is an
// IntentClassificationError, not silently clamped.
func validate(out *ModelOutput) (Result, error) {
	if out.Confidence < 0 || out.Confidence > 1 {
		return Result{}, ErrInvalidConfidence
	}
	if out.Intent == "" {
		return Result{}, ErrEmptyIntent
	}
	return Result{
		Intent:         out.Intent,
		Confidence:     out.Confidence,
		TargetCategory: out.TargetAgent,
		Rationale:      out.Rationale,
	}, nil
}

func defaultResult(rationale string) Result {
	return Result{
		Intent:     DefaultIntent,
		Confidence: 0,
		Rationale:  rationale,
	}
}
