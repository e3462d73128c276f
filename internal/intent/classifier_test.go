package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/session"
)

type fakeModel struct {
	out *ModelOutput
	err error
}

func (f *fakeModel) Classify(ctx context.Context, message string, sctx *session.Context) (*ModelOutput, error) {
	return f.out, f.err
}

func newClassifier(t *testing.T, model ModelClient) *Classifier {
	t.Helper()
	reg := registry.New(registry.DefaultCategories())
	return NewClassifier(model, reg, 0.3, zaptest.NewLogger(t))
}

func TestClassifyHappyPath(t *testing.T) {
	c := newClassifier(t, &fakeModel{out: &ModelOutput{
		Intent:      "data_query",
		Confidence:  0.92,
		TargetAgent: "data_analysis",
		Rationale:   "user asked for a chart",
	}})

	r := c.Classify(context.Background(), "plot my sales", nil)
	assert.Equal(t, "data_query", r.Intent)
	assert.Equal(t, 0.92, r.Confidence)
	assert.Equal(t, "data_analysis", r.TargetCategory)
}

func TestClassifyBelowFloorDefaultsToGeneralInquiry(t *testing.T) {
	c := newClassifier(t, &fakeModel{out: &ModelOutput{
		Intent:      "data_query",
		Confidence:  0.1,
		TargetAgent: "data_analysis",
	}})

	r := c.Classify(context.Background(), "hmm", nil)
	assert.Equal(t, DefaultIntent, r.Intent)
	assert.Empty(t, r.TargetCategory)
	assert.Equal(t, 0.1, r.Confidence)
}

func TestClassifyUnknownCategoryCoercesToGeneral(t *testing.T) {
	c := newClassifier(t, &fakeModel{out: &ModelOutput{
		Intent:      "weird_request",
		Confidence:  0.8,
		TargetAgent: "quantum_knitting",
	}})

	r := c.Classify(context.Background(), "knit me a qubit", nil)
	assert.Equal(t, registry.CategoryGeneral, r.TargetCategory)
}

func TestClassifyOutOfRangeConfidenceRecovered(t *testing.T) {
	for _, conf := range []float64{-0.2, 1.5} {
		c := newClassifier(t, &fakeModel{out: &ModelOutput{Intent: "x", Confidence: conf}})

		r := c.Classify(context.Background(), "msg", nil)
		assert.Equal(t, DefaultIntent, r.Intent)
		assert.Empty(t, r.TargetCategory)
		assert.Zero(t, r.Confidence)
	}
}

func TestClassifyModelErrorRecovered(t *testing.T) {
	c := newClassifier(t, &fakeModel{err: errors.New("service down")})

	r := c.Classify(context.Background(), "hello", nil)
	assert.Equal(t, DefaultIntent, r.Intent)
	assert.Empty(t, r.TargetCategory)
}

func TestClassifyEmptyIntentRecovered(t *testing.T) {
	c := newClassifier(t, &fakeModel{out: &ModelOutput{Intent: "", Confidence: 0.9}})

	r := c.Classify(context.Background(), "hello", nil)
	assert.Equal(t, DefaultIntent, r.Intent)
}

func TestValidate(t *testing.T) {
	_, err := validate(&ModelOutput{Intent: "x", Confidence: 1.01})
	assert.ErrorIs(t, err, ErrInvalidConfidence)

	_, err = validate(&ModelOutput{Intent: "", Confidence: 0.5})
	assert.ErrorIs(t, err, ErrEmptyIntent)

	r, err := validate(&ModelOutput{Intent: "x", Confidence: 1.0})
	assert.NoError(t, err)
	assert.Equal(t, 1.0, r.Confidence)
}
