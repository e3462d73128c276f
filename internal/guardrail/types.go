// Package guardrail implements the policy check that can block a request
// before any routing decision is made.
package guardrail

import (
	"context"

	"github.com/switchboard-ai/switchboard/internal/session"
)

// Mode controls how guardrail decisions are applied.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeDryRun  Mode = "dry-run"
	ModeEnforce Mode = "enforce"
)

// Violation describes a single failed guardrail rule.
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
}

// CheckResult is the outcome of a guardrail check.
type CheckResult struct {
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations,omitempty"`
}

// Gate is the synchronous check invoked before any handoff decision.
type Gate interface {
	Check(ctx context.Context, message string, sctx *session.Context) (*CheckResult, error)
	Mode() Mode
}

// NoopGate passes everything; used when the guardrail is configured off.
type NoopGate struct{}

func (NoopGate) Check(ctx context.Context, message string, sctx *session.Context) (*CheckResult, error) {
	return &CheckResult{Pass: true}, nil
}

func (NoopGate) Mode() Mode { return ModeOff }
