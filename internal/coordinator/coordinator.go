// Package coordinator joins the guardrail, classifier, catalog and handoff
// manager into the message-handling pipeline.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/guardrail"
	"github.com/switchboard-ai/switchboard/internal/handoff"
	"github.com/switchboard-ai/switchboard/internal/intent"
	"github.com/switchboard-ai/switchboard/internal/metrics"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/session"
)

// Reply statuses returned by HandleMessage.
const (
	StatusSuccess            = "success"
	StatusHandoff            = "handoff"
	StatusGuardrailViolation = "guardrail_violation"
	StatusError              = "error"
)

// AgentInfo identifies the agent that produced (or would have produced) the
// response.
type AgentInfo struct {
	Category     string `json:"category"`
	DisplayName  string `json:"display_name,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
}

// Reply is the outcome of handling one user message.
type Reply struct {
	Status     string                `json:"status"`
	Response   string                `json:"response,omitempty"`
	Agent      *AgentInfo            `json:"agent,omitempty"`
	HandoffID  string                `json:"handoff_id,omitempty"`
	Violations []guardrail.Violation `json:"violations,omitempty"`
	ErrorCode  string                `json:"error_code,omitempty"`
}

// AgentListing is one row of the agents inventory.
type AgentListing struct {
	Category    string   `json:"category"`
	DisplayName string   `json:"display_name,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Fallback    string   `json:"fallback,omitempty"`
	Workflows   int      `json:"workflows"`
	Available   bool     `json:"available"`
}

// Coordinator runs the per-message pipeline. Messages for the same session are
// serialized; different sessions proceed in parallel.
type Coordinator struct {
	gate       guardrail.Gate
	classifier *intent.Classifier
	catalog    *catalog.Catalog
	registry   *registry.Registry
	sessions   *session.Store
	handoffs   *handoff.Manager
	threshold  float64
	logger     *zap.Logger

	sessionLocks sync.Map // session id -> *sync.Mutex
}

// New creates a coordinator. threshold is the confidence above which a
// specialized intent triggers a handoff.
func New(gate guardrail.Gate, classifier *intent.Classifier, cat *catalog.Catalog, reg *registry.Registry, sessions *session.Store, handoffs *handoff.Manager, threshold float64, logger *zap.Logger) *Coordinator {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Coordinator{
		gate:       gate,
		classifier: classifier,
		catalog:    cat,
		registry:   reg,
		sessions:   sessions,
		handoffs:   handoffs,
		threshold:  threshold,
		logger:     logger,
	}
}

// HandleMessage runs the full pipeline for one inbound message: guardrail
// check, intent classification, then either a handoff to an external workflow
// or a local general-assistant reply.
func (c *Coordinator) HandleMessage(ctx context.Context, sessionID, userID, message string) (*Reply, error) {
	start := time.Now()

	unlock := c.lockSession(sessionID)
	defer unlock()

	sctx, err := c.sessions.GetOrCreate(ctx, sessionID, userID)
	if err != nil {
		metrics.MessagesHandled.WithLabelValues(StatusError).Inc()
		return nil, fmt.Errorf("load session: %w", err)
	}

	check, err := c.gate.Check(ctx, message, sctx)
	if err != nil {
		metrics.MessagesHandled.WithLabelValues(StatusError).Inc()
		return nil, fmt.Errorf("guardrail check: %w", err)
	}
	if !check.Pass {
		c.logger.Info("Message blocked by guardrail",
			zap.String("session_id", sessionID),
			zap.Int("violations", len(check.Violations)))
		reply := &Reply{
			Status:     StatusGuardrailViolation,
			Response:   "This request cannot be processed.",
			Violations: check.Violations,
		}
		c.finish(ctx, sessionID, message, reply, start)
		return reply, nil
	}

	result := c.classifier.Classify(ctx, message, sctx)

	var reply *Reply
	if c.shouldHandoff(result) {
		reply = c.runHandoff(ctx, sctx, result, message)
	} else {
		reply = c.respondLocally(result)
	}

	c.finish(ctx, sessionID, message, reply, start)
	return reply, nil
}

// shouldHandoff requires a confident intent aimed at a specialized category.
func (c *Coordinator) shouldHandoff(result intent.Result) bool {
	if result.Confidence < c.threshold {
		return false
	}
	if result.TargetCategory == "" || result.TargetCategory == registry.CategoryGeneral {
		return false
	}
	return true
}

func (c *Coordinator) runHandoff(ctx context.Context, sctx *session.Context, result intent.Result, message string) *Reply {
	rec, err := c.handoffs.Initiate(ctx, sctx, result.TargetCategory, message)
	if err != nil {
		var dup *handoff.DuplicateHandoffError
		switch {
		case errors.As(err, &dup):
			return &Reply{
				Status:    StatusError,
				ErrorCode: "duplicate_handoff",
				Response:  "A handoff is already in progress for this conversation. Please wait for it to finish.",
				HandoffID: dup.ActiveID,
			}
		case errors.Is(err, catalog.ErrCatalogUnavailable):
			return c.failedHandoffReply(rec, "catalog_unavailable",
				"The workflow catalog is not available yet. Please try again shortly.")
		case errors.Is(err, handoff.ErrNoWorkflowAvailable):
			return c.failedHandoffReply(rec, "no_workflow_available",
				"No specialized agent can take this request right now.")
		case errors.Is(err, handoff.ErrExternalCallTimeout):
			return c.failedHandoffReply(rec, "external_call_timeout",
				"The specialized agent did not respond in time.")
		default:
			return c.failedHandoffReply(rec, "external_call_error",
				"The specialized agent could not process this request.")
		}
	}

	// A completed handoff whose session vanished mid-flight yields no reply
	// content; the record carries the reason.
	if rec.State == handoff.StateFailed {
		return c.failedHandoffReply(rec, rec.Reason, "The request could not be completed.")
	}

	cat, _ := c.registry.Get(rec.TargetCategory)
	return &Reply{
		Status:    StatusHandoff,
		Response:  responseText(rec.Result),
		HandoffID: rec.ID,
		Agent: &AgentInfo{
			Category:     rec.TargetCategory,
			DisplayName:  cat.DisplayName,
			WorkflowID:   rec.WorkflowID,
			WorkflowName: rec.WorkflowName,
		},
	}
}

func (c *Coordinator) failedHandoffReply(rec *handoff.Record, code, text string) *Reply {
	reply := &Reply{Status: StatusError, ErrorCode: code, Response: text}
	if rec != nil {
		reply.HandoffID = rec.ID
	}
	return reply
}

// respondLocally answers general inquiries without leaving the process.
func (c *Coordinator) respondLocally(result intent.Result) *Reply {
	cat, _ := c.registry.Get(registry.CategoryGeneral)
	return &Reply{
		Status:   StatusSuccess,
		Response: "I can help with that. Could you tell me a bit more about what you need?",
		Agent:    &AgentInfo{Category: cat.ID, DisplayName: cat.DisplayName},
	}
}

// finish records the turn pair and the handling metrics. Turn recording is
// best effort; a Redis hiccup does not fail an already-produced reply.
func (c *Coordinator) finish(ctx context.Context, sessionID, message string, reply *Reply, start time.Time) {
	now := time.Now()
	if err := c.sessions.RecordTurn(ctx, sessionID, session.Turn{
		Role: "user", Content: message, Timestamp: now,
	}); err != nil {
		c.logger.Warn("Failed to record user turn", zap.Error(err))
	}
	agent := ""
	if reply.Agent != nil {
		agent = reply.Agent.Category
	}
	if err := c.sessions.RecordTurn(ctx, sessionID, session.Turn{
		Role: "assistant", Content: reply.Response, Timestamp: now, Agent: agent,
	}); err != nil {
		c.logger.Warn("Failed to record assistant turn", zap.Error(err))
	}

	metrics.MessagesHandled.WithLabelValues(reply.Status).Inc()
	metrics.MessageDuration.Observe(time.Since(start).Seconds())
}

// GetHandoffStatus returns the record for a handoff id.
func (c *Coordinator) GetHandoffStatus(id string) (*handoff.Record, error) {
	return c.handoffs.GetStatus(id)
}

// RefreshCatalog refreshes the workflow catalog and summarizes the result. A
// refresh failure is reported in the summary while the previous snapshot, if
// any, keeps serving.
func (c *Coordinator) RefreshCatalog(ctx context.Context, force bool) catalog.Summary {
	_, err := c.catalog.Refresh(ctx, force)
	return c.catalog.Summarize(err)
}

// ListAgentsWithWorkflows reports every registry category with its active
// workflow count, plus the unclassified bucket when it is non-empty.
func (c *Coordinator) ListAgentsWithWorkflows() []AgentListing {
	counts := c.catalog.CategoryCounts()

	var out []AgentListing
	for _, cat := range c.registry.Categories() {
		n := counts[cat.ID]
		out = append(out, AgentListing{
			Category:    cat.ID,
			DisplayName: cat.DisplayName,
			Keywords:    cat.Keywords,
			Fallback:    cat.Fallback,
			Workflows:   n,
			Available:   n > 0 || cat.ID == registry.CategoryGeneral,
		})
	}
	if n := counts[registry.CategoryUnclassified]; n > 0 {
		out = append(out, AgentListing{
			Category:  registry.CategoryUnclassified,
			Workflows: n,
			Available: false,
		})
	}
	return out
}

func (c *Coordinator) lockSession(sessionID string) func() {
	v, _ := c.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func responseText(result map[string]interface{}) string {
	if result == nil {
		return ""
	}
	for _, key := range []string{"response", "output", "message", "text"} {
		if s, ok := result[key].(string); ok && s != "" {
			return s
		}
	}
	return "The specialized agent has completed your request."
}
