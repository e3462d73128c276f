package handoff

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/metrics"
	"github.com/switchboard-ai/switchboard/internal/session"
)

// Manager drives a handoff from request to terminal state. The whole
// lifecycle runs synchronously inside Initiate; callers observe intermediate
// states only through the record store.
type Manager struct {
	store    *Store
	resolver *Resolver
	executor *Executor
	sessions *session.Store
	logger   *zap.Logger
}

func NewManager(store *Store, resolver *Resolver, executor *Executor, sessions *session.Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		resolver: resolver,
		executor: executor,
		sessions: sessions,
		logger:   logger,
	}
}

// Initiate runs the full handoff lifecycle for one message. The returned
// record is always in a terminal state unless creation itself was rejected.
// Initiation errors (duplicate, catalog unavailable, no workflow, call
// failures) are returned alongside the failed record where one exists.
func (m *Manager) Initiate(ctx context.Context, sctx *session.Context, targetCategory, message string) (*Record, error) {
	rec, err := m.store.Create(sctx.ID, targetCategory)
	if err != nil {
		var dup *DuplicateHandoffError
		if errors.As(err, &dup) {
			metrics.HandoffsRejected.Inc()
		}
		return nil, err
	}
	metrics.HandoffsInitiated.WithLabelValues(targetCategory).Inc()

	rec, err = m.store.Transition(rec.ID, StateResolving, nil)
	if err != nil {
		return rec, err
	}

	res, resolveErr := m.resolver.Resolve(targetCategory)
	if resolveErr != nil {
		reason := ReasonNoWorkflowAvailable
		if errors.Is(resolveErr, catalog.ErrCatalogUnavailable) {
			reason = ReasonCatalogUnavailable
		}
		rec = m.fail(ctx, sctx, rec.ID, reason)
		return rec, resolveErr
	}

	rec, err = m.store.Transition(rec.ID, StateExecuting, func(r *Record) {
		r.WorkflowID = res.Workflow.ID
		r.WorkflowName = res.Workflow.Name
		r.UsedFallback = res.UsedFallback
		r.ResolvedVia = res.Chain
	})
	if err != nil {
		return rec, err
	}
	if res.UsedFallback {
		metrics.FallbacksUsed.WithLabelValues(targetCategory, res.Workflow.Category).Inc()
	}

	result, callErr := m.executor.Invoke(ctx, res.Workflow, message, rec.CorrelationID, sctx)
	if callErr != nil {
		reason := ReasonExternalCallError
		if errors.Is(callErr, ErrExternalCallTimeout) {
			reason = ReasonExternalCallTimeout
		}
		rec = m.fail(ctx, sctx, rec.ID, reason)
		return rec, callErr
	}

	// The session may have been torn down while the workflow ran. Its
	// result must not resurrect the conversation.
	if !m.sessions.Exists(ctx, sctx.ID) {
		m.logger.Info("Session gone before handoff result could land",
			zap.String("handoff_id", rec.ID),
			zap.String("session_id", sctx.ID))
		rec = m.fail(ctx, sctx, rec.ID, ReasonSuperseded)
		return rec, nil
	}

	terminal := StateCompleted
	if res.UsedFallback {
		terminal = StateFallbackCompleted
	}
	rec, err = m.store.Transition(rec.ID, terminal, func(r *Record) {
		r.Result = result
	})
	if err != nil {
		return rec, err
	}

	m.appendToSession(ctx, sctx.ID, rec.ID)

	metrics.RecordHandoffTerminal(targetCategory, string(terminal), time.Since(rec.CreatedAt).Seconds())
	return rec, nil
}

// GetStatus returns a snapshot of the record, or ErrRecordNotFound.
func (m *Manager) GetStatus(id string) (*Record, error) {
	return m.store.Get(id)
}

// fail marks the record FAILED. The session's handoff history carries every
// terminal record, failures included; only a superseded record stays out,
// because its session is gone and must not be written to.
func (m *Manager) fail(ctx context.Context, sctx *session.Context, id, reason string) *Record {
	rec, err := m.store.Transition(id, StateFailed, func(r *Record) {
		r.Reason = reason
	})
	if err != nil {
		m.logger.Error("Failed to mark handoff failed",
			zap.String("handoff_id", id), zap.Error(err))
		rec, _ = m.store.Get(id)
		return rec
	}
	if reason != ReasonSuperseded {
		m.appendToSession(ctx, sctx.ID, rec.ID)
	}
	metrics.RecordHandoffTerminal(rec.TargetCategory, string(StateFailed), time.Since(rec.CreatedAt).Seconds())
	return rec
}

func (m *Manager) appendToSession(ctx context.Context, sessionID, handoffID string) {
	if err := m.sessions.AppendHandoff(ctx, sessionID, handoffID); err != nil {
		m.logger.Warn("Failed to append handoff to session",
			zap.String("handoff_id", handoffID), zap.Error(err))
	}
}
