package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/guardrail"
	"github.com/switchboard-ai/switchboard/internal/handoff"
	"github.com/switchboard-ai/switchboard/internal/intent"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/session"
)

type fakeModel struct {
	mu  sync.Mutex
	out *intent.ModelOutput
	err error
}

func (f *fakeModel) Classify(ctx context.Context, message string, sctx *session.Context) (*intent.ModelOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := *f.out
	return &out, nil
}

type fakeGate struct {
	result *guardrail.CheckResult
}

func (f *fakeGate) Check(ctx context.Context, message string, sctx *session.Context) (*guardrail.CheckResult, error) {
	if f.result != nil {
		return f.result, nil
	}
	return &guardrail.CheckResult{Pass: true}, nil
}

func (f *fakeGate) Mode() guardrail.Mode { return guardrail.ModeEnforce }

type staticListing struct {
	workflows []catalog.RemoteWorkflow
}

func (s *staticListing) ListWorkflows(ctx context.Context) ([]catalog.RemoteWorkflow, error) {
	return s.workflows, nil
}

type fixture struct {
	coord    *Coordinator
	sessions *session.Store
	model    *fakeModel
	gate     *fakeGate
	catalog  *catalog.Catalog
}

func newFixture(t *testing.T, workflows []catalog.RemoteWorkflow, webhookTimeout time.Duration) *fixture {
	t.Helper()

	reg := registry.New(registry.DefaultCategories())
	cat := catalog.New(&staticListing{workflows: workflows}, reg, time.Minute, 600, zap.NewNop())
	_, err := cat.Refresh(context.Background(), true)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	sessions := session.NewStoreFromClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		session.Options{}, zap.NewNop())

	model := &fakeModel{out: &intent.ModelOutput{Intent: "general_inquiry", Confidence: 0.2}}
	gate := &fakeGate{}

	mgr := handoff.NewManager(
		handoff.NewStore(100),
		handoff.NewResolver(cat, reg, 5, zap.NewNop()),
		handoff.NewExecutor(webhookTimeout, zap.NewNop()),
		sessions,
		zap.NewNop(),
	)

	classifier := intent.NewClassifier(model, reg, 0.3, zap.NewNop())
	coord := New(gate, classifier, cat, reg, sessions, mgr, 0.7, zap.NewNop())
	return &fixture{coord: coord, sessions: sessions, model: model, gate: gate, catalog: cat}
}

// Specialized request with an available workflow completes as a handoff and
// the conversation history carries both turns.
func TestHandleMessageSpecializedRequestHandsOff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"response": "here is your report"})
	}))
	defer server.Close()

	fx := newFixture(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "Report builder", Description: "generate report exports", WebhookURL: server.URL, Active: true},
	}, 5*time.Second)
	fx.model.out = &intent.ModelOutput{Intent: "report_request", Confidence: 0.92, TargetAgent: "report_generation"}

	reply, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "generate the Q3 report")
	require.NoError(t, err)
	assert.Equal(t, StatusHandoff, reply.Status)
	assert.Equal(t, "here is your report", reply.Response)
	require.NotNil(t, reply.Agent)
	assert.Equal(t, "report_generation", reply.Agent.Category)
	assert.NotEmpty(t, reply.HandoffID)

	rec, err := fx.coord.GetHandoffStatus(reply.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, handoff.StateCompleted, rec.State)

	sctx, err := fx.sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sctx.TurnCount)
	require.Len(t, sctx.History, 2)
	assert.Equal(t, "user", sctx.History[0].Role)
	assert.Equal(t, "assistant", sctx.History[1].Role)
	assert.Equal(t, "report_generation", sctx.History[1].Agent)
}

// A low-confidence general inquiry is answered locally with no handoff record.
func TestHandleMessageGeneralInquiryAnsweredLocally(t *testing.T) {
	fx := newFixture(t, nil, time.Second)
	fx.model.out = &intent.ModelOutput{Intent: "general_inquiry", Confidence: 0.95}

	reply, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, reply.Status)
	assert.NotEmpty(t, reply.Response)
	require.NotNil(t, reply.Agent)
	assert.Equal(t, registry.CategoryGeneral, reply.Agent.Category)
	assert.Empty(t, reply.HandoffID)
}

// Confident intent but no workflow anywhere on the chain: the reply reports
// the failure and the record lands in FAILED.
func TestHandleMessageNoWorkflowAvailable(t *testing.T) {
	fx := newFixture(t, nil, time.Second)
	fx.model.out = &intent.ModelOutput{Intent: "data_request", Confidence: 0.9, TargetAgent: "data_analysis"}

	reply, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "analyze my sales data")
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, "no_workflow_available", reply.ErrorCode)
	require.NotEmpty(t, reply.HandoffID)

	rec, err := fx.coord.GetHandoffStatus(reply.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, handoff.StateFailed, rec.State)
	assert.Equal(t, handoff.ReasonNoWorkflowAvailable, rec.Reason)

	// The failed handoff released the per-session guard; the next message
	// can hand off again.
	reply2, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "try again")
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply2.Status)
	assert.NotEqual(t, reply.HandoffID, reply2.HandoffID)
}

// Webhook that never answers in time fails the handoff with a timeout reason.
func TestHandleMessageWebhookTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	fx := newFixture(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "FAQ helper", Description: "support questions", WebhookURL: server.URL, Active: true},
	}, 50*time.Millisecond)
	fx.model.out = &intent.ModelOutput{Intent: "faq", Confidence: 0.9, TargetAgent: "faq"}

	reply, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "how do I log in")
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, "external_call_timeout", reply.ErrorCode)

	rec, err := fx.coord.GetHandoffStatus(reply.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, handoff.StateFailed, rec.State)
	assert.Equal(t, handoff.ReasonExternalCallTimeout, rec.Reason)
}

// A guardrail block short-circuits before classification or handoff.
func TestHandleMessageGuardrailViolation(t *testing.T) {
	fx := newFixture(t, nil, time.Second)
	fx.gate.result = &guardrail.CheckResult{
		Pass:       false,
		Violations: []guardrail.Violation{{Rule: "blocked_content", Severity: "high"}},
	}
	fx.model.out = &intent.ModelOutput{Intent: "faq", Confidence: 0.9, TargetAgent: "faq"}

	reply, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "do something forbidden")
	require.NoError(t, err)
	assert.Equal(t, StatusGuardrailViolation, reply.Status)
	require.Len(t, reply.Violations, 1)
	assert.Equal(t, "blocked_content", reply.Violations[0].Rule)
	assert.Empty(t, reply.HandoffID)
}

// Classifier outage degrades to a local general reply, never an error.
func TestHandleMessageClassifierFailureDegrades(t *testing.T) {
	fx := newFixture(t, nil, time.Second)
	fx.model.err = context.DeadlineExceeded

	reply, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, reply.Status)
}

func TestHandleMessageFallbackWorkflowUsed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"response": "handled by faq"})
	}))
	defer server.Close()

	fx := newFixture(t, []catalog.RemoteWorkflow{
		{ID: "wf-faq", Name: "FAQ helper", Description: "support questions", WebhookURL: server.URL, Active: true},
	}, 5*time.Second)
	fx.model.out = &intent.ModelOutput{Intent: "data_request", Confidence: 0.9, TargetAgent: "data_analysis"}

	reply, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "crunch these numbers")
	require.NoError(t, err)
	assert.Equal(t, StatusHandoff, reply.Status)

	rec, err := fx.coord.GetHandoffStatus(reply.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, handoff.StateFallbackCompleted, rec.State)
	assert.True(t, rec.UsedFallback)
}

func TestListAgentsWithWorkflows(t *testing.T) {
	fx := newFixture(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "FAQ helper", Description: "support questions", Active: true},
		{ID: "wf-2", Name: "Mystery workflow", Description: "entirely unrelated text", Active: true},
	}, time.Second)

	listings := fx.coord.ListAgentsWithWorkflows()

	byCategory := make(map[string]AgentListing)
	for _, l := range listings {
		byCategory[l.Category] = l
	}

	assert.Equal(t, 1, byCategory["faq"].Workflows)
	assert.True(t, byCategory["faq"].Available)
	assert.Equal(t, 0, byCategory["data_analysis"].Workflows)
	assert.False(t, byCategory["data_analysis"].Available)
	assert.True(t, byCategory[registry.CategoryGeneral].Available)

	unclassified, ok := byCategory[registry.CategoryUnclassified]
	require.True(t, ok)
	assert.Equal(t, 1, unclassified.Workflows)
	assert.False(t, unclassified.Available)
}

func TestRefreshCatalogSummary(t *testing.T) {
	fx := newFixture(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "FAQ helper", Description: "support questions", Active: true},
	}, time.Second)

	summary := fx.coord.RefreshCatalog(context.Background(), false)
	assert.Equal(t, 1, summary.Workflows)
	assert.False(t, summary.Stale)
	assert.Empty(t, summary.Error)
}

// Messages for the same session are serialized; a slow handoff holds the next
// message until it finishes.
func TestHandleMessagePerSessionSerialization(t *testing.T) {
	var inFlight sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, loaded := inFlight.LoadOrStore("sess-1", true); loaded {
			t.Error("concurrent webhook call for the same session")
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Delete("sess-1")
		json.NewEncoder(w).Encode(map[string]interface{}{"response": "ok"})
	}))
	defer server.Close()

	fx := newFixture(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "FAQ helper", Description: "support questions", WebhookURL: server.URL, Active: true},
	}, 5*time.Second)
	fx.model.out = &intent.ModelOutput{Intent: "faq", Confidence: 0.9, TargetAgent: "faq"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.coord.HandleMessage(context.Background(), "sess-1", "u1", "question")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
