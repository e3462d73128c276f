package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/coordinator"
	"github.com/switchboard-ai/switchboard/internal/guardrail"
	"github.com/switchboard-ai/switchboard/internal/handoff"
	"github.com/switchboard-ai/switchboard/internal/intent"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/session"
)

type fixedModel struct {
	out intent.ModelOutput
}

func (f *fixedModel) Classify(ctx context.Context, message string, sctx *session.Context) (*intent.ModelOutput, error) {
	out := f.out
	return &out, nil
}

type fixedListing struct {
	workflows []catalog.RemoteWorkflow
}

func (f *fixedListing) ListWorkflows(ctx context.Context) ([]catalog.RemoteWorkflow, error) {
	return f.workflows, nil
}

func newAPIServer(t *testing.T, workflows []catalog.RemoteWorkflow, model *fixedModel) *httptest.Server {
	t.Helper()

	reg := registry.New(registry.DefaultCategories())
	cat := catalog.New(&fixedListing{workflows: workflows}, reg, time.Minute, 600, zap.NewNop())
	_, err := cat.Refresh(context.Background(), true)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	sessions := session.NewStoreFromClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		session.Options{}, zap.NewNop())

	mgr := handoff.NewManager(
		handoff.NewStore(100),
		handoff.NewResolver(cat, reg, 5, zap.NewNop()),
		handoff.NewExecutor(time.Second, zap.NewNop()),
		sessions,
		zap.NewNop(),
	)
	classifier := intent.NewClassifier(model, reg, 0.3, zap.NewNop())
	coord := coordinator.New(guardrail.NoopGate{}, classifier, cat, reg, sessions, mgr, 0.7, zap.NewNop())

	mux := http.NewServeMux()
	NewHandler(coord, zap.NewNop()).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestMessagesEndpoint(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"response": "done"})
	}))
	defer webhook.Close()

	model := &fixedModel{out: intent.ModelOutput{Intent: "faq", Confidence: 0.9, TargetAgent: "faq"}}
	server := newAPIServer(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "FAQ helper", Description: "support questions", WebhookURL: webhook.URL, Active: true},
	}, model)

	resp := postJSON(t, server.URL+"/v1/messages", map[string]string{
		"session_id": "sess-1",
		"message":    "how do I log in",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply coordinator.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, coordinator.StatusHandoff, reply.Status)
	assert.Equal(t, "done", reply.Response)
	assert.NotEmpty(t, reply.HandoffID)

	// The handoff record is retrievable.
	statusResp, err := http.Get(server.URL + "/v1/handoffs/" + reply.HandoffID)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var rec handoff.Record
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&rec))
	assert.Equal(t, handoff.StateCompleted, rec.State)
}

func TestMessagesEndpointValidation(t *testing.T) {
	model := &fixedModel{out: intent.ModelOutput{Intent: "general_inquiry", Confidence: 0.1}}
	server := newAPIServer(t, nil, model)

	// Missing fields.
	resp := postJSON(t, server.URL+"/v1/messages", map[string]string{"message": "hi"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown fields rejected.
	resp = postJSON(t, server.URL+"/v1/messages", map[string]string{
		"session_id": "s", "message": "hi", "bogus": "x",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Wrong method.
	getResp, err := http.Get(server.URL + "/v1/messages")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestHandoffStatusNotFound(t *testing.T) {
	model := &fixedModel{out: intent.ModelOutput{Intent: "general_inquiry", Confidence: 0.1}}
	server := newAPIServer(t, nil, model)

	resp, err := http.Get(server.URL + "/v1/handoffs/no-such-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCatalogRefreshEndpoint(t *testing.T) {
	model := &fixedModel{out: intent.ModelOutput{Intent: "general_inquiry", Confidence: 0.1}}
	server := newAPIServer(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "FAQ helper", Description: "support questions", Active: true},
	}, model)

	resp := postJSON(t, server.URL+"/v1/catalog/refresh?force=true", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary catalog.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 1, summary.Workflows)
}

func TestAgentsEndpoint(t *testing.T) {
	model := &fixedModel{out: intent.ModelOutput{Intent: "general_inquiry", Confidence: 0.1}}
	server := newAPIServer(t, []catalog.RemoteWorkflow{
		{ID: "wf-1", Name: "FAQ helper", Description: "support questions", Active: true},
	}, model)

	resp, err := http.Get(server.URL + "/v1/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Agents []coordinator.AgentListing `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Agents)

	found := false
	for _, a := range body.Agents {
		if a.Category == "faq" {
			found = true
			assert.Equal(t, 1, a.Workflows)
			assert.True(t, a.Available)
		}
	}
	assert.True(t, found)
}
