package guardrail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPGateBlocksOnServiceDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpCheckRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(httpCheckResponse{
			Pass:       false,
			Violations: []Violation{{Rule: "pii", Severity: "high", Message: "contains PII"}},
		})
	}))
	defer server.Close()

	gate := NewHTTPGate(server.URL, ModeEnforce, false, 2*time.Second, zap.NewNop())
	result, err := gate.Check(context.Background(), "my ssn is 123", nil)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "pii", result.Violations[0].Rule)
}

func TestHTTPGateFailOpenOnServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gate := NewHTTPGate(server.URL, ModeEnforce, false, 2*time.Second, zap.NewNop())
	result, err := gate.Check(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestHTTPGateFailClosedOnServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gate := NewHTTPGate(server.URL, ModeEnforce, true, 2*time.Second, zap.NewNop())
	result, err := gate.Check(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "service_unavailable", result.Violations[0].Rule)
}

func TestHTTPGateDryRunPasses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(httpCheckResponse{Pass: false, Violations: []Violation{{Rule: "x"}}})
	}))
	defer server.Close()

	gate := NewHTTPGate(server.URL, ModeDryRun, false, 2*time.Second, zap.NewNop())
	result, err := gate.Check(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Len(t, result.Violations, 1)
}
