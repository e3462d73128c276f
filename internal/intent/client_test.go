package intent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/switchboard-ai/switchboard/internal/session"
)

func TestHTTPModelClientRoundTrip(t *testing.T) {
	var captured classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/intent/classify", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(ModelOutput{Intent: "faq_lookup", Confidence: 0.7, TargetAgent: "faq"})
	}))
	defer srv.Close()

	client := NewHTTPModelClient(srv.URL, 2*time.Second, zaptest.NewLogger(t))

	sctx := &session.Context{
		TurnCount: 3,
		History:   []session.Turn{{Role: "user", Content: "earlier question"}},
	}
	out, err := client.Classify(context.Background(), "where is the manual?", sctx)
	require.NoError(t, err)

	assert.Equal(t, "faq_lookup", out.Intent)
	assert.Equal(t, 0.7, out.Confidence)
	assert.Equal(t, "where is the manual?", captured.Message)
	assert.Equal(t, 3, captured.Context.TurnCount)
	require.Len(t, captured.Context.RecentHistory, 1)
}

func TestHTTPModelClientNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPModelClient(srv.URL, 2*time.Second, zaptest.NewLogger(t))
	_, err := client.Classify(context.Background(), "hello", nil)
	assert.Error(t, err)
}
