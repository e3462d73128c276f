package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubChecker struct {
	name     string
	status   Status
	critical bool
}

func (s *stubChecker) Name() string           { return s.name }
func (s *stubChecker) IsCritical() bool       { return s.critical }
func (s *stubChecker) Timeout() time.Duration { return time.Second }
func (s *stubChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: s.status}
}

func TestManagerAggregation(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(&stubChecker{name: "a", status: StatusHealthy, critical: true}))
	require.NoError(t, m.Register(&stubChecker{name: "b", status: StatusHealthy}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	overall := m.Snapshot()
	assert.Equal(t, StatusHealthy, overall.Status)
	assert.True(t, overall.Ready)
}

func TestManagerCriticalFailureNotReady(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(&stubChecker{name: "a", status: StatusUnhealthy, critical: true}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	overall := m.Snapshot()
	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Ready)
	assert.False(t, m.IsReady())
}

func TestManagerNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(&stubChecker{name: "a", status: StatusHealthy, critical: true}))
	require.NoError(t, m.Register(&stubChecker{name: "b", status: StatusUnhealthy}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	overall := m.Snapshot()
	assert.Equal(t, StatusDegraded, overall.Status)
	assert.True(t, overall.Ready)
}

func TestManagerRejectsDuplicateChecker(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(&stubChecker{name: "a"}))
	assert.Error(t, m.Register(&stubChecker{name: "a"}))
}

func TestHandlerEndpoints(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(&stubChecker{name: "a", status: StatusUnhealthy, critical: true}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	mux := http.NewServeMux()
	NewHandler(m).Mount(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(server.URL + "/health/detailed")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
