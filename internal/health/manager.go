package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on an interval and caches their results.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	results  map[string]CheckResult

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager checking every interval.
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Manager{
		logger:   logger,
		interval: interval,
		checkers: make(map[string]Checker),
		results:  make(map[string]CheckResult),
	}
}

// Register adds a checker. Duplicate names are rejected.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[c.Name()]; exists {
		return fmt.Errorf("health checker %q already registered", c.Name())
	}
	m.checkers[c.Name()] = c
	return nil
}

// Start runs an immediate check pass then begins the periodic loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.runChecks(ctx)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runChecks(ctx)
			}
		}
	}()
}

// Stop halts the periodic loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Manager) runChecks(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
		result := c.Check(checkCtx)
		cancel()

		result.Component = c.Name()
		result.Critical = c.IsCritical()
		result.Timestamp = time.Now()

		if result.Status == StatusUnhealthy {
			m.logger.Warn("Health check failed",
				zap.String("component", c.Name()),
				zap.String("error", result.Error))
		}

		m.mu.Lock()
		m.results[c.Name()] = result
		m.mu.Unlock()
	}
}

// Snapshot aggregates the latest cached results.
func (m *Manager) Snapshot() Overall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := Overall{
		Status:    StatusHealthy,
		Ready:     true,
		Live:      true,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(m.results)),
	}

	for name, r := range m.results {
		overall.Checks[name] = r
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				overall.Status = StatusUnhealthy
				overall.Ready = false
			} else if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
			}
		case StatusDegraded:
			if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
			}
		}
	}
	return overall
}

// IsReady reports whether all critical components are healthy.
func (m *Manager) IsReady() bool {
	return m.Snapshot().Ready
}
