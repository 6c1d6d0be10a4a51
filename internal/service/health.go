package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prabinpebam/wan22-runpod/internal/adapter/runpod"
	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/infrastructure/logger"
	"github.com/prabinpebam/wan22-runpod/internal/port"
)

// HealthMonitor probes the remote service on an interval and caches the
// last report. Status is "unknown" until the API is configured and
// "error" while it is unreachable.
type HealthMonitor struct {
	runner   port.JobRunner
	bus      EventPublisher
	interval time.Duration

	mu   sync.RWMutex
	last domain.HealthReport
}

func NewHealthMonitor(runner port.JobRunner, bus EventPublisher, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		runner:   runner,
		bus:      bus,
		interval: interval,
		last:     domain.HealthReport{Status: "unknown"},
	}
}

// Start checks immediately, then on every tick until ctx is cancelled.
func (m *HealthMonitor) Start(ctx context.Context) {
	go func() {
		m.check(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
}

// Report returns the last observed health.
func (m *HealthMonitor) Report() domain.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *HealthMonitor) check(ctx context.Context) {
	report, err := m.runner.Health(ctx)
	if err != nil {
		if errors.Is(err, runpod.ErrNotConfigured) {
			report = domain.HealthReport{Status: "unknown"}
		} else {
			logger.Warn.Printf("health check failed: %v", err)
			report = domain.HealthReport{Status: "error"}
		}
	}

	m.mu.Lock()
	changed := report != m.last
	m.last = report
	m.mu.Unlock()

	if changed && m.bus != nil {
		m.bus.Publish(Event{Type: EventHealth})
	}
}
