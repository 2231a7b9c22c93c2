package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/pool"
)

// StatsSource reports the worker pool state. *pool.Pool implements it.
type StatsSource interface {
	Stats() pool.Stats
}

// Dependency is an external system the watcher relies on.
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
	// Critical dependencies stop the pool when down; others only degrade it.
	Critical bool
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	stats      StatsSource
	deps       []Dependency
	interval   time.Duration
	now        func() time.Time
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(stats StatsSource, deps ...Dependency) *Monitor {
	return &Monitor{
		stats:    stats,
		deps:     deps,
		interval: 10 * time.Second,
		now:      time.Now,
	}
}

// CheckHealth checks every dependency and evaluates the pool.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Dependency pings are cached between checks; pool stats are always fresh.
	if m.lastReport == nil || m.now().Sub(m.lastCheck) >= m.interval {
		components := make(map[string]ComponentHealth, len(m.deps))
		for _, dep := range m.deps {
			c := ComponentHealth{Name: dep.Name, Status: StatusHealthy}
			if err := dep.Check(ctx); err != nil {
				c.Status = StatusDegraded
				if dep.Critical {
					c.Status = StatusCritical
				}
				c.Error = err.Error()
			}
			components[dep.Name] = c
		}
		m.lastCheck = m.now()
		m.lastReport = &HealthReport{Components: components}
	}

	report := *m.lastReport
	report.Pool = m.stats.Stats()
	report.PoolStatus = poolStatus(report.Pool)

	report.SystemStatus = report.PoolStatus
	for _, c := range report.Components {
		report.SystemStatus = worst(report.SystemStatus, c.Status)
	}
	return report
}

// poolStatus degrades when most finished sessions were abandoned.
func poolStatus(s pool.Stats) SystemStatus {
	if s.Completed < 4 {
		return StatusHealthy
	}
	abandoned := s.Outcomes[domain.StateAbandoned.String()]
	switch {
	case abandoned == s.Completed:
		return StatusCritical
	case abandoned*2 >= s.Completed:
		return StatusDegraded
	}
	return StatusHealthy
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
