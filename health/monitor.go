package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push their status with Update or register a check that
// runs on every Check.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]CheckFunc
	started  time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]CheckFunc),
		started:  time.Now(),
	}
}

// Register adds a check for a named component.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.statuses[name] = status
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Check runs every registered check and aggregates the results with the
// pushed statuses. Sub-statuses are ordered by component name.
func (m *Monitor) Check(ctx context.Context, systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses)+len(m.checks))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	for name, check := range checks {
		start := time.Now()
		err := check(ctx)
		subStatuses = append(subStatuses, FromError(name, err, time.Since(start)))
	}
	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})

	status := Aggregate(systemName, subStatuses)
	return status.WithMetrics(&Metrics{Uptime: time.Since(m.started), LastCheck: status.Timestamp})
}
