package health

import (
	"sort"
	"sync"
	"time"
)

// Checker reports the current health of one component.
type Checker func() Status

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
	started  time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
		started:  time.Now(),
	}
}

// Register adds a checker polled by Check. It replaces any earlier checker
// or pushed status for name.
func (m *Monitor) Register(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = check
	delete(m.statuses, name)
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

// Get returns the status for a named component, polling its checker if it
// has one.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	check, hasChecker := m.checkers[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if hasChecker {
		s := check()
		s.Component = name
		return s, true
	}
	return status, exists
}

// GetAll returns every component's current status
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	result := make(map[string]Status, len(m.statuses)+len(checkers))
	for name, status := range m.statuses {
		result[name] = status
	}
	m.mu.RUnlock()

	// Checkers run outside the lock
	for name, check := range checkers {
		s := check()
		s.Component = name
		result[name] = s
	}
	return result
}

// Check polls every checker and aggregates all statuses under systemName.
func (m *Monitor) Check(systemName string) Status {
	all := m.GetAll()
	subs := make([]Status, 0, len(all))
	for _, s := range all {
		subs = append(subs, s)
	}

	status := Aggregate(systemName, subs)
	return status.WithMetrics(&Metrics{Uptime: time.Since(m.started)})
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checkers, name)
}

// ListComponents returns the monitored component names in ascending order
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.checkers))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses) + len(m.checkers)
}
