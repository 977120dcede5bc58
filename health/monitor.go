package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest status reported by each supervised worker.
type Monitor struct {
	mu   sync.RWMutex
	last map[string]Status
}

// NewMonitor returns a monitor tracking nothing.
func NewMonitor() *Monitor {
	return &Monitor{last: make(map[string]Status)}
}

// Update replaces the status of name. The status is renamed to name and
// stamped when it carries no timestamp.
func (m *Monitor) Update(name string, s Status) {
	s.Component = name
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.last[name] = s
	m.mu.Unlock()
}

func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.last[name]
	return s, ok
}

func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.last, name)
	m.mu.Unlock()
}

func (m *Monitor) snapshot() []Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.last))
	for _, s := range m.last {
		subs = append(subs, s)
	}
	m.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return subs
}

// AggregateHealth reports the worst tracked status under systemName, with
// sub-statuses ordered by component.
func (m *Monitor) AggregateHealth(systemName string) Status {
	return Aggregate(systemName, m.snapshot())
}

// Handler serves AggregateHealth as JSON. Unhealthy systems answer 503 so
// that probes fail; degraded ones still answer 200.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s := m.AggregateHealth(systemName)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if s.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(s)
	})
}
