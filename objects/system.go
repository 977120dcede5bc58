package objects

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/value"
)

// SystemOwner is the owner of the built-in statistics objects.
const SystemOwner = "nestor"

// StatsFunc produces the current properties of a statistics object.
type StatsFunc func() *value.Map

type statsSource struct {
	types []string
	fn    StatsFunc
}

// SystemProvider serves nestor:cache, nestor:runtime and any statistics
// object added by other subsystems, such as nestor:sessions.
type SystemProvider struct {
	mu      sync.RWMutex
	sources map[string]statsSource
}

func newSystemProvider(m *Manager) *SystemProvider {
	p := &SystemProvider{sources: make(map[string]statsSource)}
	start := m.now()
	p.AddSource("cache", func() *value.Map { return cacheStats(m.cache) }, "stats", "cache")
	p.AddSource("runtime", func() *value.Map { return runtimeStats(start, m.now()) }, "stats", "runtime")
	return p
}

// AddSource publishes a statistics object under oid.
func (p *SystemProvider) AddSource(oid string, fn StatsFunc, types ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[oid] = statsSource{types: types, fn: fn}
}

func (p *SystemProvider) Name() string { return SystemOwner }

func (p *SystemProvider) Object(_ context.Context, oid string) (Wrapper, error) {
	p.mu.RLock()
	src, ok := p.sources[oid]
	p.mu.RUnlock()
	if !ok {
		return nil, errors.ErrObjectNotFound(oid)
	}
	return &statsWrapper{src: src}, nil
}

func (p *SystemProvider) OIDs(context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	oids := make([]string, 0, len(p.sources))
	for oid := range p.sources {
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	return oids, nil
}

type statsWrapper struct {
	ReadOnly
	src statsSource
}

func (w *statsWrapper) Describe(o *Object) error {
	o.AddTypes(w.src.types...)
	o.PutMap(w.src.fn())
	return nil
}

func (w *statsWrapper) Update(o *Object) error {
	o.PutMap(w.src.fn())
	return nil
}

func cacheStats(c *Cache) *value.Map {
	m := value.NewMap()
	m.Set("size", value.Int(int64(c.Size())))
	owners := value.NewMap()
	for _, st := range c.Stats() {
		owners.Set(st.Owner, value.MapOf(
			"size", st.Size,
			"hits", st.Hits,
			"misses", st.Misses,
			"aliases", st.Aliases,
		))
	}
	m.Set("owners", value.MapValue(owners))
	return m
}

func runtimeStats(start, now time.Time) *value.Map {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return value.MapOf(
		"go_version", runtime.Version(),
		"goroutines", runtime.NumGoroutine(),
		"heap_alloc", mem.HeapAlloc,
		"uptime", int64(now.Sub(start).Seconds()),
	).AsMap()
}

// systemProcessor runs maintenance actions on nestor:cache.
type systemProcessor struct {
	m *Manager
}

func (p *systemProcessor) Name() string { return SystemOwner }

func (p *systemProcessor) Actions(o *Object) []string {
	if o.Owner() == SystemOwner && o.OID() == "cache" {
		return []string{"invalidate", "clear"}
	}
	return nil
}

func (p *systemProcessor) Describe(a *Action) error {
	if a.Name == "invalidate" {
		a.AddParam("ref", ParamObjRef)
	}
	return nil
}

func (p *systemProcessor) Execute(_ context.Context, a *Action) (*Progress, error) {
	switch a.Name {
	case "invalidate":
		return nil, p.m.InvalidateRef(a.Text("ref"))
	case "clear":
		p.m.cache.Clear()
	}
	return nil, nil
}
