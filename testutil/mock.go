package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	nerrors "github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/value"
)

// MemProvider serves objects from an in-memory table. Its wrappers re-read
// the table on Update, so Set is visible on the next lookup.
type MemProvider struct {
	name string

	mu      sync.Mutex
	rows    map[string]*value.Map
	types   map[string][]string
	fetches int
}

var (
	_ objects.Provider   = (*MemProvider)(nil)
	_ objects.Enumerator = (*MemProvider)(nil)
)

// NewMemProvider creates an empty provider for owner name.
func NewMemProvider(name string) *MemProvider {
	return &MemProvider{
		name:  name,
		rows:  make(map[string]*value.Map),
		types: make(map[string][]string),
	}
}

// Add stores an object. kv alternates property names and plain Go values.
func (p *MemProvider) Add(oid string, types []string, kv ...any) *MemProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[oid] = value.MapOf(kv...).AsMap()
	p.types[oid] = types
	return p
}

// Set changes one property of a stored object.
func (p *MemProvider) Set(oid, key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row, ok := p.rows[oid]; ok {
		row.Set(key, value.FromAny(v))
	}
}

// Remove deletes an object.
func (p *MemProvider) Remove(oid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rows, oid)
	delete(p.types, oid)
}

// Fetches returns how many wrappers were created.
func (p *MemProvider) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// Name returns the owner name.
func (p *MemProvider) Name() string { return p.name }

// Object returns a wrapper for a stored oid.
func (p *MemProvider) Object(_ context.Context, oid string) (objects.Wrapper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rows[oid]; !ok {
		return nil, nerrors.ErrObjectNotFound(oid)
	}
	p.fetches++
	return &memWrapper{p: p, oid: oid}, nil
}

// OIDs lists stored oids in order.
func (p *MemProvider) OIDs(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	oids := make([]string, 0, len(p.rows))
	for oid := range p.rows {
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	return oids, nil
}

type memWrapper struct {
	p   *MemProvider
	oid string
}

func (w *memWrapper) Describe(o *objects.Object) error {
	w.p.mu.Lock()
	types := w.p.types[w.oid]
	w.p.mu.Unlock()
	o.AddTypes(types...)
	return w.Update(o)
}

func (w *memWrapper) Update(o *objects.Object) error {
	w.p.mu.Lock()
	row, ok := w.p.rows[w.oid]
	if ok {
		row = row.Clone()
	}
	w.p.mu.Unlock()
	if !ok {
		return nerrors.ErrObjectNotFound(w.oid)
	}
	o.PutMap(row)
	return nil
}

func (w *memWrapper) SetValue(o *objects.Object, key string, v value.Value) error {
	w.p.Set(w.oid, key, v)
	o.Put(key, v)
	return nil
}

// PlayerProcessor is a processor for objects with a "status" property.
// "play" is offered unless status is "playing", "stop" only while it is.
// "enqueue" takes parameters and "scan" completes asynchronously.
type PlayerProcessor struct {
	name string

	mu       sync.Mutex
	executed []Execution

	// Err, when set, is returned by Execute.
	Err error
}

// Execution records one executed action.
type Execution struct {
	Action string
	Ref    string
	Params map[string]value.Value
	ID     string
}

var _ objects.Processor = (*PlayerProcessor)(nil)

// NewPlayerProcessor creates a processor named name.
func NewPlayerProcessor(name string) *PlayerProcessor {
	return &PlayerProcessor{name: name}
}

// Name returns the processor name.
func (p *PlayerProcessor) Name() string { return p.name }

// Actions lists the actions applicable to o.
func (p *PlayerProcessor) Actions(o *objects.Object) []string {
	if o.Property("status").AsString() == "playing" {
		return []string{"enqueue", "scan", "stop"}
	}
	return []string{"enqueue", "play", "scan"}
}

// Describe declares action parameters.
func (p *PlayerProcessor) Describe(a *objects.Action) error {
	if a.Name == "enqueue" {
		a.AddParam("playlist", objects.ParamObjRef)
		a.AddParam("position", objects.ParamU32, objects.Default(0))
		a.AddParam("shuffle", objects.ParamBool, objects.Optional())
	}
	return nil
}

// Execute records the action and returns a progress handle for "scan".
func (p *PlayerProcessor) Execute(_ context.Context, a *objects.Action) (*objects.Progress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}

	params := make(map[string]value.Value)
	for _, prm := range a.Params() {
		if v, ok := a.Value(prm.Name); ok {
			params[prm.Name] = v
		}
	}
	exec := Execution{Action: a.Name, Ref: a.Target.Ref(), Params: params}

	var progress *objects.Progress
	if a.Name == "scan" {
		progress = objects.NewProgress()
		exec.ID = progress.ID
	}
	p.executed = append(p.executed, exec)
	return progress, nil
}

// Executed returns the recorded executions.
func (p *PlayerProcessor) Executed() []Execution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Execution(nil), p.executed...)
}

// MockWorker is a supervised worker whose body is RunFunc. Without RunFunc
// it blocks until its context is done.
type MockWorker struct {
	name string

	mu      sync.Mutex
	runs    int
	started chan struct{}

	RunFunc func(ctx context.Context, run int) error
}

// NewMockWorker creates a worker named name.
func NewMockWorker(name string, fn func(ctx context.Context, run int) error) *MockWorker {
	return &MockWorker{name: name, RunFunc: fn, started: make(chan struct{}, 64)}
}

// Name returns the worker name.
func (w *MockWorker) Name() string { return w.name }

// Run counts the call and runs RunFunc.
func (w *MockWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.runs++
	run := w.runs
	w.mu.Unlock()

	select {
	case w.started <- struct{}{}:
	default:
	}

	if w.RunFunc != nil {
		return w.RunFunc(ctx, run)
	}
	<-ctx.Done()
	return nil
}

// Runs returns how many times Run was called.
func (w *MockWorker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Started receives one value per Run call.
func (w *MockWorker) Started() <-chan struct{} { return w.started }

// Common test errors
var (
	ErrMockFailed     = errors.New("mock operation failed")
	ErrMockConnection = errors.New("mock connection error")
)
