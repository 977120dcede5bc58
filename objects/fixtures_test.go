package objects

import (
	"context"
	"sort"
	"sync"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/value"
)

// memProvider serves objects from an in-memory table. Its wrappers re-read
// the table on Update, like wrappers over an upstream service.
type memProvider struct {
	name string

	mu      sync.Mutex
	rows    map[string]*value.Map
	types   map[string][]string
	aliases map[string][]string
	starts  int
	ends    int
	fetches int
}

func newMemProvider(name string) *memProvider {
	return &memProvider{
		name:    name,
		rows:    make(map[string]*value.Map),
		types:   make(map[string][]string),
		aliases: make(map[string][]string),
	}
}

func (p *memProvider) add(oid string, types []string, kv ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[oid] = value.MapOf(kv...).AsMap()
	p.types[oid] = types
}

func (p *memProvider) set(oid, key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[oid].Set(key, value.FromAny(v))
}

func (p *memProvider) row(oid string) (*value.Map, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rows[oid]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (p *memProvider) Name() string { return p.name }

func (p *memProvider) Object(_ context.Context, oid string) (Wrapper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rows[oid]; !ok {
		return nil, errors.ErrObjectNotFound(oid)
	}
	p.fetches++
	return &memWrapper{p: p, oid: oid}, nil
}

func (p *memProvider) OIDs(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	oids := make([]string, 0, len(p.rows))
	for oid := range p.rows {
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	return oids, nil
}

func (p *memProvider) OnQueryStart(context.Context) error {
	p.mu.Lock()
	p.starts++
	p.mu.Unlock()
	return nil
}

func (p *memProvider) OnQueryEnd(context.Context) {
	p.mu.Lock()
	p.ends++
	p.mu.Unlock()
}

func (p *memProvider) counts() (starts, ends, fetches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.ends, p.fetches
}

// aliasProvider declares aliases for its objects.
type aliasProvider struct {
	*memProvider
}

func (p *aliasProvider) InferOIDs(o *Object) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliases[o.OID()]
}

type memWrapper struct {
	p   *memProvider
	oid string
}

func (w *memWrapper) Describe(o *Object) error {
	w.p.mu.Lock()
	types := w.p.types[w.oid]
	w.p.mu.Unlock()
	o.AddTypes(types...)
	return w.Update(o)
}

func (w *memWrapper) Update(o *Object) error {
	row, ok := w.p.row(w.oid)
	if !ok {
		return errors.ErrObjectNotFound(w.oid)
	}
	o.PutMap(row)
	return nil
}

func (w *memWrapper) SetValue(o *Object, key string, v value.Value) error {
	if key == "readonly" {
		return ReadOnly{}.SetValue(o, key, v)
	}
	w.p.set(w.oid, key, v)
	o.Put(key, v)
	return nil
}

// searchProvider cannot enumerate and searches through a Matcher.
type searchProvider struct {
	*memProvider
	partial  bool
	lastExpr expr.Expr
}

func (p *searchProvider) Partial() bool { return p.partial }

func (p *searchProvider) MatchOIDs(ctx context.Context, e expr.Expr, types []string) ([]string, error) {
	p.lastExpr = e
	oids, _ := p.memProvider.OIDs(ctx)
	var out []string
	for _, oid := range oids {
		d, err := NewDetached(p.name, oid, &memWrapper{p: p.memProvider, oid: oid})
		if err != nil {
			return nil, err
		}
		if d.HasAnyType(types) && expr.Eval(e, d) {
			out = append(out, oid)
		}
	}
	return out, nil
}

// playerProcessor exposes pause only while status is 1 or 3.
type playerProcessor struct {
	name     string
	executed []*Action
}

func (p *playerProcessor) Name() string { return p.name }

func (p *playerProcessor) Actions(o *Object) []string {
	var actions []string
	switch o.Property("status").AsInt() {
	case 1, 3:
		actions = append(actions, "pause")
	}
	return append(actions, "rename", "seek")
}

func (p *playerProcessor) Describe(a *Action) error {
	switch a.Name {
	case "rename":
		a.AddParam("name", ParamString)
		a.AddParam("notify", ParamBool, Optional())
	case "seek":
		a.AddParam("position", ParamU32, Default(0))
		a.AddParam("target", ParamObjRef, Optional())
	}
	return nil
}

func (p *playerProcessor) Execute(_ context.Context, a *Action) (*Progress, error) {
	p.executed = append(p.executed, a)
	if a.Name == "seek" {
		return NewProgress(), nil
	}
	return nil, nil
}
