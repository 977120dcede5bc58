package objects

import (
	"context"
	"sort"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/value"
)

// Query is the scope of one client request. Each provider it touches gets
// one OnQueryStart, and one OnQueryEnd when the query ends. A Query is used
// by a single goroutine.
type Query struct {
	m       *Manager
	ctx     context.Context
	order   []QueryHooks
	started map[string]bool
	ended   bool
}

// Context returns the request context.
func (q *Query) Context() context.Context { return q.ctx }

func (q *Query) enter(owner string) (Provider, error) {
	p, err := q.m.provider(owner)
	if err != nil {
		return nil, err
	}
	if q.started[owner] {
		return p, nil
	}
	if hooks, ok := p.(QueryHooks); ok {
		if err := hooks.OnQueryStart(q.ctx); err != nil {
			return nil, propagate(err, "Query", "start query on "+owner)
		}
		q.order = append(q.order, hooks)
	}
	q.started[owner] = true
	return p, nil
}

// End calls OnQueryEnd on every provider started by the query, in start
// order. Calling it twice is harmless.
func (q *Query) End() {
	if q.ended {
		return
	}
	q.ended = true
	for _, hooks := range q.order {
		hooks.OnQueryEnd(q.ctx)
	}
}

// Get resolves a reference.
func (q *Query) Get(ref string) (*Object, error) {
	owner, oid, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	p, err := q.enter(owner)
	if err != nil {
		return nil, err
	}
	return q.resolve(p, oid)
}

func (q *Query) resolve(p Provider, oid string) (*Object, error) {
	owner := p.Name()
	now := q.m.now()

	if o, ok := q.m.cache.Lookup(owner, oid); ok {
		o.touch(now)
		if err := o.wrapper.Update(o); err != nil {
			return nil, propagate(err, "Get", "update "+o.Ref())
		}
		return o, nil
	}

	w, err := p.Object(q.ctx, oid)
	if err != nil {
		return nil, propagate(err, "Get", "fetch "+Ref(owner, oid))
	}
	if w == nil {
		return nil, errors.ErrObjectNotFound(oid)
	}
	o := newObject(owner, oid, w)
	if err := o.describe(); err != nil {
		return nil, propagate(err, "Get", "describe "+o.Ref())
	}

	cur, stored := q.m.cache.Put(o)
	if !stored {
		// Lost a race with a concurrent lookup; use the cached instance.
		if err := cur.wrapper.Update(cur); err != nil {
			return nil, propagate(err, "Get", "update "+cur.Ref())
		}
	}
	cur.touch(now)
	return cur, nil
}

// MatchObjects searches the owners of req in order and returns the matching
// objects owner by owner, optionally sorted, with offset and limit applied
// to the whole result.
func (q *Query) MatchObjects(req MatchRequest) ([]*Object, error) {
	var out []*Object
	for _, owner := range req.Owners {
		p, err := q.enter(owner)
		if err != nil {
			return nil, err
		}
		found, err := q.matchOwner(p, req)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	if req.SortField != "" {
		sortObjects(out, req.SortField, req.SortReverse)
	}
	return window(out, req.Offset, req.Limit), nil
}

func (q *Query) matchOwner(p Provider, req MatchRequest) ([]*Object, error) {
	if m, ok := p.(Matcher); ok {
		oids, err := m.MatchOIDs(q.ctx, req.Expr, req.Types)
		if err != nil {
			return nil, propagate(err, "MatchObjects", "match on "+p.Name())
		}
		return q.resolveAll(p, oids, nil, nil)
	}

	oids, err := p.(Enumerator).OIDs(q.ctx)
	if err != nil {
		return nil, propagate(err, "MatchObjects", "enumerate "+p.Name())
	}
	return q.resolveAll(p, oids, req.Expr, req.Types)
}

// resolveAll resolves oids, skipping objects that vanished meanwhile, and
// filters them when e or types are given.
func (q *Query) resolveAll(p Provider, oids []string, e expr.Expr, types []string) ([]*Object, error) {
	out := make([]*Object, 0, len(oids))
	for _, oid := range oids {
		o, err := q.resolve(p, oid)
		if errors.Is(err, &errors.ObjectError{Code: errors.CodeObjectNotFound}) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !o.HasAnyType(types) || !expr.Eval(e, o) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// sortObjects orders by a property. Objects without the property, or with
// a value not comparable to the others, come last.
func sortObjects(objs []*Object, field string, reverse bool) {
	sort.SliceStable(objs, func(i, j int) bool {
		a, aok := objs[i].Get(field)
		b, bok := objs[j].Get(field)
		aok = aok && !a.IsNull()
		bok = bok && !b.IsNull()
		switch {
		case !aok:
			return false
		case !bok:
			return true
		}
		c, ok := value.Compare(a, b)
		if !ok {
			return false
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
}

func window(objs []*Object, offset, limit int) []*Object {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(objs) {
		return []*Object{}
	}
	objs = objs[offset:]
	if limit >= 0 && limit < len(objs) {
		objs = objs[:limit]
	}
	return objs
}

// GetActions returns the actions of a processor applicable to ref, each
// described.
func (q *Query) GetActions(processor, ref string) ([]*Action, error) {
	d, err := q.m.processor(processor)
	if err != nil {
		return nil, err
	}
	o, err := q.Get(ref)
	if err != nil {
		return nil, err
	}
	names := d.Actions(o)
	actions := make([]*Action, 0, len(names))
	for _, name := range names {
		a := newAction(d.Name(), name, o)
		if err := d.describe(a); err != nil {
			return nil, propagate(err, "GetActions", "describe "+name)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// DoAction describes then executes one action with the given parameters.
func (q *Query) DoAction(processor, action, ref string, params map[string]value.Value) (*Progress, error) {
	d, err := q.m.processor(processor)
	if err != nil {
		return nil, err
	}
	o, err := q.Get(ref)
	if err != nil {
		return nil, err
	}
	a := newAction(d.Name(), action, o)
	if err := d.describe(a); err != nil {
		return nil, propagate(err, "DoAction", "describe "+action)
	}

	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := a.Set(n, params[n]); err != nil {
			return nil, err
		}
	}

	q.m.logger.Debug("Execute action", "processor", processor, "action", action, "objref", ref)
	progress, err := d.execute(q.ctx, a)
	return progress, propagate(err, "DoAction", "execute "+action)
}
