package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/value"
)

// BodyID is the target id of ops on the document body.
const BodyID = "body"

// ErrUnknownHandler is returned for handler ids that are not registered,
// usually because their element was removed since the page was rendered.
var ErrUnknownHandler = errors.New("unknown handler")

// ErrNoPage is returned by round-trips reaching a manager that never built
// a page, such as one recreated for a session revived after a restart. The
// browser page is stale and must be reloaded.
var ErrNoPage = errors.New("no page built")

// RootFunc returns a fresh, uninitialised root element.
type RootFunc func() Element

// ValueStore persists per-session element values.
type ValueStore interface {
	Load(key string) (value.Value, bool)
	Save(key string, v value.Value) error
}

type handlerEntry struct {
	el *Base
	fn HandlerFunc
}

type dropEntry struct {
	el *Base
	fn DropFunc
}

// DragSource is a drag source registered by MakeDraggable.
type DragSource struct {
	ObjRef string
	Label  string
}

// OutputManager mirrors the element tree of one session and records the
// ops produced while serving its requests. Requests are serialised by the
// manager; the ops of one request are rendered once, either as the initial
// page or as a JSON patch.
type OutputManager struct {
	mu sync.Mutex

	app   string
	title string
	root  RootFunc

	elements map[string]*Base
	log      []Op
	built    bool

	nextID   int
	handlers map[int]handlerEntry
	drops    map[int]dropEntry
	drags    map[string]DragSource

	scripts     []string
	stylesheets []string

	values  ValueStore
	ctx     context.Context
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures an OutputManager.
type Option func(*OutputManager)

// WithApp sets the app id of the root element. Defaults to "nestor".
func WithApp(app string) Option {
	return func(om *OutputManager) { om.app = app }
}

// WithTitle sets the page title.
func WithTitle(title string) Option {
	return func(om *OutputManager) { om.title = title }
}

// WithValues sets the store behind Base.Load and Base.Save.
func WithValues(values ValueStore) Option {
	return func(om *OutputManager) { om.values = values }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(om *OutputManager) {
		if logger != nil {
			om.logger = logger
		}
	}
}

// WithMetrics counts rendered ops.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(om *OutputManager) { om.metrics = registry.CoreMetrics() }
}

// NewOutputManager returns a manager whose page is built from root.
func NewOutputManager(root RootFunc, opts ...Option) *OutputManager {
	om := &OutputManager{
		app:    "nestor",
		title:  "nestor",
		root:   root,
		logger: slog.Default().With("component", "ui"),
	}
	for _, opt := range opts {
		opt(om)
	}
	om.reset()
	return om
}

func (om *OutputManager) reset() {
	om.elements = make(map[string]*Base)
	om.log = nil
	om.nextID = 0
	om.handlers = make(map[int]handlerEntry)
	om.drops = make(map[int]dropEntry)
	om.drags = make(map[string]DragSource)
	om.scripts = nil
	om.stylesheets = nil
}

func (om *OutputManager) context() context.Context {
	if om.ctx == nil {
		return context.Background()
	}
	return om.ctx
}

// serve runs fn with the manager locked and ctx as request context.
func (om *OutputManager) serve(ctx context.Context, fn func()) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.ctx = ctx
	defer func() { om.ctx = nil }()
	fn()
}

func (om *OutputManager) record(op Op) {
	om.log = append(om.log, op)
}

func (om *OutputManager) register(b *Base) {
	if old, ok := om.elements[b.id]; ok && old != b {
		om.logger.Warn("Element id reused", "id", b.id)
		om.detach(old)
	}
	om.elements[b.id] = b
}

func (om *OutputManager) attach(b *Base) {
	b.state = stateAttached
	om.elements[b.id] = b
	for _, op := range b.pending {
		om.record(op)
	}
	b.pending = nil

	for _, c := range b.children {
		if c.state != stateAttached {
			om.attach(c)
		}
	}
	for _, p := range b.popups {
		if p.state != stateAttached {
			om.attach(p)
		}
	}
	if !b.rendered {
		b.rendered = true
		b.self.Render()
	}
}

// detach removes b and its subtree from the server tree. Popups owned by the
// subtree are removed from the page.
func (om *OutputManager) detach(b *Base) {
	for _, c := range b.children {
		om.detach(c)
	}
	for _, p := range b.popups {
		om.removePopup(p)
	}
	b.children, b.popups, b.classes, b.pending = nil, nil, nil, nil
	b.state = stateRemoved
	b.rendered = false

	if om.elements[b.id] == b {
		delete(om.elements, b.id)
	}
	for id, h := range om.handlers {
		if h.el == b {
			delete(om.handlers, id)
		}
	}
	for id, d := range om.drops {
		if d.el == b {
			delete(om.drops, id)
		}
	}
	delete(om.drags, b.id)
}

func (om *OutputManager) removePopup(p *Base) {
	p.record(OpUnpopup)
	om.detach(p)
}

func (om *OutputManager) addHandler(b *Base, fn HandlerFunc) int {
	om.nextID++
	om.handlers[om.nextID] = handlerEntry{el: b, fn: fn}
	return om.nextID
}

func (om *OutputManager) addDrop(b *Base, fn DropFunc) int {
	om.nextID++
	om.drops[om.nextID] = dropEntry{el: b, fn: fn}
	return om.nextID
}

func (om *OutputManager) addDrag(b *Base, objref, label string) {
	om.drags[b.id] = DragSource{ObjRef: objref, Label: label}
}

func (om *OutputManager) addAsset(list *[]string, url string) {
	if indexOfString(*list, url) < 0 {
		*list = append(*list, url)
	}
}

func (om *OutputManager) take() []Op {
	ops := om.log
	om.log = nil
	return ops
}

// BuildPage rebuilds the element tree from a fresh root and returns the ops
// producing the whole page.
func (om *OutputManager) BuildPage(ctx context.Context) []Op {
	var ops []Op
	om.serve(ctx, func() {
		om.reset()
		om.built = true
		root := createElement(om, nil, om.root(), om.app, "root", "div")
		rb := root.base()
		om.record(Op{Code: OpChild, Target: BodyID, Args: []string{rb.id, rb.tag}})
		om.attach(rb)
		ops = om.take()
	})
	return ops
}

// RenderPage rebuilds the tree and writes the full HTML document.
func (om *OutputManager) RenderPage(ctx context.Context, w io.Writer) error {
	ops := om.BuildPage(ctx)
	om.metrics.RecordUIOps("page", len(ops))

	om.mu.Lock()
	assets := Assets{
		Title:       om.title,
		Scripts:     append([]string(nil), om.scripts...),
		Stylesheets: append([]string(nil), om.stylesheets...),
	}
	om.mu.Unlock()

	return WritePage(w, ops, assets)
}

// UpdateElements runs Update on the given elements. Unknown and removed ids
// are skipped.
func (om *OutputManager) UpdateElements(ctx context.Context, ids []string) {
	om.serve(ctx, func() { om.updateElements(ids) })
}

func (om *OutputManager) updateElements(ids []string) {
	for _, id := range ids {
		b, ok := om.elements[id]
		if !ok || b.state != stateAttached {
			om.logger.Debug("Update of unknown element", "id", id)
			continue
		}
		b.self.Update()
	}
}

// CallHandler runs a handler registered with SetHandler.
func (om *OutputManager) CallHandler(ctx context.Context, id int, arg string) error {
	var err error
	om.serve(ctx, func() { err = om.callHandler(id, arg) })
	return err
}

func (om *OutputManager) callHandler(id int, arg string) error {
	h, ok := om.handlers[id]
	if !ok {
		return fmt.Errorf("handler %d: %w", id, ErrUnknownHandler)
	}
	return h.fn(om.context(), arg)
}

// CallDropHandler runs a drop handler registered with MakeDropTarget.
func (om *OutputManager) CallDropHandler(ctx context.Context, id int, where, targetID, objref string) error {
	var err error
	om.serve(ctx, func() { err = om.callDrop(id, where, targetID, objref) })
	return err
}

func (om *OutputManager) callDrop(id int, where, targetID, objref string) error {
	d, ok := om.drops[id]
	if !ok {
		return fmt.Errorf("drop handler %d: %w", id, ErrUnknownHandler)
	}
	drop := Drop{Where: where, ObjRef: objref}
	if t, ok := om.elements[targetID]; ok {
		drop.Target = t.self
	}
	return d.fn(om.context(), drop)
}

// UpdatePatch runs UpdateElements and drains the resulting ops into a JSON
// patch without releasing the manager in between, so concurrent round-trips
// of one session never answer each other's ops.
func (om *OutputManager) UpdatePatch(ctx context.Context, ids []string) ([]byte, error) {
	return om.patch(ctx, func() error {
		om.updateElements(ids)
		return nil
	})
}

// HandlerPatch is CallHandler followed by a drain, as UpdatePatch.
func (om *OutputManager) HandlerPatch(ctx context.Context, id int, arg string) ([]byte, error) {
	return om.patch(ctx, func() error { return om.callHandler(id, arg) })
}

// DropPatch is CallDropHandler followed by a drain, as UpdatePatch.
func (om *OutputManager) DropPatch(ctx context.Context, id int, where, targetID, objref string) ([]byte, error) {
	return om.patch(ctx, func() error { return om.callDrop(id, where, targetID, objref) })
}

// patch runs fn and takes the log under one lock. When fn fails the ops it
// recorded stay queued for the next patch. Managers that never built a page
// answer ErrNoPage.
func (om *OutputManager) patch(ctx context.Context, fn func() error) ([]byte, error) {
	var (
		ops []Op
		err error
	)
	om.serve(ctx, func() {
		if !om.built {
			err = ErrNoPage
			return
		}
		if err = fn(); err == nil {
			ops = om.take()
		}
	})
	if err != nil {
		return nil, err
	}
	return om.encodePatch(ops)
}

// TakeOps returns and clears the recorded ops.
func (om *OutputManager) TakeOps() []Op {
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.take()
}

// RenderJSONOpcodes drains the recorded ops into a patch response:
// {"op": "<function body>"}.
func (om *OutputManager) RenderJSONOpcodes() ([]byte, error) {
	return om.encodePatch(om.TakeOps())
}

func (om *OutputManager) encodePatch(ops []Op) ([]byte, error) {
	om.metrics.RecordUIOps("patch", len(ops))
	return json.Marshal(map[string]string{"op": RenderPatch(ops)})
}

// Element returns a registered element.
func (om *OutputManager) Element(id string) (Element, bool) {
	om.mu.Lock()
	defer om.mu.Unlock()
	b, ok := om.elements[id]
	if !ok {
		return nil, false
	}
	return b.self, true
}

// Size returns the number of registered elements.
func (om *OutputManager) Size() int {
	om.mu.Lock()
	defer om.mu.Unlock()
	return len(om.elements)
}

// DragSources returns the registered drag sources by element id.
func (om *OutputManager) DragSources() map[string]DragSource {
	om.mu.Lock()
	defer om.mu.Unlock()
	out := make(map[string]DragSource, len(om.drags))
	for k, v := range om.drags {
		out[k] = v
	}
	return out
}
