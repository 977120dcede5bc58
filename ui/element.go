package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/nestormc/nestor/value"
)

// Element is a server-side UI node. Implementations embed Base and override
// the lifecycle methods they need.
type Element interface {
	base() *Base
	// Init creates child elements. It runs once, from Create.
	Init()
	// Render attaches children and records the initial state. It runs each
	// time the element gets attached to the page.
	Render()
	// Update re-reads external state and records the differences.
	Update()
}

// HandlerFunc is a server-side event handler.
type HandlerFunc func(ctx context.Context, arg string) error

// Drop describes something dropped on a drop target.
type Drop struct {
	// Where is the position reported by the browser, such as "before",
	// "after" or "in".
	Where string
	// Target is the element the drop happened on; nil when it is gone.
	Target Element
	ObjRef string
}

// DropFunc handles drops on a drop target.
type DropFunc func(ctx context.Context, d Drop) error

type elementState int

const (
	stateCreated elementState = iota
	stateAttached
	stateRemoved
)

// Base holds the state shared by all elements and records their ops.
// Methods must only be called while the output manager runs a request:
// from Init, Render, Update, or from handlers.
type Base struct {
	om     *OutputManager
	self   Element
	app    string
	local  string
	id     string
	tag    string
	parent *Base

	children []*Base
	popups   []*Base
	classes  []string

	state    elementState
	rendered bool
	// pending holds ops recorded before the element was attached.
	pending []Op
}

func (b *Base) base() *Base { return b }

func (b *Base) Init()   {}
func (b *Base) Render() {}
func (b *Base) Update() {}

// Create initialises el as an element of parent's app and runs its Init.
// The element is not attached until AppendChild or AppendPopup.
func Create[E Element](parent Element, el E, localID, tag string) E {
	p := parent.base()
	return createElement(p.om, p, el, p.app, localID, tag)
}

// CreateInApp is Create for an element belonging to another app.
func CreateInApp[E Element](parent Element, el E, app, localID, tag string) E {
	p := parent.base()
	return createElement(p.om, p, el, app, localID, tag)
}

func createElement[E Element](om *OutputManager, parent *Base, el E, app, local, tag string) E {
	b := el.base()
	*b = Base{
		om:     om,
		self:   el,
		app:    app,
		local:  local,
		id:     app + "_" + local,
		tag:    tag,
		parent: parent,
	}
	om.register(b)
	el.Init()
	return el
}

// ID returns the element id, app + "_" + local id.
func (b *Base) ID() string { return b.id }

// App returns the app id.
func (b *Base) App() string { return b.app }

// Tag returns the DOM tag name.
func (b *Base) Tag() string { return b.tag }

// Manager returns the output manager of the element.
func (b *Base) Manager() *OutputManager { return b.om }

// Context returns the context of the request being served.
func (b *Base) Context() context.Context { return b.om.context() }

// Attached reports whether the element is on the page.
func (b *Base) Attached() bool { return b.state == stateAttached }

// Parent returns the parent element, nil for the root and for detached
// elements.
func (b *Base) Parent() Element {
	if b.parent == nil {
		return nil
	}
	return b.parent.self
}

// Children returns the attached children in order.
func (b *Base) Children() []Element {
	out := make([]Element, len(b.children))
	for i, c := range b.children {
		out[i] = c.self
	}
	return out
}

// Classes returns the current class list.
func (b *Base) Classes() []string {
	return append([]string(nil), b.classes...)
}

func (b *Base) record(code OpCode, args ...string) {
	op := Op{Code: code, Target: b.id, Args: args}
	switch b.state {
	case stateRemoved:
	case stateCreated:
		b.pending = append(b.pending, op)
	default:
		b.om.record(op)
	}
}

// SetStyle sets an inline style property.
func (b *Base) SetStyle(prop, val string) {
	b.record(OpStyle, prop, val, "")
}

// SetPseudoStyle sets a property of the "#id:pseudo" CSS rule.
func (b *Base) SetPseudoStyle(pseudo, prop, val string) {
	b.record(OpStyle, prop, val, pseudo)
}

// SetContent overwrites the inner HTML. Every child element is removed
// from the server tree.
func (b *Base) SetContent(markup string) {
	for _, c := range b.children {
		b.om.detach(c)
	}
	b.children = nil
	b.record(OpContent, markup)
}

// SetText overwrites the content with escaped text.
func (b *Base) SetText(text string) {
	b.SetContent(html.EscapeString(text))
}

// SetDOM sets an arbitrary DOM property to the JSON encoding of v.
func (b *Base) SetDOM(prop string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("dom property %s of %s: %w", prop, b.id, err)
	}
	b.record(OpDOM, prop, string(data))
	return nil
}

// AppendChild attaches child as the last child. A child already attached
// somewhere is moved.
func (b *Base) AppendChild(child Element) {
	c := child.base()
	if c.parent != nil {
		c.parent.children = without(c.parent.children, c)
	}
	c.parent = b
	b.children = append(b.children, c)
	b.record(OpChild, c.id, c.tag)
	if b.state == stateAttached {
		b.om.attach(c)
	}
}

// RemoveChild detaches a child and removes its subtree from the server
// tree.
func (b *Base) RemoveChild(child Element) {
	c := child.base()
	if c.parent != b {
		return
	}
	b.children = without(b.children, c)
	b.record(OpUnchild, c.id)
	b.om.detach(c)
	c.parent = nil
}

// AppendPopup attaches p at the document root, owned by b.
func (b *Base) AppendPopup(popup Element) {
	p := popup.base()
	if p.parent != nil && p.parent != b {
		p.parent.popups = without(p.parent.popups, p)
	}
	p.parent = b
	b.popups = append(without(b.popups, p), p)
	b.record(OpPopup, p.id, p.tag)
	if b.state == stateAttached {
		b.om.attach(p)
	}
}

// RemovePopup removes a popup owned by b.
func (b *Base) RemovePopup(popup Element) {
	p := popup.base()
	if p.parent != b {
		return
	}
	b.popups = without(b.popups, p)
	b.om.removePopup(p)
	p.parent = nil
}

// Swap exchanges the positions of two children.
func (b *Base) Swap(x, y Element) {
	i, j := indexOf(b.children, x.base()), indexOf(b.children, y.base())
	if i < 0 || j < 0 || i == j {
		return
	}
	if j < i {
		i, j = j, i
	}
	first, second := b.children[i], b.children[j]
	b.children[i], b.children[j] = second, first
	b.record(OpSwap, first.id, second.id)
}

// ScheduleUpdate asks the browser to request an update of the element after
// delay milliseconds. A later call replaces the pending one.
func (b *Base) ScheduleUpdate(delay int) {
	b.record(OpSchedUpdate, strconv.Itoa(delay))
}

// AddClass adds a class unless present.
func (b *Base) AddClass(name string) {
	if b.state == stateRemoved || indexOfString(b.classes, name) >= 0 {
		return
	}
	b.classes = append(b.classes, name)
	b.record(OpClass, name)
}

// RemoveClass removes a class when present.
func (b *Base) RemoveClass(name string) {
	i := indexOfString(b.classes, name)
	if i < 0 {
		return
	}
	b.classes = append(b.classes[:i], b.classes[i+1:]...)
	b.record(OpUnclass, name)
}

// HasClass reports whether the element has a class.
func (b *Base) HasClass(name string) bool {
	return indexOfString(b.classes, name) >= 0
}

// SetHandler binds a DOM event to a server-side handler. The browser sends
// arg back with the event. It returns the handler id.
func (b *Base) SetHandler(event string, fn HandlerFunc, arg string) int {
	id := b.om.addHandler(b, fn)
	b.record(OpEvent, event, strconv.Itoa(id), arg)
	return id
}

// SetJSHandler binds a DOM event to client code. The code sees the DOM event
// as "event"; {id} and {this} are substituted.
func (b *Base) SetJSHandler(event, code string) {
	b.record(OpJSEvent, event, b.expand(code))
}

// AddJSCode runs client code once. {id} is replaced by the element id and
// {this} by an expression evaluating to the DOM node.
func (b *Base) AddJSCode(code string) {
	b.record(OpJSCode, b.expand(code))
}

func (b *Base) expand(code string) string {
	return strings.NewReplacer(
		"{id}", b.id,
		"{this}", "$nestor.el("+jsString(b.id)+")",
	).Replace(code)
}

// MakeDraggable makes the element a drag source carrying objref.
func (b *Base) MakeDraggable(objref, label string) {
	b.om.addDrag(b, objref, label)
	b.AddJSCode("$nestor.draggable({this}, " + jsString(objref) + ", " + jsString(label) + ");")
}

// MakeDropTarget registers fn for drops on the element. With confirm set,
// the browser asks the user before sending the drop. It returns the handler
// id.
func (b *Base) MakeDropTarget(fn DropFunc, confirm bool) int {
	id := b.om.addDrop(b, fn)
	b.AddJSCode(fmt.Sprintf("$nestor.dropTarget({this}, %d, %t);", id, confirm))
	return id
}

// AddScript registers a script URL emitted in the page head.
func (b *Base) AddScript(src string) { b.om.addAsset(&b.om.scripts, src) }

// AddStylesheet registers a stylesheet URL emitted in the page head.
func (b *Base) AddStylesheet(href string) { b.om.addAsset(&b.om.stylesheets, href) }

func (b *Base) valueKey(key string) string {
	return b.app + "/" + b.id + "/" + key
}

// Load returns a session value of the element, or def.
func (b *Base) Load(key string, def any) value.Value {
	if b.om.values == nil {
		return value.FromAny(def)
	}
	v, ok := b.om.values.Load(b.valueKey(key))
	if !ok {
		return value.FromAny(def)
	}
	return v
}

// Save stores a session value of the element.
func (b *Base) Save(key string, v any) error {
	if b.om.values == nil {
		return nil
	}
	return b.om.values.Save(b.valueKey(key), value.FromAny(v))
}

func without(list []*Base, b *Base) []*Base {
	if i := indexOf(list, b); i >= 0 {
		return append(list[:i], list[i+1:]...)
	}
	return list
}

func indexOf(list []*Base, b *Base) int {
	for i, e := range list {
		if e == b {
			return i
		}
	}
	return -1
}

func indexOfString(list []string, s string) int {
	for i, e := range list {
		if e == s {
			return i
		}
	}
	return -1
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
