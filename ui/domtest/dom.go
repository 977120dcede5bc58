// Package domtest applies UI op transcripts to an in-memory document with
// the semantics of the browser runtime, so tests can check what a patch
// does to a page without a browser.
package domtest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nestormc/nestor/ui"
)

// Node is an element of the document.
type Node struct {
	ID      string
	Tag     string
	Classes []string
	Style   map[string]string
	Props   map[string]string
	HTML    string
	// Events holds bound listeners keyed like $nestor.listen: the event
	// name, then "#id" for server handlers or the code for client ones.
	// Server handlers map to their argument.
	Events   map[string]string
	Children []*Node
	Parent   *Node
}

// Document is an in-memory page.
type Document struct {
	Body *Node
	// CSS holds pseudo-class rules by selector, then property.
	CSS map[string]map[string]string
	// Scheduled holds the pending update delays by element id.
	Scheduled map[string]int
	// Mutations counts the changes applied since creation.
	Mutations int

	byID map[string]*Node
}

// New returns an empty document.
func New() *Document {
	body := &Node{ID: ui.BodyID, Tag: "body"}
	return &Document{
		Body:      body,
		CSS:       make(map[string]map[string]string),
		Scheduled: make(map[string]int),
		byID:      map[string]*Node{ui.BodyID: body},
	}
}

// Get returns the node with the given id.
func (d *Document) Get(id string) *Node { return d.byID[id] }

// Remove deletes a node and its subtree, as client code would.
func (d *Document) Remove(id string) {
	n := d.byID[id]
	if n == nil || n == d.Body {
		return
	}
	d.detach(n)
	d.Mutations++
}

func (d *Document) detach(n *Node) {
	if p := n.Parent; p != nil {
		for i, c := range p.Children {
			if c == n {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
	}
	n.Parent = nil
	d.forget(n)
}

func (d *Document) forget(n *Node) {
	delete(d.byID, n.ID)
	for _, c := range n.Children {
		d.forget(c)
	}
}

// Apply runs ops grouped and guarded like a patch.
func (d *Document) Apply(ops []ui.Op) error {
	for _, g := range ui.GroupOps(ops) {
		e := d.byID[g.Target]
		if e == nil {
			continue
		}
		for _, op := range g.Ops {
			if err := d.apply(e, op); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Document) apply(e *Node, op ui.Op) error {
	switch op.Code {
	case ui.OpStyle:
		if pseudo := op.Arg(2); pseudo != "" {
			sel := "#" + e.ID + ":" + pseudo
			if d.CSS[sel] == nil {
				d.CSS[sel] = make(map[string]string)
			}
			d.set(d.CSS[sel], op.Arg(0), op.Arg(1))
			return nil
		}
		if e.Style == nil {
			e.Style = make(map[string]string)
		}
		d.set(e.Style, op.Arg(0), op.Arg(1))
	case ui.OpContent:
		if e.HTML == op.Arg(0) && len(e.Children) == 0 {
			return nil
		}
		for _, c := range e.Children {
			c.Parent = nil
			d.forget(c)
		}
		e.Children = nil
		e.HTML = op.Arg(0)
		d.Mutations++
	case ui.OpDOM:
		if e.Props == nil {
			e.Props = make(map[string]string)
		}
		d.set(e.Props, op.Arg(0), op.Arg(1))
	case ui.OpChild:
		if d.byID[op.Arg(0)] != nil {
			return nil
		}
		c := &Node{ID: op.Arg(0), Tag: op.Arg(1), Parent: e}
		e.Children = append(e.Children, c)
		d.byID[c.ID] = c
		d.Mutations++
	case ui.OpUnchild:
		if c := d.byID[op.Arg(0)]; c != nil && c.Parent == e {
			d.detach(c)
			d.Mutations++
		}
	case ui.OpPopup:
		if d.byID[op.Arg(0)] != nil {
			return nil
		}
		p := &Node{ID: op.Arg(0), Tag: op.Arg(1), Parent: d.Body}
		d.Body.Children = append(d.Body.Children, p)
		d.byID[p.ID] = p
		d.Mutations++
	case ui.OpUnpopup:
		d.detach(e)
		d.Mutations++
	case ui.OpSwap:
		x, y := d.byID[op.Arg(0)], d.byID[op.Arg(1)]
		if x == nil || y == nil || x.Parent != e || y.Parent != e {
			return nil
		}
		i, j := index(e.Children, x), index(e.Children, y)
		if i < j {
			e.Children[i], e.Children[j] = y, x
			d.Mutations++
		}
	case ui.OpSchedUpdate:
		ms, err := strconv.Atoi(op.Arg(0))
		if err != nil {
			return fmt.Errorf("sched_update %s: %w", e.ID, err)
		}
		d.Scheduled[e.ID] = ms
	case ui.OpClass:
		for _, c := range e.Classes {
			if c == op.Arg(0) {
				return nil
			}
		}
		e.Classes = append(e.Classes, op.Arg(0))
		d.Mutations++
	case ui.OpUnclass:
		for i, c := range e.Classes {
			if c == op.Arg(0) {
				e.Classes = append(e.Classes[:i], e.Classes[i+1:]...)
				d.Mutations++
				break
			}
		}
	case ui.OpEvent:
		d.bind(e, op.Arg(0)+" #"+op.Arg(1), op.Arg(2))
	case ui.OpJSEvent:
		d.bind(e, op.Arg(0)+" "+op.Arg(1), "js")
	case ui.OpJSCode:
	default:
		return fmt.Errorf("unknown op %q", op.Code)
	}
	return nil
}

func (d *Document) bind(e *Node, key, v string) {
	if e.Events == nil {
		e.Events = make(map[string]string)
	}
	d.set(e.Events, key, v)
}

func (d *Document) set(m map[string]string, k, v string) {
	if old, ok := m[k]; ok && old == v {
		return
	}
	m[k] = v
	d.Mutations++
}

func index(list []*Node, n *Node) int {
	for i, c := range list {
		if c == n {
			return i
		}
	}
	return -1
}

// String renders the document deterministically, for comparisons.
func (d *Document) String() string {
	var sb strings.Builder
	d.Body.write(&sb, 0)
	sels := make([]string, 0, len(d.CSS))
	for s := range d.CSS {
		sels = append(sels, s)
	}
	sort.Strings(sels)
	for _, s := range sels {
		sb.WriteString(s + " " + formatMap(d.CSS[s]) + "\n")
	}
	return sb.String()
}

func (n *Node) write(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString("<" + n.Tag + " #" + n.ID)
	if len(n.Classes) > 0 {
		sb.WriteString(" ." + strings.Join(n.Classes, "."))
	}
	if len(n.Style) > 0 {
		sb.WriteString(" style=" + formatMap(n.Style))
	}
	if len(n.Props) > 0 {
		sb.WriteString(" props=" + formatMap(n.Props))
	}
	if len(n.Events) > 0 {
		sb.WriteString(" on=" + formatMap(n.Events))
	}
	if n.HTML != "" {
		sb.WriteString(" html=" + strconv.Quote(n.HTML))
	}
	sb.WriteString(">\n")
	for _, c := range n.Children {
		c.write(sb, depth+1)
	}
}

func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + m[k]
	}
	return "{" + strings.Join(parts, ";") + "}"
}
