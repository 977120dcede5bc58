package ui

import (
	_ "embed"
	"html"
	"html/template"
	"io"
	"strings"
)

//go:embed runtime.js
var runtimeJS string

// Runtime returns the browser runtime script.
func Runtime() string { return runtimeJS }

// Assets are the page level resources registered by elements.
type Assets struct {
	Title       string
	Scripts     []string
	Stylesheets []string
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{range .Stylesheets}}<link rel="stylesheet" href="{{.}}">
{{end}}{{range .Scripts}}<script src="{{.}}"></script>
{{end}}<style>
{{.CSS}}</style>
<script>{{.Runtime}}</script>
</head>
<body>
{{.Body}}
<script>
{{.JS}}</script>
</body>
</html>
`))

type pageData struct {
	Title       string
	Scripts     []string
	Stylesheets []string
	CSS         template.CSS
	Runtime     template.JS
	Body        template.HTML
	JS          template.JS
}

// WritePage renders the ops of a page build as a complete HTML document.
// Structural ops (child, popup, content, class, swap and their inverses)
// become markup, style ops become one CSS block with a rule per selector,
// and the remaining ops become a script run once the document is loaded.
func WritePage(w io.Writer, ops []Op, assets Assets) error {
	doc := newPageDoc()
	var scripted []Op
	for _, op := range ops {
		switch op.Code {
		case OpStyle:
			doc.style(op)
		case OpDOM, OpSchedUpdate, OpEvent, OpJSEvent, OpJSCode:
			scripted = append(scripted, op)
		default:
			doc.apply(op)
		}
	}

	var body strings.Builder
	doc.body.writeChildren(&body)
	for _, p := range doc.popups {
		p.write(&body)
	}

	return pageTemplate.Execute(w, pageData{
		Title:       assets.Title,
		Scripts:     assets.Scripts,
		Stylesheets: assets.Stylesheets,
		CSS:         template.CSS(doc.css()),
		Runtime:     template.JS(runtimeJS),
		Body:        template.HTML(body.String()),
		JS:          template.JS(RenderPatch(scripted)),
	})
}

type pageNode struct {
	id       string
	tag      string
	classes  []string
	content  string
	children []*pageNode
	parent   *pageNode
}

var voidTags = map[string]bool{
	"area": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true,
}

func (n *pageNode) write(sb *strings.Builder) {
	sb.WriteString("<" + n.tag + ` id="` + html.EscapeString(n.id) + `"`)
	if len(n.classes) > 0 {
		sb.WriteString(` class="` + html.EscapeString(strings.Join(n.classes, " ")) + `"`)
	}
	sb.WriteString(">")
	if voidTags[n.tag] {
		return
	}
	sb.WriteString(n.content)
	n.writeChildren(sb)
	sb.WriteString("</" + n.tag + ">")
}

func (n *pageNode) writeChildren(sb *strings.Builder) {
	for _, c := range n.children {
		c.write(sb)
	}
}

type cssRule struct {
	selector string
	props    []string
	values   map[string]string
}

// pageDoc applies structural ops with the same guards as the runtime.
type pageDoc struct {
	body   *pageNode
	nodes  map[string]*pageNode
	popups []*pageNode
	rules  []*cssRule
	byName map[string]*cssRule
}

func newPageDoc() *pageDoc {
	body := &pageNode{id: BodyID, tag: "body"}
	return &pageDoc{
		body:   body,
		nodes:  map[string]*pageNode{BodyID: body},
		byName: make(map[string]*cssRule),
	}
}

func (d *pageDoc) forget(n *pageNode) {
	delete(d.nodes, n.id)
	for _, c := range n.children {
		d.forget(c)
	}
}

func (d *pageDoc) apply(op Op) {
	n, ok := d.nodes[op.Target]
	if !ok {
		return
	}
	switch op.Code {
	case OpContent:
		for _, c := range n.children {
			d.forget(c)
		}
		n.children = nil
		n.content = op.Arg(0)
	case OpChild:
		if _, exists := d.nodes[op.Arg(0)]; exists {
			return
		}
		c := &pageNode{id: op.Arg(0), tag: op.Arg(1), parent: n}
		d.nodes[c.id] = c
		n.children = append(n.children, c)
	case OpUnchild:
		for i, c := range n.children {
			if c.id == op.Arg(0) {
				n.children = append(n.children[:i], n.children[i+1:]...)
				d.forget(c)
				break
			}
		}
	case OpPopup:
		if _, exists := d.nodes[op.Arg(0)]; exists {
			return
		}
		p := &pageNode{id: op.Arg(0), tag: op.Arg(1)}
		d.nodes[p.id] = p
		d.popups = append(d.popups, p)
	case OpUnpopup:
		for i, p := range d.popups {
			if p == n {
				d.popups = append(d.popups[:i], d.popups[i+1:]...)
				d.forget(p)
				break
			}
		}
	case OpSwap:
		i, j := -1, -1
		for k, c := range n.children {
			switch c.id {
			case op.Arg(0):
				i = k
			case op.Arg(1):
				j = k
			}
		}
		if i >= 0 && j >= 0 && i < j {
			n.children[i], n.children[j] = n.children[j], n.children[i]
		}
	case OpClass:
		if indexOfString(n.classes, op.Arg(0)) < 0 {
			n.classes = append(n.classes, op.Arg(0))
		}
	case OpUnclass:
		if i := indexOfString(n.classes, op.Arg(0)); i >= 0 {
			n.classes = append(n.classes[:i], n.classes[i+1:]...)
		}
	}
}

func (d *pageDoc) style(op Op) {
	selector := "#" + op.Target
	if pseudo := op.Arg(2); pseudo != "" {
		selector += ":" + pseudo
	}
	r, ok := d.byName[selector]
	if !ok {
		r = &cssRule{selector: selector, values: make(map[string]string)}
		d.byName[selector] = r
		d.rules = append(d.rules, r)
	}
	prop := op.Arg(0)
	if _, seen := r.values[prop]; !seen {
		r.props = append(r.props, prop)
	}
	r.values[prop] = op.Arg(1)
}

func (d *pageDoc) css() string {
	var sb strings.Builder
	for _, r := range d.rules {
		sb.WriteString(r.selector + " {")
		for _, p := range r.props {
			sb.WriteString(" " + cssName(p) + ": " + r.values[p] + ";")
		}
		sb.WriteString(" }\n")
	}
	return sb.String()
}

// cssName converts a DOM style property name (backgroundColor) to its CSS
// form (background-color).
func cssName(prop string) string {
	var sb strings.Builder
	for _, r := range prop {
		if r >= 'A' && r <= 'Z' {
			sb.WriteByte('-')
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
