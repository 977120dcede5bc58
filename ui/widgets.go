package ui

import "context"

// Label is an element showing text.
type Label struct {
	Base
	text string
}

// NewLabel returns a label with initial text.
func NewLabel(text string) *Label { return &Label{text: text} }

func (l *Label) Render() { l.SetText(l.text) }

// SetLabel changes the text, recording an op only when it differs.
func (l *Label) SetLabel(text string) {
	if text == l.text && l.rendered {
		return
	}
	l.text = text
	if l.rendered {
		l.SetText(text)
	}
}

// Text returns the current text.
func (l *Label) Text() string { return l.text }

// Button is a label calling a server handler when clicked.
type Button struct {
	Label
	onClick HandlerFunc
	arg     string
}

// NewButton returns a button calling fn with arg.
func NewButton(text string, fn HandlerFunc, arg string) *Button {
	return &Button{Label: Label{text: text}, onClick: fn, arg: arg}
}

func (b *Button) Render() {
	b.Label.Render()
	b.AddClass("button")
	b.SetHandler("click", func(ctx context.Context, arg string) error {
		return b.onClick(ctx, arg)
	}, b.arg)
}

// Box is a container of child elements.
type Box struct {
	Base
	class string
	items []Element
}

// NewBox returns a container with a CSS class.
func NewBox(class string, items ...Element) *Box {
	return &Box{class: class, items: items}
}

func (x *Box) Render() {
	if x.class != "" {
		x.AddClass(x.class)
	}
	for _, it := range x.items {
		x.AppendChild(it)
	}
}

// Add appends an item, attaching it when the box is on the page.
func (x *Box) Add(item Element) {
	x.items = append(x.items, item)
	if x.rendered {
		x.AppendChild(item)
	}
}

// Remove removes an item.
func (x *Box) Remove(item Element) {
	for i, it := range x.items {
		if it == item {
			x.items = append(x.items[:i], x.items[i+1:]...)
			break
		}
	}
	x.RemoveChild(item)
}

// Items returns the items in order.
func (x *Box) Items() []Element { return append([]Element(nil), x.items...) }
