package web

import (
	"context"
	"fmt"

	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/ui"
)

// DefaultRoot returns the page of a daemon without a dedicated UI: a title,
// one line per object provider and a refresh button.
func DefaultRoot(m *objects.Manager) ui.RootFunc {
	return func() ui.Element { return &home{objects: m} }
}

type home struct {
	ui.Base
	objects *objects.Manager

	title     *ui.Label
	providers *ui.Box
	refresh   *ui.Button
	lines     map[string]*ui.Label
}

func (h *home) Init() {
	h.lines = make(map[string]*ui.Label)
	h.title = ui.Create(h, ui.NewLabel("nestor"), "title", "h1")
	h.providers = ui.Create(h, ui.NewBox("providers"), "providers", "ul")
	h.refresh = ui.Create(h, ui.NewButton("Refresh", func(context.Context, string) error {
		h.Update()
		return nil
	}, ""), "refresh", "span")
	h.sync()
}

func (h *home) Render() {
	h.AppendChild(h.title)
	h.AppendChild(h.providers)
	h.AppendChild(h.refresh)
}

func (h *home) Update() { h.sync() }

// sync adds a line for every provider registered since the last pass and
// refreshes the object counts.
func (h *home) sync() {
	ctx := h.Context()
	for _, owner := range h.objects.Providers() {
		line, ok := h.lines[owner]
		if !ok {
			line = ui.Create(h.providers, ui.NewLabel(owner), "provider-"+owner, "li")
			h.lines[owner] = line
			h.providers.Add(line)
		}
		line.SetLabel(h.describe(ctx, owner))
	}
}

func (h *home) describe(ctx context.Context, owner string) string {
	objs, err := h.objects.MatchObjects(ctx, objects.MatchRequest{Owners: []string{owner}, Limit: objects.NoLimit})
	if err != nil {
		return fmt.Sprintf("%s (unavailable)", owner)
	}
	return fmt.Sprintf("%s (%d objects)", owner, len(objs))
}
