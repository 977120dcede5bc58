package ui_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/ui"
	"github.com/nestormc/nestor/value"
)

type testRoot struct {
	ui.Base
	title *ui.Label
	list  *ui.Box

	// run is executed by the "run" handler.
	run     func(r *testRoot) error
	runID   int
	dropped []ui.Drop
}

func (r *testRoot) Init() {
	r.title = ui.Create(r, ui.NewLabel("Hello"), "title", "h1")
	r.list = ui.Create(r, ui.NewBox("list"), "list", "ul")
}

func (r *testRoot) Render() {
	r.AppendChild(r.title)
	r.AppendChild(r.list)
	r.SetStyle("color", "red")
	r.runID = r.SetHandler("click", func(ctx context.Context, arg string) error {
		if r.run == nil {
			return nil
		}
		return r.run(r)
	}, "go")
}

func newTestManager(t *testing.T, opts ...ui.Option) (*ui.OutputManager, *testRoot) {
	t.Helper()
	var root *testRoot
	om := ui.NewOutputManager(func() ui.Element {
		root = &testRoot{}
		return root
	}, opts...)
	om.BuildPage(context.Background())
	require.NotNil(t, root)
	return om, root
}

// exec runs fn inside a handler call and returns the ops it recorded.
func exec(t *testing.T, om *ui.OutputManager, root *testRoot, fn func(r *testRoot)) []ui.Op {
	t.Helper()
	root.run = func(r *testRoot) error {
		fn(r)
		return nil
	}
	require.NoError(t, om.CallHandler(context.Background(), root.runID, "go"))
	return om.TakeOps()
}

func TestBuildPage(t *testing.T) {
	om := ui.NewOutputManager(func() ui.Element { return &testRoot{} })
	ops := om.BuildPage(context.Background())

	want := []ui.Op{
		{Code: ui.OpChild, Target: ui.BodyID, Args: []string{"nestor_root", "div"}},
		{Code: ui.OpChild, Target: "nestor_root", Args: []string{"nestor_title", "h1"}},
		{Code: ui.OpContent, Target: "nestor_title", Args: []string{"Hello"}},
		{Code: ui.OpChild, Target: "nestor_root", Args: []string{"nestor_list", "ul"}},
		{Code: ui.OpClass, Target: "nestor_list", Args: []string{"list"}},
		{Code: ui.OpStyle, Target: "nestor_root", Args: []string{"color", "red", ""}},
		{Code: ui.OpEvent, Target: "nestor_root", Args: []string{"click", "1", "go"}},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("page ops mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, om.Size())
	assert.Empty(t, om.TakeOps())

	// Rebuilding starts from a fresh tree.
	again := om.BuildPage(context.Background())
	assert.Equal(t, ops, again)
	assert.Equal(t, 3, om.Size())
}

func TestCustomApp(t *testing.T) {
	om := ui.NewOutputManager(func() ui.Element { return &testRoot{} }, ui.WithApp("media"))
	ops := om.BuildPage(context.Background())
	require.NotEmpty(t, ops)
	assert.Equal(t, []string{"media_root", "div"}, ops[0].Args)

	el, ok := om.Element("media_title")
	require.True(t, ok)
	assert.Equal(t, "media", el.(*ui.Label).App())
}

func TestOpsBufferedUntilAttached(t *testing.T) {
	om, root := newTestManager(t)

	var item *ui.Label
	ops := exec(t, om, root, func(r *testRoot) {
		item = ui.Create(r.list, ui.NewLabel("one"), "one", "li")
		item.AddClass("selected")
		item.SetStyle("fontWeight", "bold")
		assert.False(t, item.Attached())
		r.list.Add(item)
		assert.True(t, item.Attached())
	})

	want := []ui.Op{
		{Code: ui.OpChild, Target: "nestor_list", Args: []string{"nestor_one", "li"}},
		{Code: ui.OpClass, Target: "nestor_one", Args: []string{"selected"}},
		{Code: ui.OpStyle, Target: "nestor_one", Args: []string{"fontWeight", "bold", ""}},
		{Code: ui.OpContent, Target: "nestor_one", Args: []string{"one"}},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []ui.Element{item}, root.list.Children())
	assert.Equal(t, ui.Element(root.list), item.Parent())
}

func TestLabelRecordsOnlyChanges(t *testing.T) {
	om, root := newTestManager(t)

	ops := exec(t, om, root, func(r *testRoot) {
		r.title.SetLabel("Hello")
		r.title.SetLabel("<b>World</b>")
	})
	require.Len(t, ops, 1)
	assert.Equal(t, ui.Op{Code: ui.OpContent, Target: "nestor_title", Args: []string{"&lt;b&gt;World&lt;/b&gt;"}}, ops[0])
	assert.Equal(t, "<b>World</b>", root.title.Text())
}

func TestClasses(t *testing.T) {
	om, root := newTestManager(t)

	ops := exec(t, om, root, func(r *testRoot) {
		r.title.AddClass("active")
		r.title.AddClass("active")
		r.title.RemoveClass("missing")
	})
	assert.Equal(t, []ui.Op{{Code: ui.OpClass, Target: "nestor_title", Args: []string{"active"}}}, ops)
	assert.True(t, root.title.HasClass("active"))

	ops = exec(t, om, root, func(r *testRoot) { r.title.RemoveClass("active") })
	assert.Equal(t, []ui.Op{{Code: ui.OpUnclass, Target: "nestor_title", Args: []string{"active"}}}, ops)
	assert.Empty(t, root.title.Classes())
}

func TestContentRemovesChildren(t *testing.T) {
	om, root := newTestManager(t)

	var itemHandler int
	exec(t, om, root, func(r *testRoot) {
		var last *ui.Label
		for _, name := range []string{"a", "b"} {
			last = ui.Create(r.list, ui.NewLabel(name), name, "li")
			r.list.Add(last)
		}
		inner := ui.Create(last, ui.NewLabel("inner"), "inner", "span")
		last.AppendChild(inner)
		itemHandler = inner.SetHandler("click", func(context.Context, string) error { return nil }, "")
	})
	assert.Equal(t, 6, om.Size())

	ops := exec(t, om, root, func(r *testRoot) { r.list.SetContent("<i>empty</i>") })
	assert.Equal(t, []ui.Op{{Code: ui.OpContent, Target: "nestor_list", Args: []string{"<i>empty</i>"}}}, ops)
	assert.Equal(t, 3, om.Size())
	for _, id := range []string{"nestor_a", "nestor_b", "nestor_inner"} {
		_, ok := om.Element(id)
		assert.False(t, ok, id)
	}
	assert.Empty(t, root.list.Children())

	err := om.CallHandler(context.Background(), itemHandler, "")
	assert.True(t, errors.Is(err, ui.ErrUnknownHandler))
}

func TestRemovedElementsRecordNothing(t *testing.T) {
	om, root := newTestManager(t)

	var item *ui.Label
	exec(t, om, root, func(r *testRoot) {
		item = ui.Create(r.list, ui.NewLabel("x"), "x", "li")
		r.list.Add(item)
	})
	ops := exec(t, om, root, func(r *testRoot) {
		r.list.Remove(item)
		item.AddClass("ghost")
		item.SetLabel("gone")
	})
	assert.Equal(t, []ui.Op{{Code: ui.OpUnchild, Target: "nestor_list", Args: []string{"nestor_x"}}}, ops)
	assert.False(t, item.Attached())
	assert.Nil(t, item.Parent())

	// Attaching it again renders it from scratch.
	ops = exec(t, om, root, func(r *testRoot) { r.list.Add(item) })
	want := []ui.Op{
		{Code: ui.OpChild, Target: "nestor_list", Args: []string{"nestor_x", "li"}},
		{Code: ui.OpContent, Target: "nestor_x", Args: []string{"gone"}},
	}
	assert.Equal(t, want, ops)
}

func TestSwap(t *testing.T) {
	om, root := newTestManager(t)

	var items []ui.Element
	exec(t, om, root, func(r *testRoot) {
		for _, name := range []string{"a", "b", "c"} {
			item := ui.Create(r.list, ui.NewLabel(name), name, "li")
			r.list.Add(item)
			items = append(items, item)
		}
	})

	ops := exec(t, om, root, func(r *testRoot) {
		r.list.Swap(items[2], items[0])
		r.list.Swap(items[1], items[1])
	})
	assert.Equal(t, []ui.Op{{Code: ui.OpSwap, Target: "nestor_list", Args: []string{"nestor_a", "nestor_c"}}}, ops)

	var ids []string
	for _, c := range root.list.Children() {
		ids = append(ids, c.(*ui.Label).ID())
	}
	assert.Equal(t, []string{"nestor_c", "nestor_b", "nestor_a"}, ids)
}

func TestPopups(t *testing.T) {
	om, root := newTestManager(t)

	var popup *ui.Box
	ops := exec(t, om, root, func(r *testRoot) {
		popup = ui.Create(r, ui.NewBox("menu"), "menu", "div")
		popup.Add(ui.Create(popup, ui.NewLabel("Play"), "play", "span"))
		r.AppendPopup(popup)
	})
	want := []ui.Op{
		{Code: ui.OpPopup, Target: "nestor_root", Args: []string{"nestor_menu", "div"}},
		{Code: ui.OpClass, Target: "nestor_menu", Args: []string{"menu"}},
		{Code: ui.OpChild, Target: "nestor_menu", Args: []string{"nestor_play", "span"}},
		{Code: ui.OpContent, Target: "nestor_play", Args: []string{"Play"}},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("popup ops mismatch (-want +got):\n%s", diff)
	}

	ops = exec(t, om, root, func(r *testRoot) { r.RemovePopup(popup) })
	assert.Equal(t, []ui.Op{{Code: ui.OpUnpopup, Target: "nestor_menu"}}, ops)
	_, ok := om.Element("nestor_play")
	assert.False(t, ok)
}

func TestPopupsRemovedWithOwner(t *testing.T) {
	om, root := newTestManager(t)

	exec(t, om, root, func(r *testRoot) {
		item := ui.Create(r.list, ui.NewLabel("a"), "a", "li")
		r.list.Add(item)
		item.AppendPopup(ui.Create(item, ui.NewLabel("tip"), "tip", "div"))
	})
	ops := exec(t, om, root, func(r *testRoot) { r.list.SetContent("") })
	assert.Contains(t, ops, ui.Op{Code: ui.OpUnpopup, Target: "nestor_tip"})
	_, ok := om.Element("nestor_tip")
	assert.False(t, ok)
}

func TestHandlers(t *testing.T) {
	om, root := newTestManager(t)

	var got []string
	var hid int
	exec(t, om, root, func(r *testRoot) {
		hid = r.title.SetHandler("dblclick", func(ctx context.Context, arg string) error {
			got = append(got, arg)
			r.title.SetLabel("clicked " + arg)
			return nil
		}, "t")
	})

	require.NoError(t, om.CallHandler(context.Background(), hid, "t"))
	assert.Equal(t, []string{"t"}, got)
	assert.Equal(t, []ui.Op{{Code: ui.OpContent, Target: "nestor_title", Args: []string{"clicked t"}}}, om.TakeOps())

	failing := errors.New("boom")
	root.run = func(*testRoot) error { return failing }
	assert.ErrorIs(t, om.CallHandler(context.Background(), root.runID, ""), failing)

	err := om.CallHandler(context.Background(), 999, "")
	assert.ErrorIs(t, err, ui.ErrUnknownHandler)
}

func TestJSCodeExpansion(t *testing.T) {
	om, root := newTestManager(t)

	ops := exec(t, om, root, func(r *testRoot) {
		r.title.AddJSCode(`{this}.dataset.id = "{id}";`)
		r.title.SetJSHandler("mouseover", `{this}.title = event.type;`)
	})
	require.Len(t, ops, 2)
	assert.Equal(t, `$nestor.el("nestor_title").dataset.id = "nestor_title";`, ops[0].Arg(0))
	assert.Equal(t, "mouseover", ops[1].Arg(0))
	assert.Equal(t, `$nestor.el("nestor_title").title = event.type;`, ops[1].Arg(1))

	// Client listeners are keyed by their code so a replay replaces them.
	assert.Contains(t, ui.RenderPatch(ops),
		`$nestor.listen(e,"mouseover","$nestor.el(\"nestor_title\").title = event.type;",function(event){$nestor.el("nestor_title").title = event.type;});`)
}

func TestDragAndDrop(t *testing.T) {
	om, root := newTestManager(t)

	var dropID int
	exec(t, om, root, func(r *testRoot) {
		r.title.MakeDraggable("media:track/1", "Track 1")
		dropID = r.list.MakeDropTarget(func(ctx context.Context, d ui.Drop) error {
			r.dropped = append(r.dropped, d)
			return nil
		}, false)
	})
	assert.Equal(t, map[string]ui.DragSource{
		"nestor_title": {ObjRef: "media:track/1", Label: "Track 1"},
	}, om.DragSources())

	require.NoError(t, om.CallDropHandler(context.Background(), dropID, "in", "nestor_title", "media:track/1"))
	require.NoError(t, om.CallDropHandler(context.Background(), dropID, "after", "nestor_gone", "media:track/2"))
	require.Len(t, root.dropped, 2)
	assert.Equal(t, ui.Element(root.title), root.dropped[0].Target)
	assert.Equal(t, "in", root.dropped[0].Where)
	assert.Nil(t, root.dropped[1].Target)
	assert.Equal(t, "media:track/2", root.dropped[1].ObjRef)

	err := om.CallDropHandler(context.Background(), dropID+100, "in", "", "")
	assert.ErrorIs(t, err, ui.ErrUnknownHandler)
}

type updater struct {
	ui.Base
	updates int
}

func (u *updater) Update() {
	u.updates++
	u.SetContent(strconv.Itoa(u.updates))
	u.ScheduleUpdate(500)
}

func TestUpdateElements(t *testing.T) {
	om, root := newTestManager(t)

	var u *updater
	exec(t, om, root, func(r *testRoot) {
		u = ui.Create(r, &updater{}, "clock", "span")
		r.AppendChild(u)
	})

	om.UpdateElements(context.Background(), []string{"nestor_clock", "nestor_unknown"})
	assert.Equal(t, 1, u.updates)
	want := []ui.Op{
		{Code: ui.OpContent, Target: "nestor_clock", Args: []string{"1"}},
		{Code: ui.OpSchedUpdate, Target: "nestor_clock", Args: []string{"500"}},
	}
	assert.Equal(t, want, om.TakeOps())
}

type memValues map[string]value.Value

func (m memValues) Load(key string) (value.Value, bool) {
	v, ok := m[key]
	return v, ok
}

func (m memValues) Save(key string, v value.Value) error {
	m[key] = v
	return nil
}

func TestElementValues(t *testing.T) {
	values := memValues{}
	om, root := newTestManager(t, ui.WithValues(values))

	exec(t, om, root, func(r *testRoot) {
		assert.Equal(t, value.Int(10), r.title.Load("volume", 10))
		require.NoError(t, r.title.Save("volume", 42))
		assert.Equal(t, value.Int(42), r.title.Load("volume", 10))
	})
	assert.Contains(t, values, "nestor/nestor_title/volume")

	// Without a store, Load falls back to the default and Save is a no-op.
	om2, root2 := newTestManager(t)
	exec(t, om2, root2, func(r *testRoot) {
		require.NoError(t, r.title.Save("volume", 42))
		assert.Equal(t, value.String("x"), r.title.Load("volume", "x"))
	})
}

func TestRenderPage(t *testing.T) {
	om := ui.NewOutputManager(func() ui.Element {
		return &pageRoot{}
	}, ui.WithTitle("My <Home>"))

	var buf bytes.Buffer
	require.NoError(t, om.RenderPage(context.Background(), &buf))
	page := buf.String()

	assert.Contains(t, page, "<title>My &lt;Home&gt;</title>")
	assert.Contains(t, page, `<link rel="stylesheet" href="/web/main.css">`)
	assert.Contains(t, page, `<script src="/web/app.js"></script>`)
	assert.Contains(t, page, `<div id="nestor_root" class="page"><h1 id="nestor_head">Title &amp; more</h1><img id="nestor_logo"></div>`)
	assert.Contains(t, page, "#nestor_root { background-color: black; }")
	assert.Contains(t, page, "#nestor_head:hover { text-decoration: underline; }")
	assert.Contains(t, page, "window.$nestor")
	assert.Contains(t, page, `$nestor.with("nestor_head",function(e){$nestor.event(e,"click",1,"h");});`)
	assert.NotContains(t, page, "nestor_gone")
}

type pageRoot struct {
	ui.Base
}

func (p *pageRoot) Render() {
	p.AddScript("/web/app.js")
	p.AddScript("/web/app.js")
	p.AddStylesheet("/web/main.css")
	p.AddClass("page")
	p.SetStyle("backgroundColor", "black")

	head := ui.Create(p, ui.NewLabel("Title & more"), "head", "h1")
	p.AppendChild(head)
	head.SetPseudoStyle("hover", "textDecoration", "underline")
	head.SetHandler("click", func(context.Context, string) error { return nil }, "h")

	p.AppendChild(ui.Create(p, &ui.Base{}, "logo", "img"))

	gone := ui.Create(p, ui.NewLabel("temp"), "gone", "span")
	p.AppendChild(gone)
	p.RemoveChild(gone)
}

func TestRenderJSONOpcodes(t *testing.T) {
	om, root := newTestManager(t)

	exec(t, om, root, func(r *testRoot) {
		r.title.AddClass("active")
		r.list.SetStyle("display", "none")
	})
	data, err := om.RenderJSONOpcodes()
	require.NoError(t, err)
	assert.Equal(t, `{"op":""}`, string(data))

	root.run = func(r *testRoot) error {
		r.title.AddClass("big")
		r.list.SetPseudoStyle("hover", "color", "blue")
		return nil
	}
	require.NoError(t, om.CallHandler(context.Background(), root.runID, ""))
	data, err = om.RenderJSONOpcodes()
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(data, &resp))
	want := `$nestor.with("nestor_title",function(e){e.classList.add("big");});` + "\n" +
		`$nestor.with("nestor_list",function(e){$nestor.css(e.id,"hover","color","blue");});` + "\n"
	assert.Equal(t, want, resp["op"])
}

func TestHandlerPatchAnswersOwnOps(t *testing.T) {
	om, root := newTestManager(t)

	var hid int
	exec(t, om, root, func(r *testRoot) {
		hid = r.title.SetHandler("click", func(ctx context.Context, arg string) error {
			r.title.SetLabel("clicked " + arg)
			return nil
		}, "")
	})

	const n = 16
	patches := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := om.HandlerPatch(context.Background(), hid, strconv.Itoa(i))
			if err != nil {
				return
			}
			var resp map[string]string
			if json.Unmarshal(data, &resp) == nil {
				patches[i] = resp["op"]
			}
		}(i)
	}
	wg.Wait()

	for i, op := range patches {
		assert.Equal(t, `$nestor.with("nestor_title",function(e){$nestor.content(e,"clicked `+strconv.Itoa(i)+`");});`+"\n", op)
	}
	assert.Empty(t, om.TakeOps())
}

func TestPatchFailureKeepsOps(t *testing.T) {
	om, root := newTestManager(t)
	exec(t, om, root, func(*testRoot) {})

	failing := errors.New("boom")
	root.run = func(r *testRoot) error {
		r.title.AddClass("half-done")
		return failing
	}
	_, err := om.HandlerPatch(context.Background(), root.runID, "")
	assert.ErrorIs(t, err, failing)

	_, err = om.HandlerPatch(context.Background(), 999, "")
	assert.ErrorIs(t, err, ui.ErrUnknownHandler)

	data, err := om.UpdatePatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, string(data), `half-done`)
}

func TestPatchWithoutPageAsksReload(t *testing.T) {
	om := ui.NewOutputManager(func() ui.Element { return &testRoot{} })

	_, err := om.UpdatePatch(context.Background(), []string{"nestor_root"})
	assert.ErrorIs(t, err, ui.ErrNoPage)
	_, err = om.HandlerPatch(context.Background(), 1, "")
	assert.ErrorIs(t, err, ui.ErrNoPage)
	_, err = om.DropPatch(context.Background(), 1, "in", "", "media:t1")
	assert.ErrorIs(t, err, ui.ErrNoPage)

	om.BuildPage(context.Background())
	_, err = om.UpdatePatch(context.Background(), []string{"nestor_root"})
	assert.NoError(t, err)
}

func TestGroupOps(t *testing.T) {
	ops := []ui.Op{
		{Code: ui.OpClass, Target: "a", Args: []string{"x"}},
		{Code: ui.OpChild, Target: "p", Args: []string{"b", "div"}},
		{Code: ui.OpContent, Target: "b", Args: []string{"1"}},
		{Code: ui.OpUnclass, Target: "a", Args: []string{"x"}},
		{Code: ui.OpUnchild, Target: "p", Args: []string{"b"}},
		{Code: ui.OpChild, Target: "p", Args: []string{"b", "div"}},
		{Code: ui.OpContent, Target: "b", Args: []string{"2"}},
	}
	groups := ui.GroupOps(ops)

	var got [][]string
	for _, g := range groups {
		var codes []string
		for _, op := range g.Ops {
			codes = append(codes, string(op.Code))
		}
		got = append(got, append([]string{g.Target}, codes...))
	}
	want := [][]string{
		{"a", "class", "unclass"},
		{"p", "child", "unchild", "child"},
		{"b", "content"},
		{"b", "content"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestRuntimeEmbedded(t *testing.T) {
	rt := ui.Runtime()
	for _, fn := range []string{"with", "child", "unchild", "popup", "unpopup", "swap", "schedule", "event", "dropTarget"} {
		assert.Contains(t, rt, fn+":", fn)
	}
}
