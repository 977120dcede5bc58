// Package ui implements the server-side retained UI: an element tree per
// session whose mutations are recorded as ops and rendered either as the
// initial HTML page or as a JSON patch replayed by the browser runtime.
//
// Elements embed Base and implement the three lifecycle methods:
//
//	type clock struct {
//		ui.Base
//		label *ui.Label
//	}
//
//	func (c *clock) Init()   { c.label = ui.Create(c, ui.NewLabel(""), "label", "span") }
//	func (c *clock) Render() { c.AppendChild(c.label); c.Update() }
//	func (c *clock) Update() {
//		c.label.SetLabel(time.Now().Format(time.Kitchen))
//		c.ScheduleUpdate(1000)
//	}
//
// Element ids are app + "_" + local id and must be unique in a session. Ops
// recorded on an element before it is attached are kept on the element and
// emitted right after the op attaching it. Content overwrites and child
// removals unregister the affected subtree, so the server tree stays in line
// with the page.
//
// A patch groups ops by target element, ordered by first appearance, and
// guards every group with an existence check: replaying a patch whose
// targets have disappeared changes nothing.
package ui
