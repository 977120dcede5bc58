package ui

import (
	"strconv"
	"strings"
)

// RenderPatch renders ops as the body of a JavaScript function run by the
// browser runtime. Each group of ops runs only when its target element
// exists, so patches targeting removed elements do nothing.
func RenderPatch(ops []Op) string {
	var sb strings.Builder
	for _, g := range GroupOps(ops) {
		sb.WriteString("$nestor.with(")
		sb.WriteString(jsString(g.Target))
		sb.WriteString(",function(e){")
		for _, op := range g.Ops {
			sb.WriteString(opJS(op))
		}
		sb.WriteString("});\n")
	}
	return sb.String()
}

func opJS(op Op) string {
	q := func(i int) string { return jsString(op.Arg(i)) }
	num := func(i int) string {
		n, err := strconv.Atoi(op.Arg(i))
		if err != nil {
			return "0"
		}
		return strconv.Itoa(n)
	}

	switch op.Code {
	case OpStyle:
		if op.Arg(2) == "" {
			return "$nestor.style(e," + q(0) + "," + q(1) + ");"
		}
		return "$nestor.css(e.id," + q(2) + "," + q(0) + "," + q(1) + ");"
	case OpContent:
		return "$nestor.content(e," + q(0) + ");"
	case OpDOM:
		return "e[" + q(0) + "]=" + op.Arg(1) + ";"
	case OpChild:
		return "$nestor.child(e," + q(0) + "," + q(1) + ");"
	case OpUnchild:
		return "$nestor.unchild(e," + q(0) + ");"
	case OpPopup:
		return "$nestor.popup(" + q(0) + "," + q(1) + ");"
	case OpUnpopup:
		return "$nestor.unpopup(e);"
	case OpSwap:
		return "$nestor.swap(e," + q(0) + "," + q(1) + ");"
	case OpSchedUpdate:
		return "$nestor.schedule(e.id," + num(0) + ");"
	case OpClass:
		return "e.classList.add(" + q(0) + ");"
	case OpUnclass:
		return "e.classList.remove(" + q(0) + ");"
	case OpEvent:
		return "$nestor.event(e," + q(0) + "," + num(1) + "," + q(2) + ");"
	case OpJSEvent:
		return "$nestor.listen(e," + q(0) + "," + q(1) + ",function(event){" + op.Arg(1) + "});"
	case OpJSCode:
		return "(function(){" + op.Arg(0) + "}).call(e);"
	}
	return ""
}
