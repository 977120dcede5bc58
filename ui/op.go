package ui

import "strconv"

// OpCode names a recorded DOM mutation.
type OpCode string

// Op codes and their Args:
//
//	style         prop, value, pseudo ("" for an inline style)
//	content       html
//	dom           prop, JSON value
//	child         child id, tag
//	unchild       child id
//	popup         popup id, tag
//	unpopup       none, the target is the popup
//	swap          first id, second id (their order before the swap)
//	sched_update  delay in milliseconds
//	class         class name
//	unclass       class name
//	event         DOM event, handler id, argument
//	jsevent       DOM event, code
//	jscode        code
const (
	OpStyle       OpCode = "style"
	OpContent     OpCode = "content"
	OpDOM         OpCode = "dom"
	OpChild       OpCode = "child"
	OpUnchild     OpCode = "unchild"
	OpPopup       OpCode = "popup"
	OpUnpopup     OpCode = "unpopup"
	OpSwap        OpCode = "swap"
	OpSchedUpdate OpCode = "sched_update"
	OpClass       OpCode = "class"
	OpUnclass     OpCode = "unclass"
	OpEvent       OpCode = "event"
	OpJSEvent     OpCode = "jsevent"
	OpJSCode      OpCode = "jscode"
)

// Op is one mutation intent targeting the element with id Target.
type Op struct {
	Code   OpCode   `json:"op"`
	Target string   `json:"id"`
	Args   []string `json:"args,omitempty"`
}

// Arg returns the i-th argument, or "".
func (o Op) Arg(i int) string {
	if i < len(o.Args) {
		return o.Args[i]
	}
	return ""
}

// Group is the ops of one target, in recording order.
type Group struct {
	Target string
	Ops    []Op
}

// GroupOps groups ops by target. Groups are ordered by the first appearance
// of their target; ops keep their recording order inside a group. Ops on an
// element created again by a later child or popup op go to a new group, so
// they run after their element exists again.
func GroupOps(ops []Op) []Group {
	index := make(map[string]int)
	gen := make(map[string]int)
	key := func(id string) string { return id + "\x00" + strconv.Itoa(gen[id]) }

	var groups []Group
	for _, op := range ops {
		k := key(op.Target)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Target: op.Target})
		}
		groups[i].Ops = append(groups[i].Ops, op)

		if op.Code == OpChild || op.Code == OpPopup {
			created := op.Arg(0)
			if _, seen := index[key(created)]; seen {
				gen[created]++
			}
		}
	}
	return groups
}
