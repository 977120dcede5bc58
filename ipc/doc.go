// Package ipc implements the binary control socket.
//
// A Server accepts TCP connections and reads packets from each client on
// its own goroutine. Packets are dispatched by opcode to a Handler, which
// answers through the Client: SUCCESS, PROCESSING with a progress id,
// FAILURE with a reason, or any other packet. A handler returning without
// an answer is answered FAILURE "unknown". DISCONNECT is acknowledged and
// closes the connection; framing errors and version mismatches close it
// without an answer.
//
// The OBJECTS opcode carries four request forms, all served by
// ObjectsHandler:
//
//	match query    TagMatchQuery "owner1,owner2" [TagExpression TagDetailLevel TagOffset TagLimit TagTypes... TagSortField TagSortReverse]
//	object query   TagObjectRef "owner:oid" [TagDetailLevel]          (repeatable)
//	action query   TagActionQuery "processor" TagObjectRef
//	action execute TagActionExecute "action" TagProcessor TagObjectRef [TagParam "name" TagParamValue]...
//
// Conn is the dialing side, used by nestorctl and tests.
package ipc
