package ipc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/protocol"
	"github.com/nestormc/nestor/value"
)

// MatchQuery is the client form of a match request.
type MatchQuery struct {
	Owners []string
	Expr   expr.Expr
	Types  []string
	Detail uint8
	Offset int
	// Limit caps the result count when positive. Zero asks for everything.
	Limit       int
	SortField   string
	SortReverse bool
}

// Packet returns the OBJECTS request for q.
func (q MatchQuery) Packet() *protocol.Packet {
	t := protocol.Str(protocol.TagMatchQuery, strings.Join(q.Owners, ","))
	if !expr.IsEmpty(q.Expr) {
		t.Add(protocol.EncodeExpr(q.Expr))
	}
	t.Add(protocol.U8(protocol.TagDetailLevel, q.Detail))
	if q.Offset > 0 {
		t.Add(protocol.U32(protocol.TagOffset, uint32(q.Offset)))
	}
	if q.Limit > 0 {
		t.Add(protocol.U32(protocol.TagLimit, uint32(q.Limit)))
	}
	for _, typ := range q.Types {
		t.Add(protocol.Str(protocol.TagTypes, typ))
	}
	if q.SortField != "" {
		t.Add(protocol.Str(protocol.TagSortField, q.SortField))
		if q.SortReverse {
			t.Add(protocol.U8(protocol.TagSortReverse, 1))
		}
	}
	return protocol.NewPacket(protocol.OpObjects, t)
}

// ObjectQuery returns the OBJECTS request resolving refs.
func ObjectQuery(detail uint8, refs ...string) *protocol.Packet {
	p := protocol.NewPacket(protocol.OpObjects)
	for _, ref := range refs {
		p.Add(protocol.Str(protocol.TagObjectRef, ref).Add(protocol.U8(protocol.TagDetailLevel, detail)))
	}
	return p
}

// ActionQuery returns the request listing the actions of processor on ref.
func ActionQuery(processor, ref string) *protocol.Packet {
	return protocol.NewPacket(protocol.OpObjects,
		protocol.Str(protocol.TagActionQuery, processor).Add(protocol.Str(protocol.TagObjectRef, ref)))
}

// ActionExecute returns the request executing action. Params are sent in
// name order.
func ActionExecute(processor, action, ref string, params map[string]value.Value) *protocol.Packet {
	t := protocol.Str(protocol.TagActionExecute, action).Add(
		protocol.Str(protocol.TagProcessor, processor),
		protocol.Str(protocol.TagObjectRef, ref),
	)
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t.Add(protocol.Str(protocol.TagParam, n).Add(protocol.EncodeValue(protocol.TagParamValue, params[n])))
	}
	return protocol.NewPacket(protocol.OpObjects, t)
}

// ObjectInfo is a decoded object of an OBJECTS answer.
type ObjectInfo struct {
	Ref   string
	Types []string
	Props *value.Map
}

// ParseObjects decodes the objects of an OBJECTS answer.
func ParseObjects(p *protocol.Packet) ([]ObjectInfo, error) {
	if err := answerError(p); err != nil {
		return nil, err
	}
	refs := p.TagsNamed(protocol.TagObjectRef)
	out := make([]ObjectInfo, 0, len(refs))
	for _, t := range refs {
		ref, err := t.Text()
		if err != nil {
			return nil, err
		}
		info := ObjectInfo{Ref: ref, Props: value.NewMap()}
		for _, s := range t.SubAll(protocol.TagObjectType) {
			typ, err := s.Text()
			if err != nil {
				return nil, err
			}
			info.Types = append(info.Types, typ)
		}
		for _, s := range t.SubAll(protocol.TagProperty) {
			name, v, err := protocol.DecodeProperty(s)
			if err != nil {
				return nil, err
			}
			info.Props.Set(name, v)
		}
		out = append(out, info)
	}
	return out, nil
}

// ActionInfo is a decoded action of an action query answer.
type ActionInfo struct {
	Name   string
	Params []objects.Param
}

// ParseActions decodes the answer to ActionQuery.
func ParseActions(p *protocol.Packet) ([]ActionInfo, error) {
	if err := answerError(p); err != nil {
		return nil, err
	}
	var out []ActionInfo
	for _, t := range p.TagsNamed(protocol.TagAction) {
		name, err := t.Text()
		if err != nil {
			return nil, err
		}
		info := ActionInfo{Name: name}
		for _, s := range t.SubAll(protocol.TagParam) {
			param, err := decodeParam(s)
			if err != nil {
				return nil, err
			}
			info.Params = append(info.Params, param)
		}
		out = append(out, info)
	}
	return out, nil
}

// ParseProgress decodes the answer to ActionExecute: an empty id for
// SUCCESS, the progress id for PROCESSING.
func ParseProgress(p *protocol.Packet) (string, error) {
	if err := answerError(p); err != nil {
		return "", err
	}
	switch p.Opcode {
	case protocol.OpSuccess:
		return "", nil
	case protocol.OpProcessing:
		if t := p.Tag(protocol.TagProcessingID); t != nil {
			return t.Text()
		}
		return "", fmt.Errorf("PROCESSING answer without id: %w", protocol.ErrFraming)
	}
	return "", fmt.Errorf("unexpected answer %s", p.Opcode)
}

// answerError turns a FAILURE answer into an ObjectError.
func answerError(p *protocol.Packet) error {
	if p.Opcode != protocol.OpFailure {
		return nil
	}
	reason := errors.CodeUnknown
	if t := p.Tag(protocol.TagReason); t != nil {
		if s, err := t.Text(); err == nil {
			reason = s
		}
	}
	code, arg, _ := strings.Cut(reason, ":")
	if arg == "" {
		return errors.NewObjectError(code)
	}
	return errors.NewObjectError(code, arg)
}

func encodeParam(p objects.Param) *protocol.Tag {
	t := protocol.Str(protocol.TagParam, p.Name).Add(protocol.U8(protocol.TagParamType, uint8(p.Type)))
	if p.Optional {
		t.Add(protocol.U8(protocol.TagParamOptional, 1))
	}
	if !p.Default.IsNull() {
		t.Add(protocol.EncodeValue(protocol.TagParamValue, p.Default))
	}
	return t
}

func decodeParam(t *protocol.Tag) (objects.Param, error) {
	name, err := t.Text()
	if err != nil {
		return objects.Param{}, err
	}
	p := objects.Param{Name: name}
	if s := t.Sub(protocol.TagParamType); s != nil {
		n, err := s.Uint()
		if err != nil {
			return p, err
		}
		p.Type = objects.ParamType(n)
	}
	if s := t.Sub(protocol.TagParamOptional); s != nil {
		n, err := s.Uint()
		if err != nil {
			return p, err
		}
		p.Optional = n != 0
	}
	if s := t.Sub(protocol.TagParamValue); s != nil {
		v, err := protocol.DecodeValue(s)
		if err != nil {
			return p, err
		}
		p.Default = v
	}
	return p, nil
}
