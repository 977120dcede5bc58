package ipc

import (
	"context"
	"strings"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/protocol"
	"github.com/nestormc/nestor/value"
)

// ObjectsHandler serves the four OBJECTS request forms against m. All the
// queries of one packet run in one query scope.
func ObjectsHandler(m *objects.Manager) Handler {
	return func(ctx context.Context, c *Client, p *protocol.Packet) error {
		q := m.Begin(ctx)
		defer q.End()

		if t := p.Tag(protocol.TagMatchQuery); t != nil {
			return answerMatch(q, c, t, m.Providers())
		}
		if refs := p.TagsNamed(protocol.TagObjectRef); len(refs) > 0 {
			return answerObjects(q, c, refs)
		}
		if t := p.Tag(protocol.TagActionQuery); t != nil {
			return answerActions(q, c, t)
		}
		if t := p.Tag(protocol.TagActionExecute); t != nil {
			return answerExecute(q, c, t)
		}
		return errors.ErrNoQuery()
	}
}

func answerMatch(q *objects.Query, c *Client, t *protocol.Tag, all []string) error {
	owners, err := t.Text()
	if err != nil {
		return errors.WrapInvalid(err, "ipc", "answerMatch", "read owners")
	}
	req := objects.MatchRequest{Owners: all, Limit: objects.NoLimit}
	if owners != "" {
		req.Owners = strings.Split(owners, ",")
	}

	if e := t.Sub(protocol.TagExpression); e != nil {
		if req.Expr, err = protocol.DecodeExpr(e); err != nil {
			return err
		}
	}
	detail := detailLevel(t)
	if req.Offset, err = uintSub(t, protocol.TagOffset); err != nil {
		return err
	}
	if t.Sub(protocol.TagLimit) != nil {
		if req.Limit, err = uintSub(t, protocol.TagLimit); err != nil {
			return err
		}
	}
	for _, s := range t.SubAll(protocol.TagTypes) {
		typ, err := s.Text()
		if err != nil {
			return errors.WrapInvalid(err, "ipc", "answerMatch", "read types")
		}
		req.Types = append(req.Types, typ)
	}
	if s := t.Sub(protocol.TagSortField); s != nil {
		if req.SortField, err = s.Text(); err != nil {
			return errors.WrapInvalid(err, "ipc", "answerMatch", "read sort field")
		}
	}
	reverse, err := uintSub(t, protocol.TagSortReverse)
	if err != nil {
		return err
	}
	req.SortReverse = reverse != 0

	objs, err := q.MatchObjects(req)
	if err != nil {
		return err
	}
	answer := protocol.NewPacket(protocol.OpObjects)
	for _, o := range objs {
		answer.Add(ObjectTag(o, detail))
	}
	return c.Answer(answer)
}

func answerObjects(q *objects.Query, c *Client, refs []*protocol.Tag) error {
	answer := protocol.NewPacket(protocol.OpObjects)
	for _, t := range refs {
		ref, err := t.Text()
		if err != nil {
			return errors.WrapInvalid(err, "ipc", "answerObjects", "read objref")
		}
		o, err := q.Get(ref)
		if err != nil {
			return err
		}
		answer.Add(ObjectTag(o, detailLevel(t)))
	}
	return c.Answer(answer)
}

func answerActions(q *objects.Query, c *Client, t *protocol.Tag) error {
	processor, err := t.Text()
	if err != nil {
		return errors.WrapInvalid(err, "ipc", "answerActions", "read processor")
	}
	ref, err := refSub(t)
	if err != nil {
		return err
	}
	actions, err := q.GetActions(processor, ref)
	if err != nil {
		return err
	}
	answer := protocol.NewPacket(protocol.OpObjects)
	for _, a := range actions {
		at := protocol.Str(protocol.TagAction, a.Name)
		for _, p := range a.Params() {
			at.Add(encodeParam(p))
		}
		answer.Add(at)
	}
	return c.Answer(answer)
}

func answerExecute(q *objects.Query, c *Client, t *protocol.Tag) error {
	action, err := t.Text()
	if err != nil {
		return errors.WrapInvalid(err, "ipc", "answerExecute", "read action")
	}
	pt := t.Sub(protocol.TagProcessor)
	if pt == nil {
		return errors.ErrNoQuery()
	}
	processor, err := pt.Text()
	if err != nil {
		return errors.WrapInvalid(err, "ipc", "answerExecute", "read processor")
	}
	ref, err := refSub(t)
	if err != nil {
		return err
	}

	params := make(map[string]value.Value)
	for _, s := range t.SubAll(protocol.TagParam) {
		name, err := s.Text()
		if err != nil {
			return errors.WrapInvalid(err, "ipc", "answerExecute", "read param name")
		}
		vt := s.Sub(protocol.TagParamValue)
		if vt == nil {
			return errors.ErrMissingParamValue(name)
		}
		v, err := protocol.DecodeValue(vt)
		if err != nil {
			return errors.ErrInvalidParamValue(name)
		}
		params[name] = v
	}

	progress, err := q.DoAction(processor, action, ref, params)
	if err != nil {
		return err
	}
	if progress != nil {
		return c.AnswerProcessing(progress.ID)
	}
	return c.AnswerSuccess()
}

// ObjectTag is the wire form of an object at a detail level: the reference,
// then types from DetailTypes, then properties from DetailProps.
func ObjectTag(o *objects.Object, detail uint8) *protocol.Tag {
	t := protocol.Str(protocol.TagObjectRef, o.Ref())
	if detail >= protocol.DetailTypes {
		for _, typ := range o.Types() {
			t.Add(protocol.Str(protocol.TagObjectType, typ))
		}
	}
	if detail >= protocol.DetailProps {
		props := o.Props()
		props.Range(func(k string, v value.Value) bool {
			t.Add(protocol.EncodeProperty(k, v))
			return true
		})
	}
	return t
}

// detailLevel reads the advisory detail level of a query tag. A missing or
// unreadable level means full detail.
func detailLevel(t *protocol.Tag) uint8 {
	s := t.Sub(protocol.TagDetailLevel)
	if s == nil {
		return protocol.DetailProps
	}
	n, err := s.Uint()
	if err != nil || n > uint32(protocol.DetailProps) {
		return protocol.DetailProps
	}
	return uint8(n)
}

func uintSub(t *protocol.Tag, name uint16) (int, error) {
	s := t.Sub(name)
	if s == nil {
		return 0, nil
	}
	n, err := s.Uint()
	if err != nil {
		return 0, errors.WrapInvalid(err, "ipc", "uintSub", "read integer tag")
	}
	return int(n), nil
}

func refSub(t *protocol.Tag) (string, error) {
	s := t.Sub(protocol.TagObjectRef)
	if s == nil {
		return "", errors.ErrNoQuery()
	}
	ref, err := s.Text()
	if err != nil {
		return "", errors.WrapInvalid(err, "ipc", "refSub", "read objref")
	}
	return ref, nil
}
