package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/value"
)

// Parse reads the textual form produced by Expr.String:
//
//	artist == "X" or (year >= 1990 and title ~ live)
//
// and/or have equal precedence and associate to the left. Unquoted values
// are read as bool, int or float when possible and as strings otherwise.
// An empty input yields Empty.
func Parse(s string) (Expr, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, errors.WrapInvalid(err, "expr", "Parse", "tokenize")
	}
	if len(toks) == 0 {
		return Empty, nil
	}
	p := &parser{toks: toks}
	e, err := p.expr()
	if err == nil && p.pos < len(p.toks) {
		err = fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "expr", "Parse", "parse")
	}
	return e, nil
}

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokOp
	tokOpen
	tokClose
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokOpen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokClose, ")"})
			i++
		case r == '"':
			j := i + 1
			for ; j < len(rs) && rs[j] != '"'; j++ {
				if rs[j] == '\\' {
					j++
				}
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			str, err := strconv.Unquote(string(rs[i : j+1]))
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, str})
			i = j + 1
		case strings.ContainsRune("=!<>~", r):
			j := i
			for j < len(rs) && strings.ContainsRune("=!<>~", rs[j]) {
				j++
			}
			op := string(rs[i:j])
			if !Op(op).Valid() {
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			toks = append(toks, token{tokOp, op})
			i = j
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !strings.ContainsRune("()\"=!<>~", rs[j]) {
				j++
			}
			toks = append(toks, token{tokWord, string(rs[i:j])})
			i = j
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) next() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	t := p.toks[p.pos]
	p.pos++
	return t, true
}

func (p *parser) expr() (Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind != tokWord {
			break
		}
		op := BoolOp(strings.ToLower(t.text))
		if op != OpAnd && op != OpOr {
			return nil, fmt.Errorf("expected and/or, got %q", t.text)
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &Composite{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) term() (Expr, error) {
	t, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if t.kind == tokOpen {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if c, ok := p.next(); !ok || c.kind != tokClose {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return e, nil
	}
	if t.kind != tokWord {
		return nil, fmt.Errorf("expected property, got %q", t.text)
	}
	op, ok := p.next()
	if !ok || op.kind != tokOp {
		return nil, fmt.Errorf("expected operator after %q", t.text)
	}
	v, ok := p.next()
	if !ok || (v.kind != tokWord && v.kind != tokString) {
		return nil, fmt.Errorf("expected value after %q", op.text)
	}
	c := &Criterion{Prop: t.text, Op: Op(op.text)}
	if v.kind == tokString {
		c.Value = value.String(v.text)
	} else {
		c.Value = literal(v.text)
	}
	return c, nil
}

func literal(s string) value.Value {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return value.Bool(b)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Float(f)
	}
	return value.String(s)
}
