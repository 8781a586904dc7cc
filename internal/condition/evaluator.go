// Package condition implements the minimal safe boolean interpreter spec
// §4.4 requires: variable references, string/boolean literals, ==, !=, and,
// or, not, over a fixed whitelisted context. Any other construct is a parse
// error, never a panic — the executor treats an evaluation error as "skip
// the task", the safer default.
package condition

import (
	"fmt"
	"strings"
)

// Context is the fixed set of variables a condition expression may
// reference (spec §4.4).
type Context struct {
	Branch   string
	Tag      string
	Event    string
	PRNumber string
	CI       bool
}

func (c Context) lookup(name string) (value, bool) {
	switch name {
	case "branch":
		return value{s: c.Branch, isStr: true}, true
	case "tag":
		return value{s: c.Tag, isStr: true}, true
	case "event":
		return value{s: c.Event, isStr: true}, true
	case "pr_number":
		return value{s: c.PRNumber, isStr: true}, true
	case "ci":
		return value{b: c.CI}, true
	default:
		return value{}, false
	}
}

// AllowedVariables lists the whitelisted context keys, for diagnostics when
// an expression references an unknown variable.
var AllowedVariables = []string{"branch", "tag", "event", "pr_number", "ci"}

type value struct {
	isStr bool
	s     string
	b     bool
}

func (v value) equal(o value) bool {
	if v.isStr || o.isStr {
		return v.isStr && o.isStr && v.s == o.s
	}
	return v.b == o.b
}

func (v value) truthy() bool {
	if v.isStr {
		return v.s != ""
	}
	return v.b
}

// Result is the outcome of Evaluate.
type Result struct {
	OK    bool
	Value bool
	Err   error
}

// Evaluate parses and evaluates expr against ctx. A syntax error or a
// reference to a variable outside AllowedVariables returns Result{Err: ...}
// rather than panicking.
func Evaluate(expr string, ctx Context) Result {
	p := &parser{lex: newLexer(expr)}
	if err := p.advance(); err != nil {
		return Result{Err: err}
	}
	v, err := p.parseOr(ctx)
	if err != nil {
		return Result{Err: err}
	}
	if p.tok.kind != tokEOF {
		return Result{Err: fmt.Errorf("condition: unexpected trailing token %q", p.tok.text)}
	}
	return Result{OK: true, Value: v.truthy()}
}

// --- recursive-descent parser over: or := and (OR and)*
//                                     and := not (AND not)*
//                                     not := NOT not | cmp
//                                     cmp := atom (EQ|NEQ atom)?
//                                     atom := VAR | STRING | BOOL

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr(ctx Context) (value, error) {
	left, err := p.parseAnd(ctx)
	if err != nil {
		return value{}, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return value{}, err
		}
		right, err := p.parseAnd(ctx)
		if err != nil {
			return value{}, err
		}
		left = value{b: left.truthy() || right.truthy()}
	}
	return left, nil
}

func (p *parser) parseAnd(ctx Context) (value, error) {
	left, err := p.parseNot(ctx)
	if err != nil {
		return value{}, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return value{}, err
		}
		right, err := p.parseNot(ctx)
		if err != nil {
			return value{}, err
		}
		left = value{b: left.truthy() && right.truthy()}
	}
	return left, nil
}

func (p *parser) parseNot(ctx Context) (value, error) {
	if p.tok.kind == tokNot {
		if err := p.advance(); err != nil {
			return value{}, err
		}
		v, err := p.parseNot(ctx)
		if err != nil {
			return value{}, err
		}
		return value{b: !v.truthy()}, nil
	}
	return p.parseCmp(ctx)
}

func (p *parser) parseCmp(ctx Context) (value, error) {
	left, err := p.parseAtom(ctx)
	if err != nil {
		return value{}, err
	}
	switch p.tok.kind {
	case tokEq, tokNeq:
		op := p.tok.kind
		if err := p.advance(); err != nil {
			return value{}, err
		}
		right, err := p.parseAtom(ctx)
		if err != nil {
			return value{}, err
		}
		eq := left.equal(right)
		if op == tokNeq {
			eq = !eq
		}
		return value{b: eq}, nil
	default:
		return left, nil
	}
}

func (p *parser) parseAtom(ctx Context) (value, error) {
	switch p.tok.kind {
	case tokIdent:
		name := p.tok.text
		switch name {
		case "true":
			if err := p.advance(); err != nil {
				return value{}, err
			}
			return value{b: true}, nil
		case "false":
			if err := p.advance(); err != nil {
				return value{}, err
			}
			return value{b: false}, nil
		}
		v, ok := ctx.lookup(name)
		if !ok {
			return value{}, fmt.Errorf("condition: unknown variable %q (allowed: %s)", name, strings.Join(AllowedVariables, ", "))
		}
		if err := p.advance(); err != nil {
			return value{}, err
		}
		return v, nil
	case tokString:
		v := value{s: p.tok.text, isStr: true}
		if err := p.advance(); err != nil {
			return value{}, err
		}
		return v, nil
	default:
		return value{}, fmt.Errorf("condition: unexpected token %q", p.tok.text)
	}
}
