// Package condition implements the closed predicate grammar used by rule
// conditions. Expressions are compiled once per rule and evaluated against a
// field resolver per request.
//
// The grammar supports comparisons (==, !=, <, <=, >, >=), membership
// (in, not_in), substring/element checks (contains), boolean combinators
// (and/&&, or/||, not/!) and parentheses. Literals are single- or
// double-quoted strings, numbers and true/false. Everything else is a field
// reference.
//
// Evaluation is pure and fail-closed: a reference to a field the request
// does not carry, or a comparison between incompatible types, makes that
// clause false. Evaluation never returns an error.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolver supplies request field values during evaluation. The second
// return value reports whether the field exists.
type Resolver func(name string) (interface{}, bool)

// MapResolver adapts a plain map to a Resolver.
func MapResolver(fields map[string]interface{}) Resolver {
	return func(name string) (interface{}, bool) {
		v, ok := fields[name]
		return v, ok
	}
}

// Program is a compiled condition, safe for concurrent evaluation.
type Program struct {
	source string
	root   node
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Eval evaluates the condition against the resolver.
func (p *Program) Eval(resolve Resolver) bool {
	return p.root.eval(resolve)
}

// Compile parses the expression into a Program. Compilation errors indicate
// a malformed rule and are surfaced at policy load time.
func Compile(expr string) (*Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty condition")
	}
	p := &parser{lex: &lexer{input: expr}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
	return &Program{source: expr, root: root}, nil
}

// node is a compiled expression tree node.
type node interface {
	eval(resolve Resolver) bool
}

type andNode struct{ left, right node }
type orNode struct{ left, right node }
type notNode struct{ child node }

func (n andNode) eval(r Resolver) bool { return n.left.eval(r) && n.right.eval(r) }
func (n orNode) eval(r Resolver) bool  { return n.left.eval(r) || n.right.eval(r) }
func (n notNode) eval(r Resolver) bool { return !n.child.eval(r) }

// operand is either a literal or a field reference.
type operand struct {
	isField bool
	field   string
	value   interface{}
}

func (o operand) resolve(r Resolver) (interface{}, bool) {
	if !o.isField {
		return o.value, true
	}
	return r(o.field)
}

// cmpNode is a binary comparison: field/literal op field/literal.
type cmpNode struct {
	op    string
	left  operand
	right operand
}

func (n cmpNode) eval(r Resolver) bool {
	lv, ok := n.left.resolve(r)
	if !ok {
		return false
	}
	rv, ok := n.right.resolve(r)
	if !ok {
		return false
	}
	return compare(n.op, lv, rv)
}

// inNode tests membership of the left operand in a literal list.
type inNode struct {
	left    operand
	list    []operand
	negated bool
}

func (n inNode) eval(r Resolver) bool {
	lv, ok := n.left.resolve(r)
	if !ok {
		return false
	}
	found := false
	for _, item := range n.list {
		iv, ok := item.resolve(r)
		if ok && equal(lv, iv) {
			found = true
			break
		}
	}
	if n.negated {
		return !found
	}
	return found
}

// containsNode tests substring containment for strings and element
// containment for list-valued fields.
type containsNode struct {
	left  operand
	right operand
}

func (n containsNode) eval(r Resolver) bool {
	lv, ok := n.left.resolve(r)
	if !ok {
		return false
	}
	rv, ok := n.right.resolve(r)
	if !ok {
		return false
	}
	switch haystack := lv.(type) {
	case string:
		needle, ok := rv.(string)
		if !ok {
			return false
		}
		return strings.Contains(haystack, needle)
	case []interface{}:
		for _, item := range haystack {
			if equal(item, rv) {
				return true
			}
		}
		return false
	case []string:
		needle, ok := rv.(string)
		if !ok {
			return false
		}
		for _, item := range haystack {
			if item == needle {
				return true
			}
		}
		return false
	}
	return false
}

// truthyNode is a bare field reference used as a boolean.
type truthyNode struct{ field string }

func (n truthyNode) eval(r Resolver) bool {
	v, ok := r(n.field)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "yes" || t == "1"
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

func compare(op string, lv, rv interface{}) bool {
	switch op {
	case "==":
		return equal(lv, rv)
	case "!=":
		return !equal(lv, rv)
	}

	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		}
		return false
	}

	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs
		case "<=":
			return ls <= rs
		case ">":
			return ls > rs
		case ">=":
			return ls >= rs
		}
	}
	return false
}

func equal(lv, rv interface{}) bool {
	if lf, ok := toFloat(lv); ok {
		if rf, ok := toFloat(rv); ok {
			return lf == rf
		}
		return false
	}
	return lv == rv
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// parser is a recursive-descent parser over the lexer's token stream.
type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokenOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokenAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == tokenNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.tok.kind == tokenLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokenRParen {
			return nil, fmt.Errorf("expected ) at position %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch p.tok.kind {
	case tokenOp:
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return cmpNode{op: op, left: left, right: right}, nil

	case tokenIn, tokenNotIn:
		negated := p.tok.kind == tokenNotIn
		if err := p.advance(); err != nil {
			return nil, err
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return inNode{left: left, list: list, negated: negated}, nil

	case tokenHas:
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return containsNode{left: left, right: right}, nil
	}

	// Bare field reference used as a boolean flag.
	if left.isField {
		return truthyNode{field: left.field}, nil
	}
	return nil, fmt.Errorf("expected comparison operator at position %d", p.tok.pos)
}

func (p *parser) parseList() ([]operand, error) {
	if p.tok.kind != tokenLBrack {
		return nil, fmt.Errorf("expected [ at position %d", p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var items []operand
	for p.tok.kind != tokenRBrack {
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.tok.kind == tokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if p.tok.kind != tokenRBrack {
			return nil, fmt.Errorf("expected , or ] at position %d", p.tok.pos)
		}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty list in membership test")
	}
	return items, nil
}

func (p *parser) parseOperand() (operand, error) {
	tok := p.tok
	switch tok.kind {
	case tokenString:
		if err := p.advance(); err != nil {
			return operand{}, err
		}
		return operand{value: tok.text}, nil
	case tokenNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("malformed number %q at position %d", tok.text, tok.pos)
		}
		if err := p.advance(); err != nil {
			return operand{}, err
		}
		return operand{value: f}, nil
	case tokenIdent:
		if err := p.advance(); err != nil {
			return operand{}, err
		}
		switch strings.ToLower(tok.text) {
		case "true":
			return operand{value: true}, nil
		case "false":
			return operand{value: false}, nil
		}
		return operand{isField: true, field: tok.text}, nil
	}
	return operand{}, fmt.Errorf("expected value or field at position %d", tok.pos)
}
