package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/realm/internal/ir"
)

// ParseError reports a malformed predicate. Pos is a byte offset into the
// source text.
type ParseError struct {
	Source  string
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse predicate %q at offset %d: %s", e.Source, e.Pos, e.Message)
}

// Parse parses a textual predicate. Positional placeholders $0, $1, ...
// are replaced with the matching args; an empty predicate is TRUEPREDICATE.
func Parse(src string, args ...ir.Value) (Predicate, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, args: args}
	if p.peek().kind == tokEOF {
		return True{}, nil
	}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return pred, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(src string, args ...ir.Value) Predicate {
	p, err := Parse(src, args...)
	if err != nil {
		panic(err)
	}
	return p
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokInt
	tokArg
	tokOp
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '\'' || c == '"':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, s, i})
			i += n
		case c == '$':
			j := i + 1
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			if j == i+1 {
				return nil, &ParseError{Source: src, Pos: i, Message: "expected argument index after $"}
			}
			toks = append(toks, token{tokArg, src[i+1 : j], i})
			i = j
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			if j < len(src) && (src[j] == '.' || src[j] == 'e' || src[j] == 'E') {
				return nil, &ParseError{Source: src, Pos: i, Message: "floats are forbidden"}
			}
			if src[i:j] == "-" {
				return nil, &ParseError{Source: src, Pos: i, Message: "expected digits after -"}
			}
			toks = append(toks, token{tokInt, src[i:j], i})
			i = j
		case c == '&' || c == '|':
			if i+1 >= len(src) || src[i+1] != c {
				return nil, &ParseError{Source: src, Pos: i, Message: fmt.Sprintf("unexpected %q", string(c))}
			}
			kind := tokAnd
			if c == '|' {
				kind = tokOr
			}
			toks = append(toks, token{kind, src[i : i+2], i})
			i += 2
		case strings.ContainsRune("=!<>", rune(c)):
			op, n := lexOp(src[i:])
			if n == 0 {
				return nil, &ParseError{Source: src, Pos: i, Message: fmt.Sprintf("unexpected %q", string(c))}
			}
			if op == "!" {
				toks = append(toks, token{tokNot, "!", i})
			} else {
				toks = append(toks, token{tokOp, op, i})
			}
			i += n
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && (isIdentStart(src[j]) || (src[j] >= '0' && src[j] <= '9')) {
				j++
			}
			word := src[i:j]
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{tokAnd, word, i})
			case "OR":
				toks = append(toks, token{tokOr, word, i})
			case "NOT":
				toks = append(toks, token{tokNot, word, i})
			default:
				toks = append(toks, token{tokIdent, word, i})
			}
			i = j
		default:
			return nil, &ParseError{Source: src, Pos: i, Message: fmt.Sprintf("unexpected %q", string(c))}
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// lexOp returns the normalized operator at the start of s and its length.
func lexOp(s string) (string, int) {
	two := ""
	if len(s) >= 2 {
		two = s[:2]
	}
	switch two {
	case "==":
		return string(OpEq), 2
	case "!=", "<>":
		return string(OpNe), 2
	case "<=":
		return string(OpLe), 2
	case ">=":
		return string(OpGe), 2
	}
	switch s[0] {
	case '=':
		return string(OpEq), 1
	case '<':
		return string(OpLt), 1
	case '>':
		return string(OpGt), 1
	case '!':
		return "!", 1
	}
	return "", 0
}

// lexString reads a quoted string starting at src[start]. Backslash escapes
// the next character.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			if i+1 >= len(src) {
				return "", 0, &ParseError{Source: src, Pos: i, Message: "unterminated escape"}
			}
			i++
			b.WriteByte(src[i])
		case quote:
			return b.String(), i - start + 1, nil
		default:
			b.WriteByte(src[i])
		}
	}
	return "", 0, &ParseError{Source: src, Pos: start, Message: "unterminated string"}
}

type parser struct {
	src  string
	toks []token
	pos  int
	args []ir.Value
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &ParseError{Source: p.src, Pos: tok.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Predicate, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	preds := []Predicate{first}
	for p.peek().kind == tokOr {
		p.next()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		preds = append(preds, next)
	}
	if len(preds) == 1 {
		return first, nil
	}
	return Or{Predicates: preds}, nil
}

func (p *parser) parseAnd() (Predicate, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	preds := []Predicate{first}
	for p.peek().kind == tokAnd {
		p.next()
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		preds = append(preds, next)
	}
	if len(preds) == 1 {
		return first, nil
	}
	return And{Predicates: preds}, nil
}

func (p *parser) parseUnary() (Predicate, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Predicate: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Predicate, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ), got %q", closing.text)
		}
		return inner, nil
	case tokIdent:
		switch strings.ToUpper(tok.text) {
		case "TRUEPREDICATE":
			return True{}, nil
		case "FALSEPREDICATE":
			return False{}, nil
		}
		return p.parseComparison(tok)
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of predicate")
	default:
		return nil, p.errorf(tok, "expected field name, got %q", tok.text)
	}
}

func (p *parser) parseComparison(field token) (Predicate, error) {
	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, p.errorf(opTok, "expected comparison operator after %s", field.text)
	}
	op := Op(opTok.text)

	valTok := p.next()
	value, err := p.operand(valTok)
	if err != nil {
		return nil, err
	}

	if op.Ordering() {
		switch value.(type) {
		case ir.String, ir.Int, ir.Bool:
		default:
			return nil, p.errorf(valTok, "operator %s needs a string, int or bool operand, got %s", op, ir.KindOf(value))
		}
	}
	return Comparison{Field: field.text, Op: op, Value: value}, nil
}

func (p *parser) operand(tok token) (ir.Value, error) {
	switch tok.kind {
	case tokString:
		return ir.String(tok.text), nil
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, p.errorf(tok, "integer out of range: %s", tok.text)
		}
		return ir.Int(n), nil
	case tokArg:
		idx, err := strconv.Atoi(tok.text)
		if err != nil || idx >= len(p.args) {
			return nil, p.errorf(tok, "argument $%s not supplied (%d given)", tok.text, len(p.args))
		}
		if p.args[idx] == nil {
			return ir.Null{}, nil
		}
		return p.args[idx], nil
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return ir.Bool(true), nil
		case "false":
			return ir.Bool(false), nil
		case "null", "nil":
			return ir.Null{}, nil
		}
		return nil, p.errorf(tok, "field-to-field comparison is not supported: %s", tok.text)
	default:
		return nil, p.errorf(tok, "expected value, got %q", tok.text)
	}
}
