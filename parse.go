package impls

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SyntaxError reports a malformed capability expression.
type SyntaxError struct {
	Offset int // byte offset into the source expression
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("impls: syntax error at offset %d: %s", e.Offset, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNot
	tokAnd
	tokXor
	tokOr
	tokLParen
	tokRParen
	tokCap
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokNot:
		return `"!"`
	case tokAnd:
		return `"&"`
	case tokXor:
		return `"^"`
	case tokOr:
		return `"|"`
	case tokLParen:
		return `"("`
	case tokRParen:
		return `")"`
	case tokCap:
		return "capability"
	}
	return "unknown token"
}

type lexeme struct {
	kind   tokenKind
	offset int
	ref    CapRef
}

// Parse parses a capability expression such as
//
//	io.Reader & !io.Writer | (fmt.Stringer ^ Container[int])
//
// Precedence from tightest to loosest is "!", "&", "^", "|". Binary
// operators are left-associative and parentheses group.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		if t.kind == tokRParen {
			return nil, &SyntaxError{Offset: t.offset, Msg: `unbalanced ")"`}
		}
		return nil, &SyntaxError{Offset: t.offset, Msg: fmt.Sprintf("unexpected %s after expression", t.kind)}
	}
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

type exprParser struct {
	toks []lexeme
	pos  int
}

func (p *exprParser) peek() lexeme { return p.toks[p.pos] }

func (p *exprParser) next() lexeme {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) parseOr() (Expr, error) {
	x, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		y, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		x = Or{X: x, Y: y}
	}
	return x, nil
}

func (p *exprParser) parseXor() (Expr, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokXor {
		p.next()
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = Xor{X: x, Y: y}
	}
	return x, nil
}

func (p *exprParser) parseAnd() (Expr, error) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		y, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		x = And{X: x, Y: y}
	}
	return x, nil
}

func (p *exprParser) parseUnary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokCap:
		return Leaf{Ref: t.ref}, nil
	case tokLParen:
		if p.peek().kind == tokRParen {
			return nil, &SyntaxError{Offset: p.peek().offset, Msg: "empty parentheses"}
		}
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, &SyntaxError{Offset: t.offset, Msg: `unbalanced "("`}
		}
		p.next()
		return Group{X: x}, nil
	case tokEOF:
		if p.pos == 0 {
			return nil, &SyntaxError{Offset: 0, Msg: "empty expression"}
		}
		return nil, &SyntaxError{Offset: t.offset, Msg: "missing operand at end of expression"}
	}
	return nil, &SyntaxError{Offset: t.offset, Msg: fmt.Sprintf("missing operand before %s", t.kind)}
}

// lex splits src into operator and capability tokens. Capability tokens
// swallow balanced type-argument lists and interface literals whole, so
// operators inside them (as in interface{ ~int | ~string }) are not seen.
func lex(src string) ([]lexeme, error) {
	var toks []lexeme
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
			continue
		case r == '!':
			toks = append(toks, lexeme{kind: tokNot, offset: i})
		case r == '&':
			toks = append(toks, lexeme{kind: tokAnd, offset: i})
		case r == '^':
			toks = append(toks, lexeme{kind: tokXor, offset: i})
		case r == '|':
			toks = append(toks, lexeme{kind: tokOr, offset: i})
		case r == '(':
			toks = append(toks, lexeme{kind: tokLParen, offset: i})
		case r == ')':
			toks = append(toks, lexeme{kind: tokRParen, offset: i})
		case isIdentStart(r):
			ref, end, err := lexCapRef(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, lexeme{kind: tokCap, offset: i, ref: ref})
			i = end
			continue
		default:
			return nil, &SyntaxError{Offset: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
		i += size
	}
	toks = append(toks, lexeme{kind: tokEOF, offset: len(src)})
	return toks, nil
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }

func scanIdent(src string, i int) int {
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if !isIdentPart(r) {
			break
		}
		i += size
	}
	return i
}

func skipSpace(src string, i int) int {
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

// lexCapRef scans one capability reference starting at start.
func lexCapRef(src string, start int) (CapRef, int, error) {
	end := scanIdent(src, start)
	name := src[start:end]

	if name == "interface" {
		j := skipSpace(src, end)
		if j >= len(src) || src[j] != '{' {
			return CapRef{}, 0, &SyntaxError{Offset: end, Msg: `expected "{" after interface`}
		}
		rb, err := matchBracket(src, j)
		if err != nil {
			return CapRef{}, 0, err
		}
		body := strings.Join(strings.Fields(src[j+1:rb]), " ")
		if body == "" {
			return CapRef{Name: "interface{}"}, rb + 1, nil
		}
		return CapRef{Name: "interface{ " + body + " }"}, rb + 1, nil
	}

	if end < len(src) && src[end] == '.' {
		sel := end + 1
		r, _ := utf8.DecodeRuneInString(src[sel:])
		if sel >= len(src) || !isIdentStart(r) {
			return CapRef{}, 0, &SyntaxError{Offset: sel, Msg: `expected identifier after "."`}
		}
		end = scanIdent(src, sel)
		name = src[start:end]
	}

	j := skipSpace(src, end)
	if j >= len(src) || src[j] != '[' {
		return CapRef{Name: name}, end, nil
	}
	rb, err := matchBracket(src, j)
	if err != nil {
		return CapRef{}, 0, err
	}
	args, err := splitTypeArgs(src, j+1, rb)
	if err != nil {
		return CapRef{}, 0, err
	}
	return CapRef{Name: name, Args: args}, rb + 1, nil
}

var closers = map[byte]byte{'[': ']', '{': '}', '(': ')'}

// matchBracket returns the index of the bracket closing the one at open.
func matchBracket(src string, open int) (int, error) {
	var stack []byte
	for i := open; i < len(src); i++ {
		c := src[i]
		switch c {
		case '[', '{', '(':
			stack = append(stack, closers[c])
		case ']', '}', ')':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, &SyntaxError{Offset: i, Msg: fmt.Sprintf("mismatched %q", c)}
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, nil
			}
		}
	}
	return 0, &SyntaxError{Offset: open, Msg: fmt.Sprintf("unbalanced %q", src[open])}
}

// splitTypeArgs splits src[from:to] on commas at bracket depth zero.
// Brackets are already known to balance.
func splitTypeArgs(src string, from, to int) ([]string, error) {
	var args []string
	depth := 0
	argStart := from
	emit := func(end int) error {
		arg := strings.Join(strings.Fields(src[argStart:end]), " ")
		if arg == "" {
			return &SyntaxError{Offset: argStart, Msg: "empty type argument"}
		}
		args = append(args, arg)
		return nil
	}
	for i := from; i < to; i++ {
		switch src[i] {
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
		case ',':
			if depth == 0 {
				if err := emit(i); err != nil {
					return nil, err
				}
				argStart = i + 1
			}
		}
	}
	// A trailing comma is legal Go: Pair[int, string,].
	if len(args) > 0 && strings.TrimSpace(src[argStart:to]) == "" {
		return args, nil
	}
	if err := emit(to); err != nil {
		return nil, err
	}
	return args, nil
}
