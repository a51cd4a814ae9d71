package extract

import (
	"fmt"
	"go/token"
	"strings"
	"unicode"
)

// Prefix starts every directive comment. Like //go: directives there is no
// space after the slashes.
const Prefix = "//impls:"

// Directive kinds.
const (
	KindAssert = "assert"
	KindConst  = "const"
)

// Directive is one parsed //impls: comment.
//
//	//impls:assert <Type>: <Expression>
//	//impls:const <Name> <Type>: <Expression>
//
// Line and Col are 0-based; Offset is the byte offset of the comment in
// its file.
type Directive struct {
	Kind     string
	Name     string
	Subject  string
	Expr     string
	Line     int
	Col      int
	Offset   int
	FuncName string
}

// DirectiveError reports a comment that starts with Prefix but is not a
// well-formed directive.
type DirectiveError struct {
	Line int
	Col  int
	Text string
	Err  error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("%d:%d: malformed directive: %v", e.Line+1, e.Col+1, e.Err)
}

func (e *DirectiveError) Unwrap() error { return e.Err }

// ParseDirective splits the text of a directive comment into its parts.
// The expression is returned verbatim; it is not parsed here.
func ParseDirective(text string) (Directive, error) {
	body, ok := strings.CutPrefix(strings.TrimRight(text, " \t\r"), Prefix)
	if !ok {
		return Directive{}, fmt.Errorf("missing %q prefix", Prefix)
	}

	kind, rest := cutField(body)
	d := Directive{Kind: kind}
	switch kind {
	case "":
		return Directive{}, fmt.Errorf("missing directive kind")
	case KindAssert:
	case KindConst:
		d.Name, rest = cutField(rest)
		if d.Name == "" {
			return Directive{}, fmt.Errorf("const directive needs a name")
		}
		if !token.IsIdentifier(d.Name) {
			return Directive{}, fmt.Errorf("const name %q is not an identifier", d.Name)
		}
	default:
		return Directive{}, fmt.Errorf("unknown directive kind %q", kind)
	}

	colon := topLevelColon(rest)
	if colon < 0 {
		return Directive{}, fmt.Errorf(`expected "<Type>: <Expression>"`)
	}
	d.Subject = strings.TrimSpace(rest[:colon])
	d.Expr = strings.TrimSpace(rest[colon+1:])
	if d.Subject == "" {
		return Directive{}, fmt.Errorf("missing subject type")
	}
	if d.Expr == "" {
		return Directive{}, fmt.Errorf("missing expression")
	}
	return d, nil
}

// cutField returns the first whitespace-separated field of s and the rest.
func cutField(s string) (string, string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// topLevelColon returns the index of the first ':' outside brackets,
// braces and parentheses, or -1.
func topLevelColon(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
		case ':':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
