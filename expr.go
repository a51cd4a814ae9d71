package impls

import "strings"

// Expr is a node in a capability expression tree. Trees are built by Parse
// and are immutable once built.
type Expr interface {
	exprNode()
	String() string
}

// CapRef names a capability: a possibly qualified interface name with
// optional type arguments, or an interface literal.
type CapRef struct {
	Name string   // e.g. "io.Reader", "Container", "interface{ Len() int }"
	Args []string // raw Go type expressions, e.g. ["int", "map[string]bool"]
}

// String renders the reference as Go source, e.g. "Container[int, string]".
func (r CapRef) String() string {
	if len(r.Args) == 0 {
		return r.Name
	}
	return r.Name + "[" + strings.Join(r.Args, ", ") + "]"
}

// Leaf is a single capability reference.
type Leaf struct {
	Ref CapRef
}

// Not negates its operand.
type Not struct {
	X Expr
}

// And is true when both operands are true.
type And struct {
	X, Y Expr
}

// Xor is true when exactly one operand is true.
type Xor struct {
	X, Y Expr
}

// Or is true when either operand is true.
type Or struct {
	X, Y Expr
}

// Group is a parenthesized expression. It evaluates to its operand and only
// exists so that printing round-trips the source grouping.
type Group struct {
	X Expr
}

func (Leaf) exprNode()  {}
func (Not) exprNode()   {}
func (And) exprNode()   {}
func (Xor) exprNode()   {}
func (Or) exprNode()    {}
func (Group) exprNode() {}

func (e Leaf) String() string  { return e.Ref.String() }
func (e Not) String() string   { return "!" + e.X.String() }
func (e And) String() string   { return e.X.String() + " & " + e.Y.String() }
func (e Xor) String() string   { return e.X.String() + " ^ " + e.Y.String() }
func (e Or) String() string    { return e.X.String() + " | " + e.Y.String() }
func (e Group) String() string { return "(" + e.X.String() + ")" }

// Tree renders e with every binary node parenthesized, making the parsed
// precedence visible: "A | B ^ C & D" renders as "(A | (B ^ (C & D)))".
func Tree(e Expr) string {
	switch n := e.(type) {
	case Leaf:
		return n.Ref.String()
	case Not:
		return "!" + Tree(n.X)
	case Group:
		return Tree(n.X)
	case And:
		return "(" + Tree(n.X) + " & " + Tree(n.Y) + ")"
	case Xor:
		return "(" + Tree(n.X) + " ^ " + Tree(n.Y) + ")"
	case Or:
		return "(" + Tree(n.X) + " | " + Tree(n.Y) + ")"
	}
	return ""
}

// Leaves returns every capability reference in e in source order.
func Leaves(e Expr) []CapRef {
	var refs []CapRef
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case Leaf:
			refs = append(refs, n.Ref)
		case Not:
			walk(n.X)
		case Group:
			walk(n.X)
		case And:
			walk(n.X)
			walk(n.Y)
		case Xor:
			walk(n.X)
			walk(n.Y)
		case Or:
			walk(n.X)
			walk(n.Y)
		}
	}
	walk(e)
	return refs
}
