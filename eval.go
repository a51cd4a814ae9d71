package impls

import "fmt"

// Prober decides whether one fixed subject type satisfies a capability.
//
// Probe returns false whenever the subject does not satisfy ref. It returns
// an error only when ref itself is ill-formed: an unknown name, a wrong
// number of type arguments, or something that is not an interface.
type Prober interface {
	Probe(ref CapRef) (bool, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ref CapRef) (bool, error)

// Probe calls f(ref).
func (f ProberFunc) Probe(ref CapRef) (bool, error) { return f(ref) }

// Eval evaluates e against the subject behind p.
//
// Both operands of every binary node are evaluated, so an ill-formed
// capability anywhere in e is reported even when the other operand already
// decides the result.
func Eval(e Expr, p Prober) (bool, error) {
	switch n := e.(type) {
	case Leaf:
		ok, err := p.Probe(n.Ref)
		if err != nil {
			return false, fmt.Errorf("probe %s: %w", n.Ref, err)
		}
		return ok, nil
	case Not:
		ok, err := Eval(n.X, p)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case Group:
		return Eval(n.X, p)
	case And:
		x, y, err := evalPair(n.X, n.Y, p)
		return x && y, err
	case Xor:
		x, y, err := evalPair(n.X, n.Y, p)
		return x != y, err
	case Or:
		x, y, err := evalPair(n.X, n.Y, p)
		return x || y, err
	case nil:
		return false, fmt.Errorf("impls: nil expression")
	}
	return false, fmt.Errorf("impls: unknown expression node %T", e)
}

func evalPair(x, y Expr, p Prober) (bool, bool, error) {
	xv, err := Eval(x, p)
	if err != nil {
		return false, false, err
	}
	yv, err := Eval(y, p)
	if err != nil {
		return false, false, err
	}
	return xv, yv, nil
}

// Evaluate parses src and evaluates it against p.
func Evaluate(p Prober, src string) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	return Eval(e, p)
}

// Memo wraps p so that each distinct capability reference is probed at most
// once. The returned Prober is not safe for concurrent use.
func Memo(p Prober) Prober {
	type result struct {
		ok  bool
		err error
	}
	cache := make(map[string]result)
	return ProberFunc(func(ref CapRef) (bool, error) {
		key := ref.String()
		if r, ok := cache[key]; ok {
			return r.ok, r.err
		}
		ok, err := p.Probe(ref)
		cache[key] = result{ok: ok, err: err}
		return ok, err
	})
}
