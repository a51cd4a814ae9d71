package impls

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Checker probes capabilities with the Go type checker. Subjects and
// capabilities are Go type expressions resolved in a type-checked package,
// so name lookup, type-argument arity and method sets follow exactly the
// rules the compiler applies to the same source.
//
// A subject resolved inside a generic function body may be a type
// parameter. It is probed through its constraint alone, so a T constrained
// by fmt.Stringer does not satisfy io.Reader even when every instantiation
// would.
type Checker struct {
	fset *token.FileSet
	pkg  *types.Package

	// shimPos lies inside a synthetic file of pkg that imports every
	// package in pkg's import graph. Expressions that do not resolve where
	// they were written are retried there, so a directive may name io.Reader
	// without its file importing io.
	shimPos token.Pos

	mu sync.Mutex
}

// NewChecker returns a Checker that resolves names in pkg. fset must be the
// file set pkg was type-checked with.
//
// NewChecker adds one synthetic file scope to pkg. The package's
// declarations are not changed.
func NewChecker(fset *token.FileSet, pkg *types.Package) *Checker {
	c := &Checker{fset: fset, pkg: pkg}
	c.shimPos = c.installShim()
	return c
}

// Package returns the package names are resolved in.
func (c *Checker) Package() *types.Package { return c.pkg }

// Subject resolves typeExpr in the innermost scope enclosing pos, or in
// package scope when pos is token.NoPos.
func (c *Checker) Subject(pos token.Pos, typeExpr string) (types.Type, error) {
	tv, err := c.eval(pos, typeExpr)
	if err != nil {
		return nil, fmt.Errorf("impls: subject %s: %w", typeExpr, err)
	}
	if !tv.IsType() {
		return nil, fmt.Errorf("impls: subject %s: %w", typeExpr, ErrNotType)
	}
	if isGeneric(tv.Type) {
		return nil, fmt.Errorf("impls: subject %s: %w", typeExpr, ErrNotInstantiated)
	}
	return tv.Type, nil
}

// Capability resolves ref to an interface in the scope enclosing pos.
func (c *Checker) Capability(pos token.Pos, ref CapRef) (*types.Interface, error) {
	tv, err := c.eval(pos, ref.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCapability, err)
	}
	if !tv.IsType() {
		return nil, ErrNotType
	}
	if isGeneric(tv.Type) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotInstantiated)
	}
	iface, ok := tv.Type.Underlying().(*types.Interface)
	if !ok {
		return nil, fmt.Errorf("%s is %s: %w", ref, tv.Type.Underlying(), ErrNotInterface)
	}
	return iface, nil
}

// Prober returns a Prober with subject as the subject type. Capabilities
// are resolved in the scope enclosing pos.
func (c *Checker) Prober(pos token.Pos, subject types.Type) Prober {
	return ProberFunc(func(ref CapRef) (bool, error) {
		iface, err := c.Capability(pos, ref)
		if err != nil {
			return false, err
		}
		return types.Implements(subject, iface), nil
	})
}

// Eval resolves typeExpr and evaluates e against it, both in the scope
// enclosing pos.
func (c *Checker) Eval(pos token.Pos, typeExpr string, e Expr) (bool, error) {
	subject, err := c.Subject(pos, typeExpr)
	if err != nil {
		return false, err
	}
	return Eval(e, Memo(c.Prober(pos, subject)))
}

// isGeneric reports whether t is a generic named type used without type
// arguments. types.Eval accepts those; types.Implements does not.
func isGeneric(t types.Type) bool {
	named, ok := types.Unalias(t).(*types.Named)
	return ok && named.TypeParams().Len() > 0 && named.TypeArgs().Len() == 0
}

// NamedTypes returns the names of the types declared at package scope.
func (c *Checker) NamedTypes() []string {
	scope := c.pkg.Scope()
	var names []string
	for _, name := range scope.Names() {
		if _, ok := scope.Lookup(name).(*types.TypeName); ok {
			names = append(names, name)
		}
	}
	return names
}

func (c *Checker) eval(pos token.Pos, expr string) (types.TypeAndValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !pos.IsValid() && c.shimPos.IsValid() {
		pos = c.shimPos
	}
	tv, err := types.Eval(c.fset, c.pkg, pos, expr)
	if err != nil && c.shimPos.IsValid() && pos != c.shimPos {
		if retry, rerr := types.Eval(c.fset, c.pkg, c.shimPos, expr); rerr == nil {
			return retry, nil
		}
	}
	return tv, err
}

// installShim type-checks a synthetic file into pkg that imports, by
// package name, every package reachable from pkg's imports. Names that
// collide with package-scope declarations or with an earlier import of the
// same name are skipped; direct imports win over indirect ones.
func (c *Checker) installShim() token.Pos {
	if c.pkg == nil || c.fset == nil || c.pkg.Name() == "" {
		return token.NoPos
	}

	byPath := make(map[string]*types.Package)
	var direct, indirect []*types.Package
	var visit func(p *types.Package, depth int)
	visit = func(p *types.Package, depth int) {
		for _, imp := range p.Imports() {
			if _, seen := byPath[imp.Path()]; seen {
				continue
			}
			byPath[imp.Path()] = imp
			if depth == 0 {
				direct = append(direct, imp)
			} else {
				indirect = append(indirect, imp)
			}
			visit(imp, depth+1)
		}
	}
	visit(c.pkg, 0)
	sort.Slice(direct, func(i, j int) bool { return direct[i].Path() < direct[j].Path() })
	sort.Slice(indirect, func(i, j int) bool { return indirect[i].Path() < indirect[j].Path() })

	var src strings.Builder
	fmt.Fprintf(&src, "package %s\n\nimport (\n", c.pkg.Name())
	taken := make(map[string]bool)
	for _, imp := range append(direct, indirect...) {
		name := imp.Name()
		if name == "" || name == "_" || name == "C" || taken[name] || c.pkg.Scope().Lookup(name) != nil {
			continue
		}
		taken[name] = true
		fmt.Fprintf(&src, "\t%s %s\n", name, strconv.Quote(imp.Path()))
	}
	src.WriteString(")\n")

	f, err := parser.ParseFile(c.fset, "impls_scope.go", src.String(), parser.SkipObjectResolution)
	if err != nil {
		return token.NoPos
	}
	conf := &types.Config{
		Importer: importerFunc(func(path string) (*types.Package, error) {
			if p, ok := byPath[path]; ok {
				return p, nil
			}
			return nil, fmt.Errorf("package %s not in import graph", path)
		}),
		// The shim imports packages it never uses; those errors are expected.
		Error: func(error) {},
	}
	_ = types.NewChecker(conf, c.fset, c.pkg, nil).Files([]*ast.File{f})
	return f.End() - 1
}

type importerFunc func(path string) (*types.Package, error)

func (f importerFunc) Import(path string) (*types.Package, error) { return f(path) }
