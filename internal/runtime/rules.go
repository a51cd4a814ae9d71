package runtime

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/risor-io/risor/object"

	"github.com/jward/impls/internal/store"
)

// Oracle answers capability questions about type-checked packages. Packages
// are named by import path.
type Oracle interface {
	Implements(pkg, typeExpr, expr string) (bool, error)
	NamedTypes(pkg string) ([]string, error)
	Packages() []string
}

// RunRules runs every rule script against oracle. Violations are written to
// sink under runID. It returns the number of violations recorded; a script
// that fails does not stop the others.
func (r *Runtime) RunRules(ctx context.Context, oracle Oracle, sink store.DataStore, runID string) (int, error) {
	scripts, err := r.RuleScripts()
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, script := range scripts {
		rule := strings.TrimSuffix(path.Base(script), ".risor")
		globals, count := r.RuleGlobals(oracle, sink, runID, rule)
		r.logger.Debug("running rule", "rule", rule)
		if err := r.RunScript(ctx, script, globals); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule, err))
		}
		total += count()
	}
	if len(errs) > 0 {
		return total, fmt.Errorf("rules had %d error(s): %w", len(errs), errs[0])
	}
	return total, nil
}

// RuleGlobals returns the capability globals for one rule and a function
// reporting how many violations the rule has recorded so far.
//
//	impls(pkg, type, expr) → bool
//	named_types(pkg) → []string
//	packages() → []string
//	violation(msg[, pkg])
func (r *Runtime) RuleGlobals(oracle Oracle, sink store.DataStore, runID, rule string) (map[string]any, func() int) {
	var mu sync.Mutex
	count := 0

	globals := map[string]any{
		"rule": rule,
		"log":  mustProxy(&logObject{logger: r.logger, rule: rule}),
		"impls": object.NewBuiltin("impls", func(ctx context.Context, args ...object.Object) object.Object {
			if len(args) != 3 {
				return object.NewArgsError("impls", 3, len(args))
			}
			strs, err := stringArgs(args)
			if err != nil {
				return object.Errorf("impls: %v", err)
			}
			ok, err := oracle.Implements(strs[0], strs[1], strs[2])
			if err != nil {
				return object.Errorf("impls: %v", err)
			}
			return object.NewBool(ok)
		}),
		"named_types": object.NewBuiltin("named_types", func(ctx context.Context, args ...object.Object) object.Object {
			if len(args) != 1 {
				return object.NewArgsError("named_types", 1, len(args))
			}
			pkg, err := toString(args[0])
			if err != nil {
				return object.Errorf("named_types: %v", err)
			}
			names, err := oracle.NamedTypes(pkg)
			if err != nil {
				return object.Errorf("named_types: %v", err)
			}
			return stringList(names)
		}),
		"packages": object.NewBuiltin("packages", func(ctx context.Context, args ...object.Object) object.Object {
			if len(args) != 0 {
				return object.NewArgsError("packages", 0, len(args))
			}
			return stringList(oracle.Packages())
		}),
		"violation": object.NewBuiltin("violation", func(ctx context.Context, args ...object.Object) object.Object {
			if len(args) < 1 || len(args) > 2 {
				return object.Errorf("violation: expected 1 or 2 arguments (msg, pkg), got %d", len(args))
			}
			strs, err := stringArgs(args)
			if err != nil {
				return object.Errorf("violation: %v", err)
			}
			v := &store.Violation{RunID: runID, Rule: rule, Message: strs[0]}
			if len(strs) == 2 {
				v.Package = strs[1]
			}
			if _, err := sink.InsertViolation(v); err != nil {
				return object.Errorf("violation: %v", err)
			}
			mu.Lock()
			count++
			mu.Unlock()
			return object.Nil
		}),
	}
	return globals, func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}
}

func stringArgs(args []object.Object) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		s, err := toString(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = s
	}
	return out, nil
}
