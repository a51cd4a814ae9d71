package impls

import (
	"context"
	"fmt"
	"go/token"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/tools/go/packages"

	"github.com/jward/impls/internal/runtime"
	"github.com/jward/impls/internal/store"
)

// loadMode is what the Checker needs: syntax and type info for the loaded
// packages so types.Eval sees function and block scopes.
const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo

// Result is the outcome of evaluating one directive.
type Result struct {
	Path      string
	Directive Directive
	Value     bool
	Err       string
}

// Status is "pass", "fail" or "error". A const directive that evaluated
// cleanly is always "pass"; its Value is what Generate writes.
func (r Result) Status() string {
	switch {
	case r.Err != "":
		return "error"
	case r.Value || r.Directive.Kind == store.KindConst:
		return "pass"
	}
	return "fail"
}

// Report summarises one check run.
type Report struct {
	RunID      string
	Root       string
	Results    []Result
	Violations []*Violation
	RuleErrors []string

	Passed  int
	Failed  int
	Errored int
}

// OK reports whether every assertion held, every directive evaluated and
// no rule script reported a violation or failed.
func (r *Report) OK() bool {
	return r.Failed == 0 && r.Errored == 0 && len(r.Violations) == 0 && len(r.RuleErrors) == 0
}

// Failures returns the results that are not passing, in report order.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status() != "pass" {
			out = append(out, res)
		}
	}
	return out
}

// checkUnit is one loaded package with the directives found in it.
type checkUnit struct {
	pkg        *packages.Package
	checker    *Checker
	directives []*store.Directive
	results    []Result
}

// Check indexes root, evaluates every directive under it in its package's
// scope, runs the rule scripts and records the outcome as a new run.
//
// A package that fails to type-check turns each of its directives into an
// error. Check itself fails only when packages cannot be loaded at all or
// the store cannot be written.
func (e *Engine) Check(ctx context.Context, root string) (*Report, error) {
	root, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}
	if err := e.IndexDirectory(ctx, root); err != nil {
		return nil, err
	}

	scripts, err := e.runtime.RuleScripts()
	if err != nil {
		return nil, fmt.Errorf("impls: list rules: %w", err)
	}
	units, all, err := e.loadUnits(ctx, root, "", len(scripts) > 0)
	if err != nil {
		return nil, err
	}

	run, err := e.store.BeginRun(root)
	if err != nil {
		return nil, fmt.Errorf("impls: %w", err)
	}
	report := &Report{RunID: run.ID, Root: root}

	if err := e.evaluateUnits(ctx, units, run.ID, true); err != nil {
		return nil, err
	}
	for _, u := range units {
		report.Results = append(report.Results, u.results...)
	}
	sortResults(report.Results)
	for _, res := range report.Results {
		switch res.Status() {
		case "pass":
			report.Passed++
		case "fail":
			report.Failed++
		default:
			report.Errored++
		}
	}

	if len(scripts) > 0 {
		batch := store.NewBatchedStore(e.store)
		n, rerr := e.runtime.RunRules(ctx, newPackageOracle(all), batch, run.ID)
		if rerr != nil {
			e.logger.Error("rule scripts failed", "error", rerr)
			report.RuleErrors = append(report.RuleErrors, rerr.Error())
		}
		if err := e.store.CommitBatch(batch); err != nil {
			return nil, fmt.Errorf("impls: commit violations: %w", err)
		}
		e.logger.Debug("rules finished", "scripts", len(scripts), "violations", n)
		if report.Violations, err = e.store.ViolationsByRun(run.ID); err != nil {
			return nil, fmt.Errorf("impls: %w", err)
		}
	}

	run.Passed, run.Failed, run.Errored = report.Passed, report.Failed, report.Errored
	if err := e.store.FinishRun(run); err != nil {
		return nil, fmt.Errorf("impls: %w", err)
	}
	e.logger.Info("check finished",
		"root", root, "run", run.ID,
		"passed", report.Passed, "failed", report.Failed, "errored", report.Errored,
		"violations", len(report.Violations))
	return report, nil
}

// loadUnits loads the packages under root that hold directives of kind
// ("" for any) and pairs each with a Checker. With everything set, every
// package under root is loaded and returned in all, even those without
// directives.
func (e *Engine) loadUnits(ctx context.Context, root, kind string, everything bool) ([]*checkUnit, []*checkUnit, error) {
	files, err := e.store.Files()
	if err != nil {
		return nil, nil, fmt.Errorf("impls: list files: %w", err)
	}
	pathByID := make(map[int64]string)
	dirByID := make(map[int64]string)
	for _, f := range files {
		if within(root, f.Path) {
			pathByID[f.ID] = f.Path
			dirByID[f.ID] = f.PackageDir
		}
	}

	directives, err := e.store.AllDirectives()
	if err != nil {
		return nil, nil, fmt.Errorf("impls: list directives: %w", err)
	}
	byDir := make(map[string][]*store.Directive)
	for _, d := range directives {
		dir, ok := dirByID[d.FileID]
		if !ok || (kind != "" && d.Kind != kind) {
			continue
		}
		byDir[dir] = append(byDir[dir], d)
	}
	if len(byDir) == 0 && !everything {
		return nil, nil, nil
	}

	var patterns []string
	if everything {
		patterns = []string{"./..."}
	} else {
		for dir := range byDir {
			patterns = append(patterns, dirPattern(root, dir))
		}
		sort.Strings(patterns)
	}

	cfg := &packages.Config{
		Context:    ctx,
		Mode:       loadMode,
		Dir:        root,
		BuildFlags: e.buildFlags,
		Logf: func(format string, args ...any) {
			e.logger.Debug(fmt.Sprintf(format, args...))
		},
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, nil, fmt.Errorf("impls: load packages: %w", err)
	}

	var units, all []*checkUnit
	seen := make(map[string]bool)
	for _, pkg := range pkgs {
		dir := packageDir(pkg)
		if dir == "" {
			continue
		}
		u := &checkUnit{pkg: pkg}
		if pkg.Types != nil {
			u.checker = NewChecker(pkg.Fset, pkg.Types)
		}
		all = append(all, u)
		if ds, ok := byDir[dir]; ok && !seen[dir] {
			seen[dir] = true
			u.directives = ds
			units = append(units, u)
		}
	}
	for dir, ds := range byDir {
		if seen[dir] {
			continue
		}
		// Directives in a directory the loader did not return a package
		// for, e.g. one excluded by build constraints.
		units = append(units, &checkUnit{directives: ds})
		e.logger.Warn("no package loaded for directory", "dir", dir, "directives", len(ds))
	}
	for _, u := range units {
		u.results = make([]Result, 0, len(u.directives))
		for _, d := range u.directives {
			u.results = append(u.results, Result{Path: pathByID[d.FileID], Directive: *d})
		}
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].results[0].Path < units[j].results[0].Path
	})
	return units, all, nil
}

// dirPattern turns an absolute package directory into a loader pattern
// relative to root.
func dirPattern(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return "."
	}
	return "./" + filepath.ToSlash(rel)
}

func packageDir(pkg *packages.Package) string {
	files := pkg.GoFiles
	if len(files) == 0 {
		files = pkg.CompiledGoFiles
	}
	if len(files) == 0 {
		return ""
	}
	dir := filepath.Dir(files[0])
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return dir
}

// evaluateUnits evaluates every unit on the worker pool and commits the
// verdicts under runID from a single writer. strict makes package errors
// fatal for the package's directives.
func (e *Engine) evaluateUnits(ctx context.Context, units []*checkUnit, runID string, strict bool) error {
	if len(units) == 0 {
		return nil
	}

	workCh := make(chan *checkUnit, len(units))
	for _, u := range units {
		workCh <- u
	}
	close(workCh)

	type result struct {
		unit  *checkUnit
		batch *store.BatchedStore
		err   error
	}
	resultCh := make(chan result, len(units))

	var wg sync.WaitGroup
	for range e.numWorkers(len(units)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range workCh {
				batch := store.NewBatchedStore(e.store)
				e.evaluateUnit(ctx, u, strict)
				var err error
				if runID != "" {
					err = bufferVerdicts(batch, runID, u.results)
				}
				resultCh <- result{unit: u, batch: batch, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var errs []error
	for res := range resultCh {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		if err := e.store.CommitBatch(res.batch); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("recording verdicts had %d error(s): %w", len(errs), errs[0])
	}
	return ctx.Err()
}

// bufferVerdicts adds one verdict per result to sink.
func bufferVerdicts(sink store.DataStore, runID string, results []Result) error {
	for _, res := range results {
		v := &store.Verdict{
			RunID:         runID,
			DirectiveID:   res.Directive.ID,
			DirectiveHash: res.Directive.Hash,
			Error:         res.Err,
		}
		if res.Err == "" {
			value := res.Value
			v.Result = &value
		}
		if _, err := sink.InsertVerdict(v); err != nil {
			return fmt.Errorf("buffer verdict for %s: %w", res.Path, err)
		}
	}
	return nil
}

// evaluateUnit fills in u.results.
func (e *Engine) evaluateUnit(ctx context.Context, u *checkUnit, strict bool) {
	var pkgErr string
	switch {
	case u.pkg == nil:
		pkgErr = "no package found for directive's directory"
	case u.checker == nil:
		pkgErr = fmt.Sprintf("package %s has no type information", u.pkg.PkgPath)
	case len(u.pkg.Errors) > 0:
		msg := fmt.Sprintf("package %s does not type-check: %s", u.pkg.PkgPath, u.pkg.Errors[0].Error())
		if n := len(u.pkg.Errors); n > 1 {
			msg += fmt.Sprintf(" (and %d more)", n-1)
		}
		if strict {
			pkgErr = msg
		} else {
			e.logger.Warn("evaluating despite package errors", "package", u.pkg.PkgPath, "errors", len(u.pkg.Errors))
		}
	}

	for i := range u.results {
		res := &u.results[i]
		if err := ctx.Err(); err != nil {
			res.Err = err.Error()
			continue
		}
		if pkgErr != "" {
			res.Err = pkgErr
			continue
		}
		d := &res.Directive
		if d.Kind == store.KindConst && d.FuncName != "" {
			res.Err = fmt.Sprintf("const directive %s must be at package scope, found in %s", d.Name, d.FuncName)
			continue
		}
		expr, err := Parse(d.Expr)
		if err != nil {
			res.Err = err.Error()
			continue
		}
		pos := directivePos(u.pkg, res.Path, d.Offset)
		ok, err := u.checker.Eval(pos, d.Subject, expr)
		if err != nil {
			res.Err = err.Error()
			continue
		}
		res.Value = ok
		if res.Status() == "fail" {
			e.logger.Debug("assertion failed", "path", res.Path, "line", d.Line+1, "subject", d.Subject, "expr", d.Expr)
		}
	}
}

// directivePos maps a byte offset in path to a position in pkg's file set.
// It returns token.NoPos, meaning package scope, if the file is not part of
// the loaded syntax.
func directivePos(pkg *packages.Package, path string, offset int) token.Pos {
	for _, f := range pkg.Syntax {
		tf := pkg.Fset.File(f.Pos())
		if tf == nil || !samePath(tf.Name(), path) {
			continue
		}
		if offset < 0 || offset > tf.Size() {
			return token.NoPos
		}
		return tf.Pos(offset)
	}
	return token.NoPos
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}

func sortResults(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Directive.Line != b.Directive.Line {
			return a.Directive.Line < b.Directive.Line
		}
		return a.Directive.Col < b.Directive.Col
	})
}

// packageOracle answers rule-script questions from the checkers of the
// loaded packages.
type packageOracle struct {
	checkers map[string]*Checker
	paths    []string
}

var _ runtime.Oracle = (*packageOracle)(nil)

func newPackageOracle(units []*checkUnit) *packageOracle {
	o := &packageOracle{checkers: make(map[string]*Checker)}
	for _, u := range units {
		if u.pkg == nil || u.checker == nil {
			continue
		}
		if _, dup := o.checkers[u.pkg.PkgPath]; dup {
			continue
		}
		o.checkers[u.pkg.PkgPath] = u.checker
		o.paths = append(o.paths, u.pkg.PkgPath)
	}
	sort.Strings(o.paths)
	return o
}

func (o *packageOracle) checker(pkg string) (*Checker, error) {
	c, ok := o.checkers[pkg]
	if !ok {
		return nil, fmt.Errorf("package %q is not loaded", pkg)
	}
	return c, nil
}

func (o *packageOracle) Implements(pkg, typeExpr, expr string) (bool, error) {
	c, err := o.checker(pkg)
	if err != nil {
		return false, err
	}
	e, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return c.Eval(token.NoPos, typeExpr, e)
}

func (o *packageOracle) NamedTypes(pkg string) ([]string, error) {
	c, err := o.checker(pkg)
	if err != nil {
		return nil, err
	}
	return c.NamedTypes(), nil
}

func (o *packageOracle) Packages() []string {
	return append([]string(nil), o.paths...)
}

// Rel renders path relative to the report's root for display.
func (r *Report) Rel(path string) string {
	if rel, err := filepath.Rel(r.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}
