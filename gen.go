package impls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"sort"

	"github.com/jward/impls/internal/store"
)

const generatedHeader = "// Code generated by impls. DO NOT EDIT.\n"

// Generate evaluates every //impls:const directive under root and writes
// the results to an impls_gen.go file in each directive's package. It
// returns the paths it wrote or removed; files whose contents are already
// current are left alone. A generated file in a package that no longer has
// const directives is removed.
//
// Unlike Check, Generate evaluates packages that have type errors, since a
// package that uses a not-yet-generated constant cannot type-check until
// the constant exists. A directive that fails to evaluate still fails the
// whole call and no file is written for its package.
func (e *Engine) Generate(ctx context.Context, root string) ([]string, error) {
	root, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}
	if err := e.IndexDirectory(ctx, root); err != nil {
		return nil, err
	}

	units, _, err := e.loadUnits(ctx, root, store.KindConst, false)
	if err != nil {
		return nil, err
	}
	if err := e.evaluateUnits(ctx, units, "", false); err != nil {
		return nil, err
	}

	var written []string
	var errs []error
	keep := make(map[string]bool)
	for _, u := range units {
		if u.pkg == nil {
			errs = append(errs, fmt.Errorf("%s: no package loaded", filepath.Dir(u.results[0].Path)))
			continue
		}
		dir := packageDir(u.pkg)
		keep[dir] = true
		src, err := generatedSource(u.pkg.Name, u.results)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.pkg.PkgPath, err))
			continue
		}
		path := filepath.Join(dir, GeneratedFile)
		changed, err := writeIfChanged(path, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			e.logger.Info("generated", "path", path, "consts", len(u.results))
			written = append(written, path)
		}
	}

	removed, err := e.removeStaleGenerated(root, keep)
	if err != nil {
		errs = append(errs, err)
	}
	written = append(written, removed...)
	sort.Strings(written)

	if len(errs) > 0 {
		return written, fmt.Errorf("generate had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return written, nil
}

// generatedSource renders the const block for one package.
func generatedSource(pkgName string, results []Result) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(generatedHeader)
	fmt.Fprintf(&buf, "\npackage %s\n\nconst (\n", pkgName)

	seen := make(map[string]Result)
	for _, res := range results {
		d := res.Directive
		if res.Err != "" {
			return nil, fmt.Errorf("%s:%d: %s", res.Path, d.Line+1, res.Err)
		}
		if prev, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("%s:%d: const %s already declared at %s:%d",
				res.Path, d.Line+1, d.Name, prev.Path, prev.Directive.Line+1)
		}
		seen[d.Name] = res
		fmt.Fprintf(&buf, "\t// %s reports whether %s satisfies %s.\n", d.Name, d.Subject, d.Expr)
		fmt.Fprintf(&buf, "\t%s = %t\n", d.Name, res.Value)
	}
	buf.WriteString(")\n")

	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated source: %w", err)
	}
	return out, nil
}

func writeIfChanged(path string, src []byte) (bool, error) {
	old, err := os.ReadFile(path)
	if err == nil && bytes.Equal(old, src) {
		return false, nil
	}
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// removeStaleGenerated deletes impls_gen.go files under root, in indexed
// package directories not in keep, that impls itself generated.
func (e *Engine) removeStaleGenerated(root string, keep map[string]bool) ([]string, error) {
	files, err := e.store.Files()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	dirs := make(map[string]bool)
	for _, f := range files {
		if within(root, f.Path) && !keep[f.PackageDir] {
			dirs[f.PackageDir] = true
		}
	}

	var removed []string
	for dir := range dirs {
		path := filepath.Join(dir, GeneratedFile)
		content, err := os.ReadFile(path)
		if err != nil || !bytes.HasPrefix(content, []byte(generatedHeader)) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		e.logger.Info("removed stale generated file", "path", path)
		removed = append(removed, path)
	}
	return removed, nil
}
