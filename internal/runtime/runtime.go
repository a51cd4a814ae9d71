package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/impls/internal/store"
	"github.com/jward/impls/rules"
)

// Runtime embeds a Risor VM and exposes capability queries, tree-sitter
// host functions and read-only Store access to rule scripts.
type Runtime struct {
	store    *store.Store
	rulesDir string
	fsys     fs.FS
	logger   *slog.Logger
	sources  *sourceStore
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger sets the logger behind the log global.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime wired to the given Store and rules directory.
// Either may be empty: a nil Store hides db_query, and an empty rulesDir
// with no FS means there are no rule scripts.
func NewRuntime(s *store.Store, rulesDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:    s,
		rulesDir: rulesDir,
		sources:  newSourceStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals. Useful for testing without script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	globals := r.buildGlobals(extraGlobals)

	opts := []risor.Option{risor.WithImporter(r.buildImporter(globals))}
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

// buildImporter resolves imports against the rule source first and the
// embedded rules library second, so every script can import policy.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	var primary fs.FS
	switch {
	case r.fsys != nil:
		primary = r.fsys
	case r.rulesDir != "":
		primary = os.DirFS(r.rulesDir)
	}
	return importer.NewFSImporter(importer.FSImporterOptions{
		GlobalNames: globalNames,
		SourceFS:    overlayFS{primary: primary, fallback: rules.FS},
		Extensions:  []string{".risor"},
	})
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on it. Otherwise, uses
// os.ReadFile with rulesDir as the base directory.
func (r *Runtime) LoadScript(p string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(p), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := p
	if !filepath.IsAbs(p) {
		fullPath = filepath.Join(r.rulesDir, p)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// RuleScripts lists the *.risor files at the top of the rule source, sorted.
// A missing rules directory has no scripts.
func (r *Runtime) RuleScripts() ([]string, error) {
	var names []string
	switch {
	case r.fsys != nil:
		matches, err := fs.Glob(r.fsys, "*.risor")
		if err != nil {
			return nil, fmt.Errorf("runtime: list rules: %w", err)
		}
		names = matches
	case r.rulesDir != "":
		entries, err := os.ReadDir(r.rulesDir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("runtime: list rules: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && path.Ext(e.Name()) == ".risor" {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// buildGlobals constructs the globals every script sees.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse":          makeParseFn(r.sources),
		"parse_src":      makeParseSrcFn(r.sources),
		"node_text":      makeNodeTextFn(r.sources),
		"node_child":     makeNodeChildFn(),
		"enclosing_func": makeEnclosingFuncFn(r.sources),
		"query":          makeQueryFn(r.sources),
		"log":            mustProxy(&logObject{logger: r.logger}),
	}
	if r.store != nil {
		globals["db_query"] = makeDBQueryFn(r.store)
		globals["directives"] = makeDirectivesFn(r.store)
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

// overlayFS serves names from primary, falling back to fallback.
type overlayFS struct {
	primary  fs.FS
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	if o.primary != nil {
		f, err := o.primary.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return o.fallback.Open(name)
}
