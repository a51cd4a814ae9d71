package impls

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jward/impls/internal/extract"
	"github.com/jward/impls/internal/runtime"
	"github.com/jward/impls/internal/store"
)

// GeneratedFile is the name of the file Generate writes in each package.
const GeneratedFile = "impls_gen.go"

// Engine orchestrates the impls pipeline: file discovery, change detection,
// directive extraction, type-checked evaluation, rule scripts and query
// access.
type Engine struct {
	store     *store.Store
	runtime   *runtime.Runtime
	extractor *extract.Extractor
	logger    *slog.Logger

	rulesDir   string
	rulesFS    fs.FS
	include    []string
	exclude    []string
	buildFlags []string

	// workers is the size of the extraction and evaluation pools.
	// 0 means runtime.NumCPU(); 1 runs serially.
	workers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the Engine's logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRulesDir loads rule scripts from dir on disk.
func WithRulesDir(dir string) Option {
	return func(e *Engine) {
		e.rulesDir = dir
	}
}

// WithRulesFS loads rule scripts from fsys instead of a directory. It takes
// precedence over WithRulesDir.
func WithRulesFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.rulesFS = fsys
	}
}

// WithInclude restricts indexing to files matching at least one doublestar
// glob, matched against slash-separated paths relative to the indexed root.
func WithInclude(globs ...string) Option {
	return func(e *Engine) {
		e.include = append(e.include, globs...)
	}
}

// WithExclude skips files matching any doublestar glob.
func WithExclude(globs ...string) Option {
	return func(e *Engine) {
		e.exclude = append(e.exclude, globs...)
	}
}

// WithBuildFlags passes flags such as "-tags=integration" to the package
// loader.
func WithBuildFlags(flags ...string) Option {
	return func(e *Engine) {
		e.buildFlags = append(e.buildFlags, flags...)
	}
}

// WithParallel sets the number of workers. 0 uses every CPU and 1 disables
// the worker pool.
func WithParallel(workers int) Option {
	return func(e *Engine) {
		e.workers = workers
	}
}

// New creates an Engine backed by a SQLite database at dbPath.
func New(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("impls: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("impls: migrate: %w", err)
	}

	e := &Engine{
		store:     s,
		extractor: extract.NewExtractor(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for _, g := range append(append([]string{}, e.include...), e.exclude...) {
		if !doublestar.ValidatePattern(g) {
			s.Close()
			return nil, fmt.Errorf("impls: invalid glob %q", g)
		}
	}

	rtOpts := []runtime.RuntimeOption{runtime.WithRuntimeLogger(e.logger)}
	if e.rulesFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.rulesFS))
	}
	e.runtime = runtime.NewRuntime(s, e.rulesDir, rtOpts...)

	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Query returns a new QueryBuilder wrapping the Store.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// canonicalRoot makes root absolute with symlinks resolved, so paths from
// discovery and from the package loader compare equal.
func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("impls: resolve %s: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// IndexDirectory discovers the Go files under root and indexes them. Files
// that disappeared since the last run are dropped from the index.
//
// Inside a git repository discovery uses git ls-files, which respects
// .gitignore; otherwise it walks the tree, skipping hidden directories,
// vendor and testdata.
func (e *Engine) IndexDirectory(ctx context.Context, root string) error {
	root, err := canonicalRoot(root)
	if err != nil {
		return err
	}
	paths, err := e.gitListFiles(root)
	if err != nil {
		e.logger.Debug("git ls-files unavailable, walking tree", "root", root, "error", err)
		paths, err = e.walkListFiles(root)
		if err != nil {
			return err
		}
	}
	paths = e.filterPaths(root, paths)

	if err := e.pruneMissing(root, paths); err != nil {
		return err
	}
	if err := e.IndexFiles(ctx, paths); err != nil {
		return err
	}
	return e.store.SetMetadata("root", root)
}

// pruneMissing deletes indexed files under root that are not in paths.
func (e *Engine) pruneMissing(root string, paths []string) error {
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}
	files, err := e.store.Files()
	if err != nil {
		return fmt.Errorf("impls: list indexed files: %w", err)
	}
	for _, f := range files {
		if present[f.Path] || !within(root, f.Path) {
			continue
		}
		e.logger.Debug("dropping vanished file", "path", f.Path)
		if err := e.store.DeleteFile(f.ID); err != nil {
			return fmt.Errorf("impls: drop %s: %w", f.Path, err)
		}
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isSource reports whether path is a Go file that may carry directives.
// Test files and generated output are not indexed.
func isSource(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".go") &&
		!strings.HasSuffix(base, "_test.go") &&
		base != GeneratedFile
}

// filterPaths applies the include and exclude globs.
func (e *Engine) filterPaths(root string, paths []string) []string {
	if len(e.include) == 0 && len(e.exclude) == 0 {
		return paths
	}
	var out []string
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if e.Matches(rel) {
			out = append(out, p)
		}
	}
	return out
}

// Matches reports whether a slash-separated path relative to the indexed
// root passes the include and exclude globs.
func (e *Engine) Matches(rel string) bool {
	if !isSource(rel) {
		return false
	}
	if len(e.include) > 0 {
		ok := false
		for _, g := range e.include {
			if m, _ := doublestar.Match(g, rel); m {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, g := range e.exclude {
		if m, _ := doublestar.Match(g, rel); m {
			return false
		}
	}
	return true
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) Go files under root.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !isSource(line) || inSkippedDir(line) {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(line))
		if _, err := os.Stat(abs); err != nil {
			// Deleted but still in the git index.
			continue
		}
		paths = append(paths, abs)
	}
	return paths, nil
}

var skipDirs = map[string]bool{
	"vendor":   true,
	"testdata": true,
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// inSkippedDir reports whether a slash-separated relative path lies under a
// directory the walk would skip.
func inSkippedDir(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if skipDir(dir) {
			return true
		}
	}
	return false
}

// walkListFiles discovers files by walking the filesystem, used when git is
// not available.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isSource(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
