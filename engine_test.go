package impls

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jward/impls/internal/logging"
	"github.com/jward/impls/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithLogger(logging.NewNop())}, opts...)
	e, err := New(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// writeFile writes content to dir/name, creating parent directories.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// canonicalDir returns t.TempDir() with symlinks resolved, matching the
// paths the engine stores.
func canonicalDir(t *testing.T) string {
	t.Helper()
	dir, err := canonicalRoot(t.TempDir())
	require.NoError(t, err)
	return dir
}

const cacheSource = `package cache

import "io"

//impls:assert *Cache: io.Closer
type Cache struct{}

func (c *Cache) Close() error { return nil }

//impls:const cacheIsReader *Cache: io.Reader
var _ io.Closer = (*Cache)(nil)
`

func TestNew_CreatesStoreAndRuntime(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, e.store)
	require.NotNil(t, e.runtime)
	require.NotNil(t, e.Store())
	require.NotNil(t, e.Query())

	_, err := e.Store().InsertFile(&store.File{Path: "/tmp/x.go", PackageDir: "/tmp", Hash: "abc", LastIndexed: time.Now()})
	require.NoError(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/dir/db.sqlite")
	require.Error(t, err)
}

func TestNew_InvalidGlob(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "test.db"), WithExclude("[unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid glob")
}

func TestClose(t *testing.T) {
	e, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestOptions(t *testing.T) {
	e := newTestEngine(t,
		WithInclude("internal/**"),
		WithExclude("**/mock_*.go"),
		WithBuildFlags("-tags=integration"),
		WithParallel(3),
		WithRulesDir("/rules"),
	)
	assert.Equal(t, []string{"internal/**"}, e.include)
	assert.Equal(t, []string{"**/mock_*.go"}, e.exclude)
	assert.Equal(t, []string{"-tags=integration"}, e.buildFlags)
	assert.Equal(t, 3, e.workers)
	assert.Equal(t, "/rules", e.rulesDir)
}

func TestNumWorkers(t *testing.T) {
	e := newTestEngine(t, WithParallel(4))
	assert.Equal(t, 2, e.numWorkers(2))
	assert.Equal(t, 4, e.numWorkers(100))

	serial := newTestEngine(t, WithParallel(1))
	assert.Equal(t, 1, serial.numWorkers(100))

	auto := newTestEngine(t)
	assert.GreaterOrEqual(t, auto.numWorkers(100), 1)
}

func TestMatches(t *testing.T) {
	e := newTestEngine(t, WithInclude("internal/**"), WithExclude("**/mock_*.go"))
	tests := []struct {
		rel  string
		want bool
	}{
		{"internal/cache/cache.go", true},
		{"internal/cache/mock_cache.go", false},
		{"internal/cache/cache_test.go", false},
		{"internal/cache/impls_gen.go", false},
		{"cmd/main.go", false},
		{"internal/README.md", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Matches(tt.rel), tt.rel)
	}
}

func TestIndexFiles_ExtractsDirectives(t *testing.T) {
	e := newTestEngine(t)
	dir := canonicalDir(t)
	path := writeFile(t, dir, "cache.go", cacheSource)

	require.NoError(t, e.IndexFiles(context.Background(), []string{path}))

	f, err := e.Store().FileByPath(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, dir, f.PackageDir)
	assert.Equal(t, store.ContentHash([]byte(cacheSource)), f.Hash)

	ds, err := e.Store().DirectivesByFile(f.ID)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, store.KindAssert, ds[0].Kind)
	assert.Equal(t, "*Cache", ds[0].Subject)
	assert.Equal(t, "io.Closer", ds[0].Expr)
	assert.Equal(t, 4, ds[0].Line)
	assert.Equal(t, store.KindConst, ds[1].Kind)
	assert.Equal(t, "cacheIsReader", ds[1].Name)
}

func TestIndexFiles_SkipsUnchangedFiles(t *testing.T) {
	e := newTestEngine(t)
	path := writeFile(t, canonicalDir(t), "cache.go", cacheSource)
	ctx := context.Background()

	require.NoError(t, e.IndexFiles(ctx, []string{path}))
	f1, err := e.Store().FileByPath(path)
	require.NoError(t, err)

	require.NoError(t, e.IndexFiles(ctx, []string{path}))
	f2, err := e.Store().FileByPath(path)
	require.NoError(t, err)
	assert.Equal(t, f1.LastIndexed, f2.LastIndexed)
}

func TestIndexFiles_ReindexesChangedFiles(t *testing.T) {
	e := newTestEngine(t)
	dir := canonicalDir(t)
	path := writeFile(t, dir, "cache.go", cacheSource)
	ctx := context.Background()
	require.NoError(t, e.IndexFiles(ctx, []string{path}))
	before, err := e.Store().FileByPath(path)
	require.NoError(t, err)

	writeFile(t, dir, "cache.go", "package cache\n\n//impls:assert Cache: !io.Closer\ntype Cache struct{}\n")
	require.NoError(t, e.IndexFiles(ctx, []string{path}))

	after, err := e.Store().FileByPath(path)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.NotEqual(t, before.Hash, after.Hash)

	ds, err := e.Store().DirectivesByFile(after.ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "Cache", ds[0].Subject)
}

func TestIndexFiles_MalformedDirectivesAreSkipped(t *testing.T) {
	e := newTestEngine(t)
	path := writeFile(t, canonicalDir(t), "bad.go", `package bad

//impls:assert Missing colon
//impls:frobnicate T: any
//impls:assert T: io.Reader &
//impls:assert T: any
type T struct{}
`)
	require.NoError(t, e.IndexFiles(context.Background(), []string{path}))

	f, err := e.Store().FileByPath(path)
	require.NoError(t, err)
	ds, err := e.Store().DirectivesByFile(f.ID)
	require.NoError(t, err)
	// The unparseable expression is kept so check can report it.
	require.Len(t, ds, 2)
	assert.Equal(t, "io.Reader &", ds[0].Expr)
	assert.Equal(t, "any", ds[1].Expr)
}

func TestIndexFiles_MissingFile(t *testing.T) {
	e := newTestEngine(t)
	err := e.IndexFiles(context.Background(), []string{filepath.Join(t.TempDir(), "gone.go")})
	require.Error(t, err)
}

func TestIndexDirectory_DiscoversGoFiles(t *testing.T) {
	e := newTestEngine(t)
	dir := canonicalDir(t)
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "sub/b.go", "package sub\n")
	writeFile(t, dir, "a_test.go", "package a\n")
	writeFile(t, dir, "impls_gen.go", "package a\n")
	writeFile(t, dir, "notes.txt", "hello")
	writeFile(t, dir, ".hidden/c.go", "package hidden\n")
	writeFile(t, dir, "vendor/d/d.go", "package d\n")
	writeFile(t, dir, "testdata/e.go", "package e\n")

	require.NoError(t, e.IndexDirectory(context.Background(), dir))

	files, err := e.Store().Files()
	require.NoError(t, err)
	var got []string
	for _, f := range files {
		rel, err := filepath.Rel(dir, f.Path)
		require.NoError(t, err)
		got = append(got, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a.go", "sub/b.go"}, got)

	root, err := e.Store().GetMetadata("root")
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestIndexDirectory_AppliesGlobs(t *testing.T) {
	e := newTestEngine(t, WithExclude("gen/**"))
	dir := canonicalDir(t)
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "gen/b.go", "package gen\n")

	require.NoError(t, e.IndexDirectory(context.Background(), dir))

	files, err := e.Store().Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "a.go"), files[0].Path)
}

func TestIndexDirectory_DropsVanishedFiles(t *testing.T) {
	e := newTestEngine(t)
	dir := canonicalDir(t)
	keep := writeFile(t, dir, "keep.go", "package a\n")
	gone := writeFile(t, dir, "gone.go", cacheSource)
	ctx := context.Background()

	require.NoError(t, e.IndexDirectory(ctx, dir))
	require.NoError(t, os.Remove(gone))
	require.NoError(t, e.IndexDirectory(ctx, dir))

	f, err := e.Store().FileByPath(gone)
	require.NoError(t, err)
	assert.Nil(t, f)
	f, err = e.Store().FileByPath(keep)
	require.NoError(t, err)
	assert.NotNil(t, f)

	ds, err := e.Store().AllDirectives()
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestNew_WithRulesFS_TakesPrecedence(t *testing.T) {
	fsys := fstest.MapFS{"only.risor": {Data: []byte(`violation("from fs")`)}}
	e := newTestEngine(t, WithRulesDir(t.TempDir()), WithRulesFS(fsys))
	scripts, err := e.runtime.RuleScripts()
	require.NoError(t, err)
	assert.Equal(t, []string{"only.risor"}, scripts)
}

func TestResultStatus(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"assert true", Result{Directive: Directive{Kind: KindAssert}, Value: true}, "pass"},
		{"assert false", Result{Directive: Directive{Kind: KindAssert}}, "fail"},
		{"const false", Result{Directive: Directive{Kind: KindConst}}, "pass"},
		{"error", Result{Directive: Directive{Kind: KindAssert}, Value: true, Err: "boom"}, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Status())
		})
	}
}

func TestReport_OKAndFailures(t *testing.T) {
	r := &Report{Root: "/repo", Results: []Result{
		{Path: "/repo/a.go", Directive: Directive{Kind: KindAssert}, Value: true},
		{Path: "/repo/b/b.go", Directive: Directive{Kind: KindAssert}},
	}, Passed: 1, Failed: 1}
	assert.False(t, r.OK())
	require.Len(t, r.Failures(), 1)
	assert.Equal(t, "b/b.go", r.Rel(r.Failures()[0].Path))
	assert.Equal(t, "/elsewhere/c.go", r.Rel("/elsewhere/c.go"))

	assert.True(t, (&Report{Passed: 3}).OK())
	assert.False(t, (&Report{RuleErrors: []string{"x"}}).OK())
	assert.False(t, (&Report{Violations: []*Violation{{Message: "m"}}}).OK())
}

// rejectingSink is a DataStore whose inserts always fail.
type rejectingSink struct{}

func (rejectingSink) InsertDirective(*store.Directive) (int64, error) { return 0, errors.New("full") }
func (rejectingSink) InsertVerdict(*store.Verdict) (int64, error)     { return 0, errors.New("full") }
func (rejectingSink) InsertViolation(*store.Violation) (int64, error) { return 0, errors.New("full") }
func (rejectingSink) DirectivesByFile(int64) ([]*store.Directive, error) {
	return nil, nil
}

func TestBufferVerdicts(t *testing.T) {
	e := newTestEngine(t)
	batch := store.NewBatchedStore(e.Store())
	results := []Result{
		{Path: "/a.go", Directive: Directive{ID: 1, Hash: "h1"}, Value: true},
		{Path: "/a.go", Directive: Directive{ID: 2, Hash: "h2"}, Err: "unknown capability"},
	}

	require.NoError(t, bufferVerdicts(batch, "run-1", results))
	require.Len(t, batch.Verdicts, 2)
	assert.Equal(t, "h1", batch.Verdicts[0].DirectiveHash)
	require.NotNil(t, batch.Verdicts[0].Result)
	assert.True(t, *batch.Verdicts[0].Result)
	assert.Equal(t, "h2", batch.Verdicts[1].DirectiveHash)
	assert.Nil(t, batch.Verdicts[1].Result)
	assert.Equal(t, "unknown capability", batch.Verdicts[1].Error)
}

func TestBufferVerdicts_ReportsSinkErrors(t *testing.T) {
	err := bufferVerdicts(rejectingSink{}, "run-1", []Result{{Path: "/a.go", Directive: Directive{ID: 1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer verdict for /a.go")
	assert.Contains(t, err.Error(), "full")
}
