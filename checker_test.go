package impls

import (
	"errors"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkerSrcA = `package p

import "io"

type Reader interface{ Read([]byte) (int, error) }

type Set[T comparable] interface {
	Has(T) bool
}

type Ints map[int]bool

func (s Ints) Has(v int) bool { return s[v] }

type File struct{}

func (*File) Read(p []byte) (int, error) { return 0, io.EOF }
func (*File) Close() error                { return nil }

func Use[T io.Reader](v T) {
	type local interface{ Read([]byte) (int, error) }
	_ = v // inside Use
}
`

const checkerSrcB = `package p

import "strings"

var upper = strings.ToUpper
`

type checkerFixture struct {
	fset    *token.FileSet
	checker *Checker
	fileA   *ast.File
}

// newCheckerFixture type-checks package p from source, importing the
// standard library from source as well.
func newCheckerFixture(t *testing.T) *checkerFixture {
	t.Helper()
	fset := token.NewFileSet()
	var files []*ast.File
	for name, src := range map[string]string{"a.go": checkerSrcA, "b.go": checkerSrcB} {
		f, err := parser.ParseFile(fset, name, src, parser.ParseComments)
		require.NoError(t, err)
		files = append(files, f)
	}
	conf := types.Config{Importer: importer.ForCompiler(fset, "source", nil)}
	pkg, err := conf.Check("example.com/p", fset, files, nil)
	require.NoError(t, err)

	fx := &checkerFixture{fset: fset, checker: NewChecker(fset, pkg)}
	for _, f := range files {
		if fset.File(f.Pos()).Name() == "a.go" {
			fx.fileA = f
		}
	}
	require.NotNil(t, fx.fileA)
	return fx
}

// posOf returns the position of marker in a.go.
func (fx *checkerFixture) posOf(t *testing.T, marker string) token.Pos {
	t.Helper()
	off := strings.Index(checkerSrcA, marker)
	require.GreaterOrEqual(t, off, 0, marker)
	return fx.fset.File(fx.fileA.Pos()).Pos(off)
}

func TestChecker_Eval(t *testing.T) {
	fx := newCheckerFixture(t)
	tests := []struct {
		subject string
		expr    string
		want    bool
	}{
		{"*File", "io.Reader & io.Closer & !io.Writer", true},
		{"*File", "Reader & io.ReadCloser", true},
		{"File", "!Reader & !io.Closer", true},
		{"Ints", "Set[int] & !Set[string]", true},
		{"Ints", "!comparable & any", true},
		{"*File", "comparable", true},
		{"*File", "interface{ Close() error }", true},
		{"*File", "interface{ Close() error; Flush() }", false},
		{"Reader", "io.Reader", true},
		{"map[string]int", "!io.Reader", true},
	}
	for _, tt := range tests {
		t.Run(tt.subject+": "+tt.expr, func(t *testing.T) {
			got, err := fx.checker.Eval(token.NoPos, tt.subject, MustParse(tt.expr))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChecker_Errors(t *testing.T) {
	fx := newCheckerFixture(t)
	tests := []struct {
		subject string
		expr    string
		want    error
	}{
		{"*File", "Nope", ErrUnknownCapability},
		{"*File", "File", ErrNotInterface},
		{"*File", "Set", ErrNotInstantiated},
		{"*File", "io.EOF", ErrNotType},
		{"Use", "any", ErrNotType},
		{"Set", "any", ErrNotInstantiated},
	}
	for _, tt := range tests {
		t.Run(tt.subject+": "+tt.expr, func(t *testing.T) {
			_, err := fx.checker.Eval(token.NoPos, tt.subject, MustParse(tt.expr))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := fx.checker.Eval(token.NoPos, "Missing", MustParse("any"))
	require.Error(t, err)
}

func TestChecker_ScopeAtPosition(t *testing.T) {
	fx := newCheckerFixture(t)
	inUse := fx.posOf(t, "_ = v")

	ok, err := fx.checker.Eval(inUse, "T", MustParse("io.Reader & !io.Closer"))
	require.NoError(t, err)
	assert.True(t, ok, "type parameter probed through its constraint")

	ok, err = fx.checker.Eval(inUse, "*File", MustParse("local"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = fx.checker.Eval(token.NoPos, "T", MustParse("any"))
	require.Error(t, err, "T is not visible at package scope")

	_, err = fx.checker.Eval(token.NoPos, "*File", MustParse("local"))
	require.Error(t, err, "local is not visible at package scope")

	// Declared after the position, so not yet in scope.
	_, err = fx.checker.Eval(fx.posOf(t, "type local"), "*File", MustParse("local"))
	require.Error(t, err)
}

func TestChecker_ResolvesPackagesImportedElsewhere(t *testing.T) {
	fx := newCheckerFixture(t)
	// a.go does not import strings; b.go does.
	ok, err := fx.checker.Eval(fx.posOf(t, "type File"), "*strings.Builder", MustParse("io.Writer & io.StringWriter & !io.Reader"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecker_Prober(t *testing.T) {
	fx := newCheckerFixture(t)
	subject, err := fx.checker.Subject(token.NoPos, "*File")
	require.NoError(t, err)

	p := fx.checker.Prober(token.NoPos, subject)
	ok, err := p.Probe(CapRef{Name: "io.Closer"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Probe(CapRef{Name: "Set", Args: []string{"int"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_NamedTypes(t *testing.T) {
	fx := newCheckerFixture(t)
	assert.Equal(t, []string{"File", "Ints", "Reader", "Set"}, fx.checker.NamedTypes())
	assert.Equal(t, "example.com/p", fx.checker.Package().Path())
}
