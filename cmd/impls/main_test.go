package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/impls"
	"github.com/jward/impls/internal/config"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	got := findRepoRoot(root)
	assert.Equal(t, root, got)
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	deep := filepath.Join(root, "sub", "deep")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}

	got := findRepoRoot(deep)
	assert.Equal(t, root, got)
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findRepoRoot(dir)
	assert.Equal(t, dir, got)
}

func TestResolveDBPath(t *testing.T) {
	root := filepath.FromSlash("/repo")
	cfg := config.DefaultConfig()

	assert.Equal(t, filepath.Join(root, ".impls", "index.db"), resolveDBPath(root, cfg))
	assert.Equal(t, filepath.Join(root, ".impls", "index.db"), resolveDBPath(root, nil))

	cfg.DB = "custom.db"
	assert.Equal(t, filepath.Join(root, "custom.db"), resolveDBPath(root, cfg))

	flagDB = filepath.FromSlash("/abs/flag.db")
	t.Cleanup(func() { flagDB = "" })
	assert.Equal(t, flagDB, resolveDBPath(root, cfg), "--db wins over config")
}

func TestSplitSubject(t *testing.T) {
	subject, expr, err := splitSubject("map[string]int: !io.Reader & Set[int]")
	require.NoError(t, err)
	assert.Equal(t, "map[string]int", subject)
	assert.Equal(t, "!io.Reader & Set[int]", expr)

	_, _, err = splitSubject("io.Reader")
	assert.Error(t, err)
	_, _, err = splitSubject("T:")
	assert.Error(t, err)
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.EqualError(t, validateFormat("yaml"), `invalid format "yaml": must be json or text`)
}

func TestRelPath(t *testing.T) {
	root := filepath.FromSlash("/repo")
	assert.Equal(t, "pkg/a.go", relPath(root, filepath.Join(root, "pkg", "a.go")))
	assert.Equal(t, filepath.FromSlash("/other/a.go"), relPath(root, filepath.FromSlash("/other/a.go")))
	assert.Equal(t, "a.go", relPath("", "a.go"))
}

func TestOutputResultText_Report(t *testing.T) {
	no := false
	report := CLIReport{
		Passed:  1,
		Failed:  1,
		Errored: 1,
		Verdicts: []CLIVerdict{
			{Directive: CLIDirective{File: "a.go", Line: 3, Col: 1, Subject: "*T", Expr: "io.Reader"}, Status: "pass"},
			{Directive: CLIDirective{File: "a.go", Line: 4, Col: 1, Subject: "T", Expr: "io.Reader"}, Status: "fail", Value: &no},
			{Directive: CLIDirective{File: "b.go", Line: 9, Col: 2, Subject: "U", Expr: "Nope"}, Status: "error", Error: "unknown capability"},
		},
		Violations: []CLIViolation{{Rule: "no_writers", Message: "T must not satisfy io.Writer"}},
	}

	var buf bytes.Buffer
	require.NoError(t, outputResultText(&buf, CLIResult{Command: "check", Results: report}))
	assert.Equal(t, "a.go:4:1: FAIL T: io.Reader\n"+
		"b.go:9:2: ERROR U: Nope: unknown capability\n"+
		"no_writers: FAIL T must not satisfy io.Writer\n"+
		"FAILED: 1 passed, 1 failed, 1 errored, 1 violation(s)\n", buf.String())
}

func TestOutputResultText_PaginationFooter(t *testing.T) {
	total := 7
	var buf bytes.Buffer
	err := outputResultText(&buf, CLIResult{
		Command:    "directives",
		Results:    []CLIDirective{{ID: 1, Kind: "assert", Subject: "T", Expr: "any", File: "a.go", Line: 1, Col: 1}},
		TotalCount: &total,
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "KIND")
	assert.Contains(t, buf.String(), "a.go:1:1")
	assert.Contains(t, buf.String(), "Showing 1 of 7 results")
}

func TestOutputResultText_Runs(t *testing.T) {
	var buf bytes.Buffer
	err := outputResultText(&buf, CLIResult{Command: "runs", Results: []CLIRun{
		{ID: "r1", Root: "/repo", StartedAt: time.Now(), Passed: 3},
	}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "r1")
	assert.Contains(t, buf.String(), "/repo")
}

func TestHistoryToCLI(t *testing.T) {
	yes, no := true, false
	at := time.Now()
	assert.Equal(t, "pass", historyToCLI(impls.KindAssert, &impls.HistoryEntry{Verdict: impls.Verdict{Result: &yes}}).Status)
	assert.Equal(t, "fail", historyToCLI(impls.KindAssert, &impls.HistoryEntry{Verdict: impls.Verdict{Result: &no}}).Status)
	assert.Equal(t, "pass", historyToCLI(impls.KindConst, &impls.HistoryEntry{Verdict: impls.Verdict{Result: &no}}).Status)

	h := historyToCLI(impls.KindAssert, &impls.HistoryEntry{
		Verdict:   impls.Verdict{RunID: "r1", Error: "unknown capability"},
		StartedAt: at,
	})
	assert.Equal(t, "error", h.Status)
	assert.Equal(t, "r1", h.RunID)
	assert.Equal(t, at, h.StartedAt)
	assert.Nil(t, h.Value)

	var buf bytes.Buffer
	require.NoError(t, outputResultText(&buf, CLIResult{Command: "history", Results: []CLIHistory{h}}))
	assert.Contains(t, buf.String(), "ERROR")
	assert.Contains(t, buf.String(), "unknown capability")
}

func TestOutputResultText_Unsupported(t *testing.T) {
	var buf bytes.Buffer
	err := outputResultText(&buf, CLIResult{Results: 42})
	assert.Error(t, err)
}
