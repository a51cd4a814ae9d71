package store

import "time"

// Extraction domain types

type File struct {
	ID          int64
	Path        string
	PackageDir  string
	Hash        string
	LineCount   int
	LastIndexed time.Time
}

// Directive kinds.
const (
	KindAssert = "assert"
	KindConst  = "const"
)

// Directive is one //impls: comment extracted from a source file.
// Line and Col are 0-based; Offset is the byte offset of the comment.
type Directive struct {
	ID       int64
	FileID   int64
	Kind     string
	Name     string // constant name, only for KindConst
	Subject  string
	Expr     string
	Line     int
	Col      int
	Offset   int
	FuncName string // enclosing function or method, "" at package scope
	Hash     string
}

// Check domain types

type Run struct {
	ID         string
	Root       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Passed     int
	Failed     int
	Errored    int
}

// Verdict is the outcome of evaluating one directive in one run. Result is
// nil when evaluation failed; Error then holds the reason. DirectiveID is 0
// once the directive has been re-indexed away; DirectiveHash still names it.
type Verdict struct {
	ID            int64
	RunID         string
	DirectiveID   int64
	DirectiveHash string
	Result        *bool
	Error         string
}

// HistoryEntry is one verdict of a directive together with when its run
// started.
type HistoryEntry struct {
	Verdict
	StartedAt time.Time
}

// Violation is a failure reported by a rule script.
type Violation struct {
	ID      int64
	RunID   string
	Rule    string
	Package string
	Message string
}

// Failure joins a failing verdict with its directive and file. Error is
// empty when the directive evaluated to false.
type Failure struct {
	Path      string
	Directive Directive
	Error     string
}
