package impls

import (
	"fmt"
	"strings"

	"github.com/jward/impls/internal/store"
)

// QueryBuilder provides read access to the index and recorded runs.
type QueryBuilder struct {
	store *store.Store
}

// Pagination controls offset+limit paging on list results.
type Pagination struct {
	Offset int // skip this many results (default 0)
	Limit  int // max results to return (default 50, max 500)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize returns a Pagination with defaults applied and bounds enforced.
func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// PagedResult wraps a page of results with the total count before paging.
type PagedResult[T any] struct {
	Items      []T
	TotalCount int
}

// DirectiveFilter specifies which directives to include. Nil and empty
// fields match everything.
type DirectiveFilter struct {
	Kinds      []string // match any of these kinds
	PathPrefix *string  // restrict to files under this directory
	Subject    *string  // exact match on the subject type expression
	FuncName   *string  // exact match; "" selects package-scope directives
}

// DirectiveResult is a directive with the path of its file.
type DirectiveResult struct {
	store.Directive
	FilePath string
}

// normalizePathPrefix ensures a path prefix ends with "/" for correct LIKE matching.
// "internal/store" -> "internal/store/" to prevent matching "internal/store_utils/".
func normalizePathPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "/") {
		return prefix + "/"
	}
	return prefix
}

// Directives lists indexed directives ordered by file and position.
func (q *QueryBuilder) Directives(filter DirectiveFilter, page Pagination) (*PagedResult[DirectiveResult], error) {
	page = page.normalize()

	var where []string
	var args []any
	if len(filter.Kinds) > 0 {
		where = append(where, "d.kind IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(filter.Kinds)), ", ")+")")
		for _, k := range filter.Kinds {
			args = append(args, k)
		}
	}
	if filter.PathPrefix != nil && *filter.PathPrefix != "" {
		where = append(where, "f.path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(normalizePathPrefix(*filter.PathPrefix))+"%")
	}
	if filter.Subject != nil {
		where = append(where, "d.subject = ?")
		args = append(args, *filter.Subject)
	}
	if filter.FuncName != nil {
		where = append(where, "COALESCE(d.func_name, '') = ?")
		args = append(args, *filter.FuncName)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.store.DB().QueryRow(
		"SELECT COUNT(*) FROM directives d JOIN files f ON f.id = d.file_id"+clause, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("directives: count: %w", err)
	}

	rows, err := q.store.DB().Query(
		`SELECT d.id, d.file_id, d.kind, d.name, d.subject, d.expr, d.line, d.col, d.byte_offset, d.func_name, d.hash, f.path
		 FROM directives d JOIN files f ON f.id = d.file_id`+clause+`
		 ORDER BY f.path, d.line, d.col
		 LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("directives: %w", err)
	}
	defer rows.Close()

	result := &PagedResult[DirectiveResult]{TotalCount: total}
	for rows.Next() {
		var path string
		d, err := store.ScanDirectiveRow(scanWithPath{rows, &path})
		if err != nil {
			return nil, fmt.Errorf("directives: scan: %w", err)
		}
		result.Items = append(result.Items, DirectiveResult{Directive: *d, FilePath: path})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directives: rows: %w", err)
	}
	return result, nil
}

// scanWithPath appends a trailing file path column to a directive scan.
type scanWithPath struct {
	rows interface{ Scan(...any) error }
	path *string
}

func (s scanWithPath) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.path)...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// LatestRun returns the most recent check run, or nil if there is none.
func (q *QueryBuilder) LatestRun() (*Run, error) {
	return q.store.LatestRun()
}

// Runs returns up to limit runs, newest first.
func (q *QueryBuilder) Runs(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return q.store.Runs(limit)
}

// resolveRun maps "" to the latest run's ID. It returns "" if no run has
// been recorded.
func (q *QueryBuilder) resolveRun(runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	r, err := q.store.LatestRun()
	if err != nil || r == nil {
		return "", err
	}
	return r.ID, nil
}

// Verdicts returns the verdicts of a run, "" meaning the latest.
func (q *QueryBuilder) Verdicts(runID string) ([]*Verdict, error) {
	id, err := q.resolveRun(runID)
	if err != nil || id == "" {
		return nil, err
	}
	return q.store.VerdictsByRun(id)
}

// Failures returns the failing and errored directives of a run, "" meaning
// the latest.
func (q *QueryBuilder) Failures(runID string) ([]*Failure, error) {
	id, err := q.resolveRun(runID)
	if err != nil || id == "" {
		return nil, err
	}
	return q.store.FailuresByRun(id)
}

// Violations returns the rule violations of a run, "" meaning the latest.
func (q *QueryBuilder) Violations(runID string) ([]*Violation, error) {
	id, err := q.resolveRun(runID)
	if err != nil || id == "" {
		return nil, err
	}
	return q.store.ViolationsByRun(id)
}

// History returns the directive with the given ID and up to limit of its
// verdicts, newest first. Verdicts recorded before the directive last moved
// within its package are included. The directive is nil if no directive has
// that ID.
func (q *QueryBuilder) History(directiveID int64, limit int) (*Directive, []*HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	d, err := q.store.DirectiveByID(directiveID)
	if err != nil || d == nil {
		return nil, nil, err
	}
	entries, err := q.store.VerdictHistory(d.Hash, limit)
	if err != nil {
		return nil, nil, err
	}
	return d, entries, nil
}
