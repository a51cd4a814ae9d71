package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Run operations ---

// BeginRun records the start of a check run and returns it with a fresh
// UUID.
func (s *Store) BeginRun(root string) (*Run, error) {
	r := &Run{ID: uuid.NewString(), Root: root, StartedAt: time.Now()}
	if _, err := s.db.Exec(
		"INSERT INTO runs (id, root, started_at) VALUES (?, ?, ?)",
		r.ID, r.Root, r.StartedAt,
	); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return r, nil
}

// FinishRun stores the run's counters and finish time.
func (s *Store) FinishRun(r *Run) error {
	now := time.Now()
	r.FinishedAt = &now
	if _, err := s.db.Exec(
		"UPDATE runs SET finished_at = ?, passed = ?, failed = ?, errored = ? WHERE id = ?",
		now, r.Passed, r.Failed, r.Errored, r.ID,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

const runCols = `id, root, started_at, finished_at, passed, failed, errored`

func scanRun(scanner interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var finished sql.NullTime
	if err := scanner.Scan(&r.ID, &r.Root, &r.StartedAt, &finished, &r.Passed, &r.Failed, &r.Errored); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// LatestRun returns the most recently started run, or nil if none exist.
func (s *Store) LatestRun() (*Run, error) {
	r, err := scanRun(s.db.QueryRow("SELECT " + runCols + " FROM runs ORDER BY started_at DESC LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(limit int) ([]*Run, error) {
	rows, err := s.db.Query("SELECT "+runCols+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Verdict operations ---

func (s *Store) InsertVerdict(v *Verdict) (int64, error) {
	return insertVerdictTx(s.db, v)
}

func insertVerdictTx(ex execer, v *Verdict) (int64, error) {
	var errText, hash any
	if v.Error != "" {
		errText = v.Error
	}
	if v.DirectiveHash != "" {
		hash = v.DirectiveHash
	}
	res, err := ex.Exec(
		`INSERT INTO verdicts (run_id, directive_id, directive_hash, result, error)
		 VALUES (?, ?, COALESCE(?, (SELECT hash FROM directives WHERE id = ?)), ?, ?)`,
		v.RunID, v.DirectiveID, hash, v.DirectiveID, v.Result, errText,
	)
	if err != nil {
		return 0, fmt.Errorf("insert verdict: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	v.ID = id
	return id, nil
}

const verdictCols = `v.id, v.run_id, v.directive_id, v.directive_hash, v.result, v.error`

func scanVerdict(scanner interface{ Scan(...any) error }, extra ...any) (*Verdict, error) {
	v := &Verdict{}
	var directiveID sql.NullInt64
	var hash, errText sql.NullString
	var result sql.NullBool
	dest := append([]any{&v.ID, &v.RunID, &directiveID, &hash, &result, &errText}, extra...)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	v.DirectiveID = directiveID.Int64
	v.DirectiveHash = hash.String
	if result.Valid {
		b := result.Bool
		v.Result = &b
	}
	v.Error = errText.String
	return v, nil
}

// VerdictsByRun returns the verdicts recorded in a run, in insertion order.
func (s *Store) VerdictsByRun(runID string) ([]*Verdict, error) {
	rows, err := s.db.Query(
		"SELECT "+verdictCols+" FROM verdicts v WHERE v.run_id = ? ORDER BY v.id", runID,
	)
	if err != nil {
		return nil, fmt.Errorf("verdicts by run: %w", err)
	}
	defer rows.Close()
	var vs []*Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		vs = append(vs, v)
	}
	return vs, rows.Err()
}

// VerdictHistory returns up to limit verdicts recorded for directives with
// the given hash, newest run first. Verdicts detached by re-indexing are
// included.
func (s *Store) VerdictHistory(hash string, limit int) ([]*HistoryEntry, error) {
	rows, err := s.db.Query(
		"SELECT "+verdictCols+`, r.started_at
		 FROM verdicts v JOIN runs r ON r.id = v.run_id
		 WHERE v.directive_hash = ?
		 ORDER BY r.started_at DESC, v.id DESC
		 LIMIT ?`, hash, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("verdict history: %w", err)
	}
	defer rows.Close()
	var out []*HistoryEntry
	for rows.Next() {
		var started time.Time
		v, err := scanVerdict(rows, &started)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		out = append(out, &HistoryEntry{Verdict: *v, StartedAt: started})
	}
	return out, rows.Err()
}

// --- Violation operations ---

func (s *Store) InsertViolation(v *Violation) (int64, error) {
	return insertViolationTx(s.db, v)
}

func insertViolationTx(ex execer, v *Violation) (int64, error) {
	res, err := ex.Exec(
		"INSERT INTO violations (run_id, rule, package, message) VALUES (?, ?, ?, ?)",
		v.RunID, v.Rule, v.Package, v.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("insert violation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	v.ID = id
	return id, nil
}

// ViolationsByRun returns the rule violations recorded in a run.
func (s *Store) ViolationsByRun(runID string) ([]*Violation, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, rule, package, message FROM violations WHERE run_id = ? ORDER BY id", runID,
	)
	if err != nil {
		return nil, fmt.Errorf("violations by run: %w", err)
	}
	defer rows.Close()
	var vs []*Violation
	for rows.Next() {
		v := &Violation{}
		var pkg sql.NullString
		if err := rows.Scan(&v.ID, &v.RunID, &v.Rule, &pkg, &v.Message); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Package = pkg.String
		vs = append(vs, v)
	}
	return vs, rows.Err()
}

// FailuresByRun returns the assertions that evaluated to false and the
// directives of either kind that failed to evaluate in a run, ordered by
// file and line. A const directive with a false value is not a failure.
func (s *Store) FailuresByRun(runID string) ([]*Failure, error) {
	rows, err := s.db.Query(
		`SELECT f.path, d.id, d.file_id, d.kind, d.name, d.subject, d.expr, d.line, d.col, d.byte_offset, d.func_name, d.hash, v.error
		 FROM verdicts v
		 JOIN directives d ON d.id = v.directive_id
		 JOIN files f ON f.id = d.file_id
		 WHERE v.run_id = ? AND (v.result IS NULL OR (v.result = 0 AND d.kind = 'assert'))
		 ORDER BY f.path, d.line, d.col`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failures by run: %w", err)
	}
	defer rows.Close()
	var out []*Failure
	for rows.Next() {
		fl := &Failure{}
		var name, funcName, hash, errText sql.NullString
		d := &fl.Directive
		if err := rows.Scan(&fl.Path, &d.ID, &d.FileID, &d.Kind, &name, &d.Subject, &d.Expr,
			&d.Line, &d.Col, &d.Offset, &funcName, &hash, &errText); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		d.Name = name.String
		d.FuncName = funcName.String
		d.Hash = hash.String
		fl.Error = errText.String
		out = append(out, fl)
	}
	return out, rows.Err()
}
