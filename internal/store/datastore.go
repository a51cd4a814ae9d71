package store

// DataStore is the write-side interface used while indexing and checking.
// Both Store (direct SQLite) and BatchedStore (in-memory buffering for
// parallel workers) implement this interface.
type DataStore interface {
	// Inserts; each returns the assigned ID.
	InsertDirective(d *Directive) (int64, error)
	InsertVerdict(v *Verdict) (int64, error)
	InsertViolation(v *Violation) (int64, error)

	// DirectivesByFile lets workers see what is already recorded for a file.
	DirectivesByFile(fileID int64) ([]*Directive, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
