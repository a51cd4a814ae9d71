package store

import "sync"

// BatchedStore buffers inserts in memory using fake (negative) IDs. It
// implements DataStore so workers can write to it without knowing whether
// they're hitting SQLite or an in-memory buffer.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// DirectivesByFile reads through to the underlying Store, which is safe for
// concurrent reads.
type BatchedStore struct {
	store *Store
	mu    sync.Mutex

	Directives []Directive
	Verdicts   []Verdict
	Violations []Violation

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertDirective(d *Directive) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.Hash == "" {
		d.Hash = ComputeDirectiveHash("", d.Kind, d.Name, d.Subject, d.Expr)
	}
	fakeID := b.allocFakeID()
	d.ID = fakeID
	b.Directives = append(b.Directives, *d)
	return fakeID, nil
}

func (b *BatchedStore) InsertVerdict(v *Verdict) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	v.ID = fakeID
	b.Verdicts = append(b.Verdicts, *v)
	return fakeID, nil
}

func (b *BatchedStore) InsertViolation(v *Violation) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	v.ID = fakeID
	b.Violations = append(b.Violations, *v)
	return fakeID, nil
}

// DirectivesByFile returns directives for a file, merging any buffered (not
// yet committed) directives with those already in the database.
func (b *BatchedStore) DirectivesByFile(fileID int64) ([]*Directive, error) {
	ds, err := b.store.DirectivesByFile(fileID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Directives {
		if b.Directives[i].FileID == fileID {
			ds = append(ds, &b.Directives[i])
		}
	}
	return ds, nil
}

// Len reports the number of buffered rows.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Directives) + len(b.Verdicts) + len(b.Violations)
}
