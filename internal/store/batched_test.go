package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchedStore_DirectivesByFile_ReturnsBufferedDirectives(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := insertTestFile(t, s, "/main.go")

	batch := NewBatchedStore(s)

	id1, err := batch.InsertDirective(&Directive{FileID: f.ID, Kind: KindAssert, Subject: "Foo", Expr: "error"})
	require.NoError(t, err)
	assert.Negative(t, id1, "batched IDs should be negative")

	id2, err := batch.InsertDirective(&Directive{FileID: f.ID, Kind: KindAssert, Subject: "Bar", Expr: "error"})
	require.NoError(t, err)
	assert.Negative(t, id2)
	assert.NotEqual(t, id1, id2)

	ds, err := batch.DirectivesByFile(f.ID)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	for _, d := range ds {
		assert.Negative(t, d.ID, "buffered directives should have negative IDs")
		assert.NotEmpty(t, d.Hash)
	}
}

func TestBatchedStore_DirectivesByFile_MergesWithDatabase(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := insertTestFile(t, s, "/main.go")
	insertTestDirective(t, s, f.ID, "Existing", "error", 1)

	batch := NewBatchedStore(s)
	_, err := batch.InsertDirective(&Directive{FileID: f.ID, Kind: KindAssert, Subject: "New", Expr: "error"})
	require.NoError(t, err)

	ds, err := batch.DirectivesByFile(f.ID)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	subjects := []string{ds[0].Subject, ds[1].Subject}
	assert.Contains(t, subjects, "Existing")
	assert.Contains(t, subjects, "New")
}

func TestBatchedStore_DirectivesByFile_DoesNotReturnOtherFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f1 := insertTestFile(t, s, "/a.go")
	f2 := insertTestFile(t, s, "/b.go")

	batch := NewBatchedStore(s)
	_, err := batch.InsertDirective(&Directive{FileID: f1.ID, Kind: KindAssert, Subject: "InA", Expr: "error"})
	require.NoError(t, err)
	_, err = batch.InsertDirective(&Directive{FileID: f2.ID, Kind: KindAssert, Subject: "InB", Expr: "error"})
	require.NoError(t, err)

	ds, err := batch.DirectivesByFile(f1.ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "InA", ds[0].Subject)
}

func TestCommitBatch_RemapsFakeDirectiveIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := insertTestFile(t, s, "/main.go")
	run, err := s.BeginRun("/")
	require.NoError(t, err)

	batch := NewBatchedStore(s)
	fakeID, err := batch.InsertDirective(&Directive{FileID: f.ID, Kind: KindAssert, Subject: "T", Expr: "fmt.Stringer", Line: 7})
	require.NoError(t, err)
	_, err = batch.InsertVerdict(&Verdict{RunID: run.ID, DirectiveID: fakeID, Result: ptr(false)})
	require.NoError(t, err)
	_, err = batch.InsertViolation(&Violation{RunID: run.ID, Rule: "r", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Len())

	require.NoError(t, s.CommitBatch(batch))

	ds, err := s.DirectivesByFile(f.ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Positive(t, ds[0].ID)

	vs, err := s.VerdictsByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, ds[0].ID, vs[0].DirectiveID)
	assert.Equal(t, ds[0].Hash, vs[0].DirectiveHash, "hash defaults to the directive's")

	viol, err := s.ViolationsByRun(run.ID)
	require.NoError(t, err)
	assert.Len(t, viol, 1)
}

func TestCommitBatch_RealDirectiveIDsPassThrough(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := insertTestFile(t, s, "/main.go")
	d := insertTestDirective(t, s, f.ID, "T", "error", 1)
	run, err := s.BeginRun("/")
	require.NoError(t, err)

	batch := NewBatchedStore(s)
	_, err = batch.InsertVerdict(&Verdict{RunID: run.ID, DirectiveID: d.ID, Result: ptr(true)})
	require.NoError(t, err)
	require.NoError(t, s.CommitBatch(batch))

	vs, err := s.VerdictsByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, d.ID, vs[0].DirectiveID)
}

func TestCommitBatch_UnknownFakeIDFails(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	run, err := s.BeginRun("/")
	require.NoError(t, err)

	batch := NewBatchedStore(s)
	_, err = batch.InsertVerdict(&Verdict{RunID: run.ID, DirectiveID: -42, Result: ptr(true)})
	require.NoError(t, err)

	err = s.CommitBatch(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in fakeToReal")

	vs, err := s.VerdictsByRun(run.ID)
	require.NoError(t, err)
	assert.Empty(t, vs, "failed commit must roll back")
}

func TestBatchedStore_ConcurrentInserts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := insertTestFile(t, s, "/main.go")
	batch := NewBatchedStore(s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := batch.InsertDirective(&Directive{FileID: f.ID, Kind: KindAssert, Subject: "T", Expr: "error"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, batch.Directives, 200)
	seen := make(map[int64]bool)
	for _, d := range batch.Directives {
		assert.False(t, seen[d.ID], "fake IDs must be unique")
		seen[d.ID] = true
	}
	require.NoError(t, s.CommitBatch(batch))
	ds, err := s.DirectivesByFile(f.ID)
	require.NoError(t, err)
	assert.Len(t, ds, 200)
}
