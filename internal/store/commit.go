package store

import "fmt"

// CommitBatch inserts all buffered data from a BatchedStore into SQLite
// within a single transaction. Fake (negative) IDs are remapped to real
// IDs, and verdicts that point at a directive from the same batch are
// rewritten using the fakeToReal mapping.
//
// Insert order respects FK dependencies:
//  1. Directives (depend on file_id only, which is already real)
//  2. Verdicts (depend on run_id and directive_id)
//  3. Violations (depend on run_id only)
func (s *Store) CommitBatch(batch *BatchedStore) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	fakeToReal := make(map[int64]int64)

	for _, d := range batch.Directives {
		fakeID := d.ID
		realID, err := insertDirectiveTx(tx, &d)
		if err != nil {
			return fmt.Errorf("commit batch: directive %q: %w", d.Subject, err)
		}
		fakeToReal[fakeID] = realID
	}

	for _, v := range batch.Verdicts {
		if v.DirectiveID < 0 {
			realID, ok := fakeToReal[v.DirectiveID]
			if !ok {
				return fmt.Errorf("commit batch: verdict has directive_id=%d not in fakeToReal map (have %d directives)", v.DirectiveID, len(batch.Directives))
			}
			v.DirectiveID = realID
		}
		if _, err := insertVerdictTx(tx, &v); err != nil {
			return fmt.Errorf("commit batch: verdict for directive %d: %w", v.DirectiveID, err)
		}
	}

	for _, v := range batch.Violations {
		if _, err := insertViolationTx(tx, &v); err != nil {
			return fmt.Errorf("commit batch: violation from %q: %w", v.Rule, err)
		}
	}

	return tx.Commit()
}
