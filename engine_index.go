package impls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/jward/impls/internal/extract"
	"github.com/jward/impls/internal/store"
)

// indexItem holds everything an extraction worker needs.
type indexItem struct {
	path    string
	content []byte
	fileID  int64
	batch   *store.BatchedStore
}

// IndexFiles indexes the given absolute paths using a three-phase pipeline:
//
//	Phase A (serial):   hash check, delete stale directives, upsert file rows.
//	Phase B (parallel): tree-sitter extraction into a per-file batch.
//	Phase C (serial):   commit each batch to SQLite.
//
// Unchanged files are skipped. Malformed directives and expressions that do
// not parse are logged as warnings; they do not fail indexing.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) error {
	// ---- Phase A: Serial file preparation ----
	var items []indexItem
	for _, path := range paths {
		item, skip, err := e.prepareFile(path)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", path, err)
		}
		if skip {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil
	}

	// ---- Phase B: Parallel extraction ----
	workCh := make(chan indexItem, len(items))
	for _, item := range items {
		workCh <- item
	}
	close(workCh)

	type result struct {
		item indexItem
		err  error
	}
	resultCh := make(chan result, len(items))

	var wg sync.WaitGroup
	for range e.numWorkers(len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				resultCh <- result{item: item, err: e.extractFile(ctx, item)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// ---- Phase C: Serial commit ----
	var errs []error
	for res := range resultCh {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("extract %s: %w", res.item.path, res.err))
			continue
		}
		if err := e.store.CommitBatch(res.item.batch); err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", res.item.path, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

func (e *Engine) numWorkers(items int) int {
	n := e.workers
	if n <= 0 {
		n = goruntime.NumCPU()
	}
	return max(1, min(n, items))
}

// prepareFile does Phase A work for one file. skip is true when the file is
// unchanged since it was last indexed.
func (e *Engine) prepareFile(path string) (indexItem, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return indexItem{}, false, fmt.Errorf("read file: %w", err)
	}
	hash := store.ContentHash(content)

	existing, err := e.store.FileByPath(path)
	if err != nil {
		return indexItem{}, false, fmt.Errorf("lookup file: %w", err)
	}
	if existing != nil && existing.Hash == hash {
		return indexItem{}, true, nil
	}
	f := &store.File{
		Path:        path,
		PackageDir:  filepath.Dir(path),
		Hash:        hash,
		LineCount:   bytes.Count(content, []byte("\n")) + 1,
		LastIndexed: time.Now(),
	}
	if existing != nil {
		if err := e.store.DeleteFileData(existing.ID); err != nil {
			return indexItem{}, false, fmt.Errorf("delete old data: %w", err)
		}
		f.ID = existing.ID
		if err := e.store.UpdateFile(f); err != nil {
			return indexItem{}, false, err
		}
	} else if _, err := e.store.InsertFile(f); err != nil {
		return indexItem{}, false, fmt.Errorf("insert file: %w", err)
	}
	fileID := f.ID

	return indexItem{
		path:    path,
		content: content,
		fileID:  fileID,
		batch:   store.NewBatchedStore(e.store),
	}, false, nil
}

// extractFile does Phase B work: extract directives into the item's batch.
func (e *Engine) extractFile(ctx context.Context, item indexItem) error {
	ds, err := e.extractor.ExtractSource(ctx, item.content)
	if err != nil {
		var derrs []*extract.DirectiveError
		if !collectDirectiveErrors(err, &derrs) {
			return err
		}
		for _, de := range derrs {
			e.logger.Warn("skipping malformed directive",
				"path", item.path, "line", de.Line+1, "col", de.Col+1, "error", de.Err)
		}
	}

	for _, d := range ds {
		if _, perr := Parse(d.Expr); perr != nil {
			e.logger.Warn("directive expression does not parse",
				"path", item.path, "line", d.Line+1, "expr", d.Expr, "error", perr)
		}
		if _, err := item.batch.InsertDirective(&store.Directive{
			FileID:   item.fileID,
			Kind:     d.Kind,
			Name:     d.Name,
			Subject:  d.Subject,
			Expr:     d.Expr,
			Line:     d.Line,
			Col:      d.Col,
			Offset:   d.Offset,
			FuncName: d.FuncName,
			Hash:     store.ComputeDirectiveHash(filepath.Dir(item.path), d.Kind, d.Name, d.Subject, d.Expr),
		}); err != nil {
			return fmt.Errorf("buffer directive: %w", err)
		}
	}
	return nil
}

// collectDirectiveErrors flattens a joined extraction error. It reports
// false if err carries anything other than malformed directives.
func collectDirectiveErrors(err error, out *[]*extract.DirectiveError) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if !collectDirectiveErrors(inner, out) {
				return false
			}
		}
		return true
	}
	var de *extract.DirectiveError
	if errors.As(err, &de) {
		*out = append(*out, de)
		return true
	}
	return false
}
