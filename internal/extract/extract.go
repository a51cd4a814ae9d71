package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

const commentQuery = `(comment) @comment`

// Extractor finds directive comments in Go source. Its methods are safe for
// concurrent use.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractFile reads path and extracts its directives.
func (x *Extractor) ExtractFile(ctx context.Context, path string) ([]Directive, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w", path, err)
	}
	ds, err := x.ExtractSource(ctx, src)
	if err != nil {
		return ds, fmt.Errorf("extract %s: %w", path, err)
	}
	return ds, nil
}

// ExtractSource extracts the directives in src in source order.
//
// Malformed directives do not stop extraction: the well-formed ones are
// returned together with an error joining one *DirectiveError per
// malformed comment.
func (x *Extractor) ExtractSource(ctx context.Context, src []byte) ([]Directive, error) {
	tree, err := Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	matches, err := Query(commentQuery, tree.RootNode(), src)
	if err != nil {
		return nil, err
	}

	var ds []Directive
	var errs []error
	for _, m := range matches {
		node := m["comment"]
		text := node.Content(src)
		if !strings.HasPrefix(text, Prefix) {
			continue
		}
		pt := node.StartPoint()
		d, err := ParseDirective(text)
		if err != nil {
			errs = append(errs, &DirectiveError{Line: int(pt.Row), Col: int(pt.Column), Text: text, Err: err})
			continue
		}
		d.Line = int(pt.Row)
		d.Col = int(pt.Column)
		d.Offset = int(node.StartByte())
		d.FuncName = EnclosingFunc(node, src)
		ds = append(ds, d)
	}
	return ds, errors.Join(errs...)
}
