package extract

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// Language returns the tree-sitter Go grammar.
func Language() *sitter.Language {
	return golang.GetLanguage()
}

// Parse parses Go source with tree-sitter. Syntax errors do not fail the
// parse; they show up as ERROR nodes in the tree.
func Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(Language())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

// Match maps capture names to the nodes captured by one query match.
type Match map[string]*sitter.Node

// Query runs a tree-sitter query pattern under node. Predicates such as
// #match? and #eq? are applied against src.
func Query(pattern string, node *sitter.Node, src []byte) ([]Match, error) {
	q, err := sitter.NewQuery([]byte(pattern), Language())
	if err != nil {
		return nil, fmt.Errorf("invalid query pattern: %w", err)
	}
	defer q.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, node)

	var matches []Match
	for {
		m, ok := cursor.NextMatch()
		if !ok {
			break
		}
		m = cursor.FilterPredicates(m, src)
		if len(m.Captures) == 0 {
			continue
		}
		match := make(Match, len(m.Captures))
		for _, c := range m.Captures {
			match[q.CaptureNameForId(c.Index)] = c.Node
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// EnclosingFunc returns the name of the function or method declaration
// containing n, or "" at package scope. Methods are named like
// "(*Store).Close" or "Point.String". Function literals are skipped in
// favour of the declaration that contains them.
func EnclosingFunc(n *sitter.Node, src []byte) string {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "function_declaration":
			if name := p.ChildByFieldName("name"); name != nil {
				return name.Content(src)
			}
			return ""
		case "method_declaration":
			name := p.ChildByFieldName("name")
			if name == nil {
				return ""
			}
			recv := receiverType(p, src)
			switch {
			case recv == "":
				return name.Content(src)
			case recv[0] == '*':
				return "(" + recv + ")." + name.Content(src)
			default:
				return recv + "." + name.Content(src)
			}
		}
	}
	return ""
}

func receiverType(method *sitter.Node, src []byte) string {
	params := method.ChildByFieldName("receiver")
	if params == nil || params.NamedChildCount() == 0 {
		return ""
	}
	typ := params.NamedChild(0).ChildByFieldName("type")
	if typ == nil {
		return ""
	}
	return typ.Content(src)
}
