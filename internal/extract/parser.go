package extract

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// Parser wraps tree-sitter for AST parsing.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a parser bound to a language registry.
func NewParser(registry *LanguageRegistry) *Parser {
	return &Parser{parser: sitter.NewParser(), registry: registry}
}

// Parse parses source and returns a converted AST.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	grammar, ok := p.registry.Grammar(language)
	if !ok {
		return nil, llmcerr.Newf(llmcerr.KindUnsupportedLanguage, "no grammar for %q", language)
	}
	p.parser.SetLanguage(grammar)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindParseError, "tree-sitter parse", err)
	}
	if tsTree == nil {
		return nil, llmcerr.New(llmcerr.KindParseError, "tree-sitter returned nil tree")
	}

	root := convertNode(tsTree.RootNode())
	if root != nil && root.HasError {
		return nil, llmcerr.New(llmcerr.KindParseError, "syntax errors in source")
	}
	return &Tree{Root: root, Source: source, Language: language}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// Tree is a parsed AST decoupled from tree-sitter's lifetime.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is one AST node.
type Node struct {
	Type       string
	FieldNames map[string]int // field name -> child index
	StartByte  uint32
	EndByte    uint32
	StartRow   uint32 // 0-indexed
	EndRow     uint32
	Children   []*Node
	HasError   bool
}

func convertNode(ts *sitter.Node) *Node {
	if ts == nil {
		return nil
	}
	n := &Node{
		Type:      ts.Type(),
		StartByte: ts.StartByte(),
		EndByte:   ts.EndByte(),
		StartRow:  ts.StartPoint().Row,
		EndRow:    ts.EndPoint().Row,
		HasError:  ts.HasError(),
		Children:  make([]*Node, 0, int(ts.ChildCount())),
	}
	for i := 0; i < int(ts.ChildCount()); i++ {
		child := ts.Child(i)
		if child == nil {
			continue
		}
		converted := convertNode(child)
		if field := ts.FieldNameForChild(i); field != "" {
			if n.FieldNames == nil {
				n.FieldNames = make(map[string]int)
			}
			n.FieldNames[field] = len(n.Children)
		}
		n.Children = append(n.Children, converted)
	}
	return n
}

// Content returns the source slice for a node.
func (n *Node) Content(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// Field returns the child bound to a tree-sitter field name.
func (n *Node) Field(name string) *Node {
	idx, ok := n.FieldNames[name]
	if !ok || idx >= len(n.Children) {
		return nil
	}
	return n.Children[idx]
}

// FindChildByType returns the first direct child of the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindAllByType recursively collects nodes of the given type.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	if n.Type == nodeType {
		result = append(result, n)
	}
	for _, child := range n.Children {
		result = append(result, child.FindAllByType(nodeType)...)
	}
	return result
}

// Walk traverses depth-first; fn returning false prunes the subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
