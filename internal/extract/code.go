package extract

import (
	"strings"
)

// codeExtractor walks an AST and emits spans for top-level declarations
// plus symbol references for the graph builder.
type codeExtractor struct {
	cfg    *LanguageConfig
	tree   *Tree
	source []byte

	spans      []*Span
	refs       []Ref
	unresolved int
}

func extractCode(tree *Tree, cfg *LanguageConfig) ([]*Span, []Ref, int) {
	ce := &codeExtractor{cfg: cfg, tree: tree, source: tree.Source}
	ce.walkScope(tree.Root, "", "")
	return ce.spans, ce.refs, ce.unresolved
}

// walkScope traverses nodes inside the scope owned by owner. class
// names nest as Class.method; owner "" is module level.
func (ce *codeExtractor) walkScope(n *Node, owner, class string) {
	for _, child := range n.Children {
		switch {
		case ce.isType(child, ce.cfg.FunctionTypes):
			ce.emitDeclaration(child, SpanKindFunction, class)
		case ce.isType(child, ce.cfg.MethodTypes):
			ce.emitDeclaration(child, SpanKindMethod, class)
		case ce.isType(child, ce.cfg.ClassTypes):
			ce.emitClass(child)
		case ce.isType(child, ce.cfg.ImportTypes):
			ce.emitImports(child)
		case child.Type == "decorated_definition":
			// Python decorators wrap the real definition.
			ce.walkScope(child, owner, class)
		default:
			ce.collectBodyRefs(child, owner)
		}
	}
}

func (ce *codeExtractor) isType(n *Node, types []string) bool {
	for _, t := range types {
		if n.Type == t {
			return true
		}
	}
	return false
}

// emitDeclaration produces a span for a function or method and scans
// its body for references.
func (ce *codeExtractor) emitDeclaration(n *Node, kind SpanKind, class string) {
	name := ce.declarationName(n)
	if name == "" {
		ce.unresolved++
		return
	}
	symbol := name
	if class != "" {
		symbol = class + "." + name
		if kind == SpanKindFunction {
			kind = SpanKindMethod
		}
	}

	start, end, raw := ce.spanText(n)
	ce.spans = append(ce.spans, newSpan(kind, symbol, start, end, raw, ContentTypeCode, ce.tree.Language))

	if ret := ce.returnType(n); ret != "" {
		ce.refs = append(ce.refs, Ref{Kind: RefReturns, From: symbol, To: ret, Line: start})
	}
	for _, child := range n.Children {
		ce.collectBodyRefs(child, symbol)
	}
}

// emitClass produces a class span, extends edges, and nested method
// spans.
func (ce *codeExtractor) emitClass(n *Node) {
	name := ce.declarationName(n)
	if name == "" {
		ce.unresolved++
		return
	}

	body := n.Field("body")
	if body == nil {
		body = n.FindChildByType("class_body")
	}
	if body == nil {
		body = n.FindChildByType("block")
	}

	// Spans must stay line-disjoint: the class span covers only the
	// header portion before its first nested declaration; methods get
	// their own spans.
	start, end, raw := ce.spanText(n)
	if body != nil {
		if cutLine, cutByte, ok := ce.firstNestedDecl(body); ok {
			end = cutLine - 1
			lineStart := int(n.StartByte)
			for lineStart > 0 && ce.source[lineStart-1] != '\n' {
				lineStart--
			}
			if cutByte > lineStart {
				raw = strings.TrimRight(string(ce.source[lineStart:cutByte]), "\n")
			}
		}
	}
	if end >= start {
		ce.spans = append(ce.spans, newSpan(SpanKindClass, name, start, end, raw, ContentTypeCode, ce.tree.Language))
	}

	for _, super := range ce.superclasses(n) {
		ce.refs = append(ce.refs, Ref{Kind: RefExtends, From: name, To: super, Line: start})
	}

	if body != nil {
		ce.walkScope(body, name, name)
	}
}

// firstNestedDecl locates the earliest declaration inside a class
// body, backed up over its doc comment lines. Returns the 1-indexed
// line and byte offset where the class header span must stop.
func (ce *codeExtractor) firstNestedDecl(body *Node) (line, byteOffset int, ok bool) {
	for _, child := range body.Children {
		n := child
		if ce.isType(n, ce.cfg.FunctionTypes) || ce.isType(n, ce.cfg.MethodTypes) ||
			ce.isType(n, ce.cfg.ClassTypes) || n.Type == "decorated_definition" {
			declLine, _, _ := ce.spanText(n)
			lineStart := int(n.StartByte)
			for lineStart > 0 && ce.source[lineStart-1] != '\n' {
				lineStart--
			}
			// Back up to the doc-comment start spanText accounted for.
			for l := int(n.StartRow) + 1; l > declLine && lineStart > 0; l-- {
				lineStart--
				for lineStart > 0 && ce.source[lineStart-1] != '\n' {
					lineStart--
				}
			}
			return declLine, lineStart, true
		}
	}
	return 0, 0, false
}

// emitImports records import edges at module level.
func (ce *codeExtractor) emitImports(n *Node) {
	line := int(n.StartRow) + 1
	targets := ce.importTargets(n)
	if len(targets) == 0 {
		ce.unresolved++
		return
	}
	for _, t := range targets {
		ce.refs = append(ce.refs, Ref{Kind: RefImports, From: "", To: t, Line: line})
	}
}

// importTargets lists the modules named by an import statement as
// dotted names. String sources (Go, JS/TS) are unquoted and slashes
// become dots so they line up with ModuleName output.
func (ce *codeExtractor) importTargets(n *Node) []string {
	var targets []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			targets = append(targets, name)
		}
	}

	// Python from-imports name the module explicitly; the imported
	// symbols are not modules and must not produce edges.
	if mod := n.Field("module_name"); mod != nil {
		add(strings.Trim(mod.Content(ce.source), "."))
		return targets
	}

	n.Walk(func(node *Node) bool {
		switch node.Type {
		case "dotted_name", "relative_import":
			// Python: import a.b / from .c import d
			add(strings.Trim(node.Content(ce.source), "."))
			return false
		case "aliased_import":
			// Python: import a.b as x - the target is still a.b.
			if name := node.Field("name"); name != nil {
				add(strings.Trim(name.Content(ce.source), "."))
			}
			return false
		case "interpreted_string_literal", "string", "string_literal":
			// Go import paths and JS/TS sources.
			text := strings.Trim(node.Content(ce.source), "\"'`")
			text = strings.TrimPrefix(text, "./")
			add(strings.ReplaceAll(strings.Trim(text, "/."), "/", "."))
			return false
		}
		return true
	})
	return targets
}

// collectBodyRefs scans a subtree for calls and data-flow references
// attributed to owner.
func (ce *codeExtractor) collectBodyRefs(n *Node, owner string) {
	n.Walk(func(node *Node) bool {
		// Nested declarations own their own references.
		if node != n && (ce.isType(node, ce.cfg.FunctionTypes) ||
			ce.isType(node, ce.cfg.MethodTypes) || ce.isType(node, ce.cfg.ClassTypes)) {
			return false
		}
		switch node.Type {
		case ce.cfg.CallType:
			if callee := ce.calleeName(node); callee != "" {
				ce.refs = append(ce.refs, Ref{Kind: RefCalls, From: owner, To: callee, Line: int(node.StartRow) + 1})
			} else {
				ce.unresolved++
			}
		case ce.cfg.AssignType:
			ce.collectAssignment(node, owner)
		}
		return true
	})
}

// collectAssignment emits best-effort reads/writes edges for a simple
// assignment. Complex targets are counted as unresolved, never fatal.
func (ce *codeExtractor) collectAssignment(n *Node, owner string) {
	left := n.Field("left")
	right := n.Field("right")
	if left == nil && len(n.Children) > 0 {
		left = n.Children[0]
	}
	line := int(n.StartRow) + 1

	if left != nil {
		switch left.Type {
		case "identifier", "attribute", "selector_expression", "member_expression":
			ce.refs = append(ce.refs, Ref{Kind: RefWrites, From: owner, To: ce.dottedName(left), Line: line})
		default:
			ce.unresolved++
		}
	}
	if right != nil && right.Type == "identifier" {
		ce.refs = append(ce.refs, Ref{Kind: RefReads, From: owner, To: right.Content(ce.source), Line: line})
	}
}

// declarationName extracts the declared symbol name.
func (ce *codeExtractor) declarationName(n *Node) string {
	if name := n.Field("name"); name != nil {
		return name.Content(ce.source)
	}
	// Go type_declaration wraps a type_spec carrying the name.
	if spec := n.FindChildByType("type_spec"); spec != nil {
		if name := spec.Field("name"); name != nil {
			return name.Content(ce.source)
		}
	}
	if id := n.FindChildByType("identifier"); id != nil {
		return id.Content(ce.source)
	}
	if id := n.FindChildByType("type_identifier"); id != nil {
		return id.Content(ce.source)
	}
	return ""
}

// spanText returns the 1-indexed line range and raw text of a
// declaration, including any directly preceding comment lines so a new
// docstring changes the hash.
func (ce *codeExtractor) spanText(n *Node) (startLine, endLine int, raw string) {
	startByte := int(n.StartByte)
	startLine = int(n.StartRow) + 1
	endLine = int(n.EndRow) + 1

	// Back up over contiguous comment lines.
	lineStart := startByte
	for lineStart > 0 && ce.source[lineStart-1] != '\n' {
		lineStart--
	}
	for lineStart > 0 {
		prevEnd := lineStart - 1
		prevStart := prevEnd
		for prevStart > 0 && ce.source[prevStart-1] != '\n' {
			prevStart--
		}
		trimmed := strings.TrimSpace(string(ce.source[prevStart:prevEnd]))
		if !strings.HasPrefix(trimmed, "//") && !strings.HasPrefix(trimmed, "#") {
			break
		}
		lineStart = prevStart
		startLine--
	}

	return startLine, endLine, string(ce.source[lineStart:n.EndByte])
}

// calleeName resolves the called expression to a dotted name.
func (ce *codeExtractor) calleeName(call *Node) string {
	fn := call.Field("function")
	if fn == nil && len(call.Children) > 0 {
		fn = call.Children[0]
	}
	if fn == nil {
		return ""
	}
	switch fn.Type {
	case "identifier", "attribute", "selector_expression", "member_expression", "field_expression":
		return ce.dottedName(fn)
	}
	return ""
}

// dottedName renders attribute/selector chains as a.b.c; anything with
// calls or subscripts inside is rejected.
func (ce *codeExtractor) dottedName(n *Node) string {
	text := n.Content(ce.source)
	if strings.ContainsAny(text, "()[]{} \n") {
		return ""
	}
	return text
}

// returnType extracts a declared return type, when present.
func (ce *codeExtractor) returnType(n *Node) string {
	if rt := n.Field("return_type"); rt != nil {
		return strings.TrimLeft(strings.TrimSpace(rt.Content(ce.source)), ": ")
	}
	if res := n.Field("result"); res != nil {
		return strings.TrimSpace(res.Content(ce.source))
	}
	return ""
}

// superclasses lists inheritance targets for a class declaration.
func (ce *codeExtractor) superclasses(n *Node) []string {
	var supers []string

	// Python: class C(Base1, Base2):
	if args := n.Field("superclasses"); args != nil {
		for _, child := range args.Children {
			if child.Type == "identifier" || child.Type == "attribute" {
				if name := ce.dottedName(child); name != "" {
					supers = append(supers, name)
				}
			}
		}
		return supers
	}

	// JS/TS: class C extends Base
	if heritage := n.FindChildByType("class_heritage"); heritage != nil {
		heritage.Walk(func(node *Node) bool {
			if node.Type == "identifier" || node.Type == "member_expression" {
				if name := ce.dottedName(node); name != "" {
					supers = append(supers, name)
				}
				return false
			}
			return true
		})
	}
	return supers
}
