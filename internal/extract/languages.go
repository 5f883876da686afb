package extract

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how one language's AST maps onto spans and
// references.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types producing function spans.
	FunctionTypes []string
	// Node types producing method spans.
	MethodTypes []string
	// Node types producing class spans.
	ClassTypes []string
	// Node types for import statements.
	ImportTypes []string
	// Node type for call expressions.
	CallType string
	// Node type for assignment targets (writes edges, best-effort).
	AssignType string
}

// LanguageRegistry maps languages and file extensions to configs and
// tree-sitter grammars.
type LanguageRegistry struct {
	mu        sync.RWMutex
	configs   map[string]*LanguageConfig
	extToLang map[string]string
	grammars  map[string]*sitter.Language
}

// DefaultRegistry returns a registry with Go, Python, JavaScript and
// TypeScript registered.
func DefaultRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
		grammars:  make(map[string]*sitter.Language),
	}
	r.registerGo()
	r.registerPython()
	r.registerJavaScript()
	r.registerTypeScript()
	return r
}

// ByExtension resolves a language config from a file extension.
func (r *LanguageRegistry) ByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Grammar returns the tree-sitter language for a language name.
func (r *LanguageRegistry) Grammar(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grammars[name]
	return g, ok
}

func (r *LanguageRegistry) register(cfg *LanguageConfig, grammar *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	r.grammars[cfg.Name] = grammar
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	r.register(&LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		ClassTypes:    []string{"type_declaration"},
		ImportTypes:   []string{"import_declaration"},
		CallType:      "call_expression",
		AssignType:    "assignment_statement",
	}, golang.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	r.register(&LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		MethodTypes:   nil, // methods are function_definitions nested in a class
		ClassTypes:    []string{"class_definition"},
		ImportTypes:   []string{"import_statement", "import_from_statement"},
		CallType:      "call",
		AssignType:    "assignment",
	}, python.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	cfg := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs", ".jsx"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ImportTypes:   []string{"import_statement"},
		CallType:      "call_expression",
		AssignType:    "assignment_expression",
	}
	r.register(cfg, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	ts := &LanguageConfig{
		Name:          "typescript",
		Extensions:    []string{".ts"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration", "interface_declaration"},
		ImportTypes:   []string{"import_statement"},
		CallType:      "call_expression",
		AssignType:    "assignment_expression",
	}
	r.register(ts, typescript.GetLanguage())

	tsxCfg := *ts
	tsxCfg.Name = "tsx"
	tsxCfg.Extensions = []string{".tsx"}
	r.register(&tsxCfg, tsx.GetLanguage())
}
