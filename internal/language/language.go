// Package language identifies the language of a resource and keeps the
// dialects registered from dialect descriptors.
package language

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/jward/arbor/internal/resource"
)

// Language is a parseable language. A dialect is a Language with a Base; it
// is analyzed in its base language's context but parsed with its own grammar.
type Language struct {
	Name       string
	Extensions []string
	Base       string
	// GrammarName selects the tree-sitter grammar. Empty means Name, or
	// Base for dialects.
	GrammarName string
}

func (l *Language) IsDialect() bool { return l.Base != "" }

// Grammar returns the tree-sitter grammar used to parse l.
func (l *Language) Grammar() (*sitter.Language, bool) {
	name := l.GrammarName
	if name == "" {
		name = l.Name
		if l.IsDialect() {
			name = l.Base
		}
	}
	return GrammarFor(name)
}

// grammars maps grammar names to tree-sitter Language objects.
// Lazily initialized on first call via sync.Once.
var (
	grammars     map[string]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammars = map[string]*sitter.Language{
			"go":         golang.GetLanguage(),
			"typescript": ts.GetLanguage(),
			"tsx":        tsx.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"python":     python.GetLanguage(),
			"rust":       rust.GetLanguage(),
			"c":          c.GetLanguage(),
			"cpp":        cpp.GetLanguage(),
			"java":       java.GetLanguage(),
			"php":        php.GetLanguage(),
			"ruby":       ruby.GetLanguage(),
		}
	})
}

// GrammarFor returns the built-in grammar with the given name.
func GrammarFor(name string) (*sitter.Language, bool) {
	initGrammars()
	g, ok := grammars[name]
	return g, ok
}

// Builtins returns the languages known without any dialect descriptor.
func Builtins() []*Language {
	return []*Language{
		{Name: "go", Extensions: []string{".go"}},
		{Name: "typescript", Extensions: []string{".ts", ".tsx"}},
		{Name: "javascript", Extensions: []string{".js", ".jsx", ".mjs"}},
		{Name: "python", Extensions: []string{".py"}},
		{Name: "rust", Extensions: []string{".rs"}},
		{Name: "c", Extensions: []string{".c", ".h"}},
		{Name: "cpp", Extensions: []string{".cpp", ".cc", ".cxx", ".hpp"}},
		{Name: "java", Extensions: []string{".java"}},
		{Name: "php", Extensions: []string{".php"}},
		{Name: "ruby", Extensions: []string{".rb"}},
	}
}

// Registry is the language identifier and dialect service. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	langs    map[string]*Language
	byExt    map[string]*Language
	dialects map[string]*Language
	dialExt  map[string]*Language
	// sources maps a dialect descriptor to the dialect it registered.
	sources map[resource.ID]string
}

// NewRegistry returns a Registry holding the given languages, or Builtins
// when none are given.
func NewRegistry(langs ...*Language) *Registry {
	if len(langs) == 0 {
		langs = Builtins()
	}
	r := &Registry{
		langs:    make(map[string]*Language),
		byExt:    make(map[string]*Language),
		dialects: make(map[string]*Language),
		dialExt:  make(map[string]*Language),
		sources:  make(map[resource.ID]string),
	}
	for _, l := range langs {
		r.langs[l.Name] = l
		for _, ext := range l.Extensions {
			r.byExt[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Identify returns the language of id: a dialect when a registered dialect
// claims the extension, else a base language.
func (r *Registry) Identify(id resource.ID) (*Language, bool) {
	ext := strings.ToLower(filepath.Ext(string(id)))
	if ext == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.dialExt[ext]; ok {
		return d, true
	}
	l, ok := r.byExt[ext]
	return l, ok
}

// Get returns a base language or dialect by name.
func (r *Registry) Get(name string) (*Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.langs[name]; ok {
		return l, true
	}
	l, ok := r.dialects[name]
	return l, ok
}

// BaseOf returns the base language of l. A base language is its own base.
func (r *Registry) BaseOf(l *Language) (*Language, bool) {
	if !l.IsDialect() {
		return l, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	base, ok := r.langs[l.Base]
	return base, ok
}

// Names returns the base language names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.langs))
	for n := range r.langs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Dialects returns the registered dialects, sorted by name.
func (r *Registry) Dialects() []*Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Language, 0, len(r.dialects))
	for _, d := range r.dialects {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Language) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// registerDialect replaces whatever src registered before with d.
func (r *Registry) registerDialect(src resource.ID, d *Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(src)
	r.dialects[d.Name] = d
	for _, ext := range d.Extensions {
		r.dialExt[strings.ToLower(ext)] = d
	}
	r.sources[src] = d.Name
}

// removeDialect drops the dialect registered by src and reports whether there was one.
func (r *Registry) removeDialect(src resource.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(src)
}

func (r *Registry) removeLocked(src resource.ID) bool {
	name, ok := r.sources[src]
	if !ok {
		return false
	}
	delete(r.sources, src)
	if d, ok := r.dialects[name]; ok {
		for _, ext := range d.Extensions {
			if r.dialExt[strings.ToLower(ext)] == d {
				delete(r.dialExt, strings.ToLower(ext))
			}
		}
		delete(r.dialects, name)
	}
	return true
}
