// Package syntax turns source text into term ASTs with tree-sitter.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fortio.org/safecast"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/language"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/term"
)

var ErrNoGrammar = errors.New("no grammar")

// ParseUnit is the immutable result of parsing one resource.
type ParseUnit struct {
	Source   resource.ID
	Language string
	Dialect  string
	AST      term.Term
	// Success is false when the parser had to recover from syntax errors.
	Success bool
	// Empty marks the sentinel unit produced for removed resources.
	Empty    bool
	Messages diag.Messages
	Duration time.Duration
}

// Service is the syntax service used by the builder.
type Service struct{}

func NewService() *Service { return &Service{} }

// EmptyParseUnit returns the sentinel unit for a removed resource.
func (s *Service) EmptyParseUnit(id resource.ID, lang, dialect *language.Language) *ParseUnit {
	return &ParseUnit{
		Source:   id,
		Language: lang.Name,
		Dialect:  nameOf(dialect),
		AST:      term.Empty(),
		Success:  true,
		Empty:    true,
	}
}

// Parse parses text with the dialect's grammar when one is given, else with
// lang's. Syntax errors the parser recovers from become warnings on the unit;
// only an unusable grammar or a failed parse returns a *diag.ParseError.
func (s *Service) Parse(ctx context.Context, text []byte, id resource.ID, lang, dialect *language.Language) (*ParseUnit, error) {
	start := time.Now()
	grammarOf := lang
	if dialect != nil {
		grammarOf = dialect
	}
	g, ok := grammarOf.Grammar()
	if !ok {
		return nil, &diag.ParseError{Resource: string(id), Language: grammarOf.Name, Err: ErrNoGrammar}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g)

	tree, err := parser.ParseCtx(ctx, nil, text)
	if err != nil {
		return nil, &diag.ParseError{Resource: string(id), Language: grammarOf.Name, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	c := &converter{src: text, resource: string(id)}
	ast := c.convert(root)
	if c.err != nil {
		return nil, &diag.ParseError{Resource: string(id), Language: grammarOf.Name, Err: c.err}
	}

	return &ParseUnit{
		Source:   id,
		Language: lang.Name,
		Dialect:  nameOf(dialect),
		AST:      ast,
		Success:  !root.HasError(),
		Messages: c.messages,
		Duration: time.Since(start),
	}, nil
}

func nameOf(l *language.Language) string {
	if l == nil {
		return ""
	}
	return l.Name
}

type converter struct {
	src      []byte
	resource string
	messages diag.Messages
	err      error
}

// convert maps a named node to Appl(type, children...). Nodes without named
// children become Appl(type, String(text)).
func (c *converter) convert(n *sitter.Node) term.Term {
	origin := c.origin(n)
	switch {
	case n.IsMissing():
		c.recovery(n, fmt.Sprintf("missing %s", n.Type()), origin)
	case n.IsError():
		c.recovery(n, "syntax error", origin)
	}

	var args []term.Term
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.IsNamed() {
			args = append(args, c.convert(child))
			continue
		}
		if child.IsMissing() {
			c.recovery(child, fmt.Sprintf("missing %q", child.Type()), c.origin(child))
		}
	}
	if len(args) == 0 {
		return term.Appl(n.Type(), term.String(n.Content(c.src))).WithOrigin(origin)
	}
	return term.Appl(n.Type(), args...).WithOrigin(origin)
}

func (c *converter) recovery(n *sitter.Node, msg string, o *term.Origin) {
	d := diag.AtTop(c.resource, diag.Warning, diag.KindParse, msg, nil)
	if o != nil {
		d.Region = &diag.Region{StartLine: o.StartLine, StartCol: o.StartCol, EndLine: o.EndLine, EndCol: o.EndCol}
	}
	c.messages = append(c.messages, d)
}

func (c *converter) origin(n *sitter.Node) *term.Origin {
	sp, ep := n.StartPoint(), n.EndPoint()
	sl, err1 := safecast.Conv[int](sp.Row)
	sc, err2 := safecast.Conv[int](sp.Column)
	el, err3 := safecast.Conv[int](ep.Row)
	ec, err4 := safecast.Conv[int](ep.Column)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		if c.err == nil {
			c.err = err
		}
		return nil
	}
	return &term.Origin{
		Resource:  c.resource,
		StartLine: sl + 1,
		StartCol:  sc + 1,
		EndLine:   el + 1,
		EndCol:    ec + 1,
	}
}
