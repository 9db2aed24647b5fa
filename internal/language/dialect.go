package language

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jward/arbor/internal/resource"
)

// DefaultDialectExt is the extension of dialect descriptors.
const DefaultDialectExt = ".dialect"

// Descriptor is the TOML content of a dialect descriptor:
//
//	name = "gox"
//	base = "go"
//	extensions = [".gox"]
//	grammar = "go"
type Descriptor struct {
	Name       string   `toml:"name"`
	Base       string   `toml:"base"`
	Extensions []string `toml:"extensions"`
	Grammar    string   `toml:"grammar"`
}

var (
	ErrUnknownBase    = errors.New("unknown base language")
	ErrUnknownGrammar = errors.New("unknown grammar")
)

// DialectProcessor keeps a Registry in sync with dialect descriptors.
type DialectProcessor struct {
	registry *Registry
	text     resource.TextSource
	ext      string
}

// NewDialectProcessor returns a processor for descriptors with extension ext
// (DefaultDialectExt when empty).
func NewDialectProcessor(reg *Registry, text resource.TextSource, ext string) *DialectProcessor {
	if ext == "" {
		ext = DefaultDialectExt
	}
	return &DialectProcessor{registry: reg, text: text, ext: strings.ToLower(ext)}
}

// IsDescriptor reports whether id is a dialect descriptor.
func (p *DialectProcessor) IsDescriptor(id resource.ID) bool {
	return strings.ToLower(filepath.Ext(string(id))) == p.ext
}

// Update applies descriptor changes in order. A failing descriptor leaves any
// dialect it registered earlier removed; the remaining changes still apply.
// It returns one error per failing descriptor.
func (p *DialectProcessor) Update(ctx context.Context, changes []resource.Change) []error {
	var errs []error
	for _, c := range changes {
		if c.Kind == resource.Delete {
			p.registry.removeDialect(c.Resource)
			continue
		}
		d, err := p.load(ctx, c.Resource)
		if err != nil {
			p.registry.removeDialect(c.Resource)
			errs = append(errs, fmt.Errorf("dialect %s: %w", c.Resource, err))
			continue
		}
		p.registry.registerDialect(c.Resource, d)
	}
	return errs
}

func (p *DialectProcessor) load(ctx context.Context, id resource.ID) (*Language, error) {
	data, err := p.text.Text(ctx, id)
	if err != nil {
		return nil, err
	}
	var desc Descriptor
	if _, err := toml.Decode(string(data), &desc); err != nil {
		return nil, err
	}
	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(string(id)), filepath.Ext(string(id)))
	}
	if _, ok := p.registry.Get(desc.Base); !ok || desc.Base == "" {
		return nil, fmt.Errorf("%w %q", ErrUnknownBase, desc.Base)
	}
	d := &Language{
		Name:        desc.Name,
		Base:        desc.Base,
		GrammarName: desc.Grammar,
	}
	for _, ext := range desc.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.Extensions = append(d.Extensions, ext)
	}
	if _, ok := d.Grammar(); !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownGrammar, desc.Grammar)
	}
	return d, nil
}
