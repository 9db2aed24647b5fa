// Package transform runs a language's transform script over analyzed files
// and writes the emitted outputs.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/runtime"
)

// DefaultGoal is the goal used when none is configured.
const DefaultGoal = "compile"

var ErrBadOutput = errors.New("transform output must be {path, content}")

// Output is one file written by a transform.
type Output struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// Result is the outcome of transforming one file.
type Result struct {
	Source   resource.ID   `json:"source"`
	Goal     string        `json:"goal"`
	Outputs  []Output      `json:"outputs"`
	Duration time.Duration `json:"duration"`
}

type Option func(*Backend)

func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Backend transforms files with transform/{lang}.risor. The script sees the
// globals goal, source, name (the base name of source), language and ast,
// and emits either one {"path": ..., "content": ...} map or a list of them.
// Paths are relative to the output directory.
type Backend struct {
	rt     *runtime.Runtime
	outDir string
	logger *slog.Logger
}

func New(rt *runtime.Runtime, outDir string, opts ...Option) *Backend {
	b := &Backend{
		rt:     rt,
		outDir: outDir,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Available reports whether the context's language has a transform script.
func (b *Backend) Available(goal string, lctx *langctx.Context) bool {
	return b.rt.HasScript(runtime.TransformScriptPath(lctx.Language()))
}

// Transform runs the transform script over fr. Every failure is returned as
// a *diag.TransformError.
func (b *Backend) Transform(ctx context.Context, fr *analysis.FileResult, lctx *langctx.Context, goal string) (*Result, error) {
	start := time.Now()
	fail := func(err error) (*Result, error) {
		return nil, &diag.TransformError{Resource: string(fr.Source), Goal: goal, Err: err}
	}

	obj, err := b.rt.RunScript(ctx, runtime.TransformScriptPath(lctx.Language()), map[string]any{
		"goal":     object.NewString(goal),
		"source":   object.NewString(string(fr.Source)),
		"name":     object.NewString(filepath.Base(string(fr.Source))),
		"language": object.NewString(lctx.Language()),
		"ast":      runtime.ToObject(fr.AST),
	})
	if err != nil {
		return fail(err)
	}

	var items []object.Object
	switch o := obj.(type) {
	case *object.List:
		items = o.Value()
	case *object.Map:
		items = []object.Object{o}
	default:
		return fail(fmt.Errorf("%w: got %s", ErrBadOutput, obj.Type()))
	}

	res := &Result{Source: fr.Source, Goal: goal}
	for _, item := range items {
		out, err := b.write(item)
		if err != nil {
			return fail(err)
		}
		res.Outputs = append(res.Outputs, out)
	}
	res.Duration = time.Since(start)
	b.logger.Debug("transformed", "source", fr.Source, "goal", goal, "outputs", len(res.Outputs))
	return res, nil
}

func (b *Backend) write(item object.Object) (Output, error) {
	m, ok := item.(*object.Map)
	if !ok {
		return Output{}, fmt.Errorf("%w: got %s", ErrBadOutput, item.Type())
	}
	path, ok := m.Value()["path"].(*object.String)
	if !ok {
		return Output{}, ErrBadOutput
	}
	content, ok := m.Value()["content"].(*object.String)
	if !ok {
		return Output{}, ErrBadOutput
	}
	rel := filepath.FromSlash(path.Value())
	if !filepath.IsLocal(rel) {
		return Output{}, fmt.Errorf("output path %q escapes the output directory", path.Value())
	}
	dst := filepath.Join(b.outDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Output{}, fmt.Errorf("creating output dir: %w", err)
	}
	data := []byte(content.Value())
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("writing output: %w", err)
	}
	return Output{Path: dst, Bytes: len(data)}, nil
}
