package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// ErrNoResult is returned when a script finishes without calling emit.
var ErrNoResult = errors.New("script emitted no result")

// Runtime embeds a Risor VM and provides term-building host functions to
// analysis, dataflow and transform scripts.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger routes the scripts' log object to l.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime loading scripts from scriptsDir.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller. It returns the value the
// script passed to emit.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) (object.Object, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals. Useful for testing without script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (object.Object, error) {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	var result object.Object
	globals := r.buildGlobals(extraGlobals)
	globals["emit"] = object.NewBuiltin("emit", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit", 1, len(args))
		}
		result = args[0]
		return object.Nil
	})

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	if result == nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, ErrNoResult)
	}
	if e, ok := result.(*object.Error); ok {
		return nil, fmt.Errorf("runtime: script %s: %w", label, e.Value())
	}
	return result, nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(r.fullPath(path))
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", r.fullPath(path), err)
	}
	return string(data), nil
}

// HasScript reports whether the script exists.
func (r *Runtime) HasScript(path string) bool {
	if r.fsys != nil {
		_, err := fs.Stat(r.fsys, strings.TrimPrefix(filepath.ToSlash(path), "/"))
		return err == nil
	}
	if r.scriptsDir == "" && !filepath.IsAbs(path) {
		return false
	}
	_, err := os.Stat(r.fullPath(path))
	return err == nil
}

func (r *Runtime) fullPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.scriptsDir, path)
}

// AnalysisScriptPath returns the path of a language's phase actions.
func AnalysisScriptPath(language string) string {
	return filepath.Join("analysis", language+".risor")
}

// CustomScriptPath returns the path of a language's optional custom actions.
func CustomScriptPath(language string) string {
	return filepath.Join("analysis", language+"_custom.risor")
}

// FlowScriptPath returns the path of a language's dataflow properties.
func FlowScriptPath(language string) string {
	return filepath.Join("flow", language+".risor")
}

// TransformScriptPath returns the path of a language's transform script.
func TransformScriptPath(language string) string {
	return filepath.Join("transform", language+".risor")
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"appl":            makeApplFn(),
		"tuple":           makeTupleFn(),
		"text":            makeTextFn(),
		"op_of":           makeOpFn(),
		"args_of":         makeArgsFn(),
		"message":         makeMessageFn(),
		"occurrence":      makeOccurrenceFn(),
		"config":          makeConfigFn(),
		"initial_result":  makeShapeFn("initial_result", "InitialResult", 2, 3),
		"unit_result":     makeShapeFn("unit_result", "UnitResult", 2, 2),
		"final_result":    makeShapeFn("final_result", "FinalResult", 0, -1),
		"custom_solution": makeShapeFn("custom_solution", "CustomSolution", 1, 1),
		"log":             mustProxy(&logObject{logger: r.logger}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
