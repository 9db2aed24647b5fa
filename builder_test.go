package arbor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/store"
	"github.com/jward/arbor/internal/syntax"
	"github.com/jward/arbor/internal/term"
	"github.com/jward/arbor/internal/transform"
)

// collectGo finds the declared functions and the calls to plain
// identifiers of a Go AST.
func collectGo(t term.Term, decls, refs *[]term.Term) {
	switch {
	case t.IsAppl("function_declaration", -1):
		*decls = append(*decls, t.Args[0])
	case t.IsAppl("call_expression", -1) && t.Args[0].IsAppl("identifier", 1):
		*refs = append(*refs, t.Args[0])
	}
	for _, a := range t.Args {
		collectGo(a, decls, refs)
	}
}

func goOccurrence(ident term.Term) term.Term {
	pos := int64(0)
	if ident.Origin != nil {
		pos = int64(ident.Origin.StartLine*10000 + ident.Origin.StartCol)
	}
	return term.Appl("Occurrence", term.String("Var"), ident.Args[0], term.Int(pos))
}

// goActions resolves every call in a file against the functions declared
// in the same file.
func goActions() *analysis.Actions {
	return &analysis.Actions{
		Initial: func(_ context.Context, c analysis.Call) (term.Term, error) {
			return term.Appl("InitialResult", term.Tuple(), term.List(), term.Appl("Config", term.List(term.String("P")))), nil
		},
		Unit: func(_ context.Context, c analysis.Call) (term.Term, error) {
			ast := c.Args[0]
			scope := term.Appl("Scope", term.String(string(c.Source)))
			var decls, refs []term.Term
			collectGo(ast, &decls, &refs)
			var cs []term.Term
			for _, d := range decls {
				cs = append(cs, term.Appl("CGDecl", scope, goOccurrence(d)))
			}
			for _, r := range refs {
				ref := goOccurrence(r)
				cs = append(cs,
					term.Appl("CGRef", ref, scope),
					term.Appl("CResolve", ref, term.Var(string(c.Source), c.Fresh("d")),
						term.Appl("Message", term.String("error"), term.String("Unresolved function "+r.Args[0].Str), term.Empty())))
			}
			return term.Appl("UnitResult", ast, term.List(cs...)), nil
		},
		Final: func(_ context.Context, c analysis.Call) (term.Term, error) {
			return term.Appl("FinalResult"), nil
		},
	}
}

func provide(a *analysis.Actions) analysis.ActionsProvider {
	return analysis.ActionsFunc(func(context.Context, *langctx.Context) (*analysis.Actions, error) { return a, nil })
}

// fakeBackend records transform calls and fails for the listed resources.
type fakeBackend struct {
	mu          sync.Mutex
	unavailable bool
	fail        map[resource.ID]bool
	calls       []resource.ID
}

func (f *fakeBackend) Available(string, *langctx.Context) bool { return !f.unavailable }

func (f *fakeBackend) Transform(_ context.Context, fr *analysis.FileResult, _ *langctx.Context, goal string) (*transform.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fr.Source)
	if f.fail[fr.Source] {
		return nil, &diag.TransformError{Resource: string(fr.Source), Goal: goal, Err: errors.New("backend broke")}
	}
	return &transform.Result{Source: fr.Source, Goal: goal}, nil
}

func (f *fakeBackend) called() []resource.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.calls)
	slices.Sort(out)
	return out
}

// recordingCache records cache operations as "op path" strings.
type recordingCache struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingCache) add(op string, id resource.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+" "+filepath.Base(string(id)))
	return nil
}

func (r *recordingCache) Invalidate(id resource.ID) error { return r.add("invalidate", id) }
func (r *recordingCache) Error(id resource.ID, _ error) error { return r.add("error", id) }
func (r *recordingCache) Remove(id resource.ID) error { return r.add("remove", id) }

type recordingParseCache struct{ *recordingCache }

func (r recordingParseCache) Update(id resource.ID, _ *syntax.ParseUnit) error {
	return r.add("update", id)
}

type recordingAnalysisCache struct{ *recordingCache }

func (r recordingAnalysisCache) Update(id resource.ID, _ string, _ *analysis.FileResult) error {
	return r.add("update", id)
}

type testEnv struct {
	b       *Builder
	dir     string
	backend *fakeBackend
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir(), backend: &fakeBackend{}}
	base := []Option{WithActions(provide(goActions())), WithBackend(env.backend)}
	b, err := New(filepath.Join(t.TempDir(), "test.db"), t.TempDir(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	env.b = b
	return env
}

func (e *testEnv) write(t *testing.T, name, content string) resource.ID {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return resource.ID(path)
}

func (e *testEnv) build(t *testing.T, changes ...Change) *BuildOutput {
	t.Helper()
	out, err := e.b.Build(context.Background(), e.dir, changes)
	require.NoError(t, err)
	return out
}

func goSource(funcs string, calls ...string) string {
	body := ""
	for _, c := range calls {
		body += "\t" + c + "()\n"
	}
	return fmt.Sprintf("package p\n\nfunc %s() {\n%s}\n", funcs, body)
}

func (e *testEnv) context(t *testing.T, id resource.ID) *langctx.Context {
	t.Helper()
	lctx, err := e.b.contexts.Get(id, "go")
	require.NoError(t, err)
	return lctx
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/dir/db.sqlite", t.TempDir())
	require.Error(t, err)
}

func TestBuild_EmptyChangeSet(t *testing.T) {
	env := newTestEnv(t)
	out := env.build(t)
	assert.Empty(t, out.Removed)
	assert.Empty(t, out.Changed)
	assert.Empty(t, out.AnalysisResults)
	assert.Empty(t, out.Messages)
	assert.False(t, out.Interrupted)
	assert.NotEmpty(t, out.BuildID)
}

func TestBuild_FailureIsolation(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			env := newTestEnv(t, WithParallel(parallel))
			a := env.write(t, "a.go", goSource("a", "a"))
			bad := env.write(t, "b.go", goSource("b", "nope"))
			c := env.write(t, "c.go", goSource("c"))

			out := env.build(t, Change{Resource: a, Kind: Add}, Change{Resource: bad, Kind: Add}, Change{Resource: c, Kind: Add})
			require.Len(t, out.AnalysisResults, 3)
			assert.ElementsMatch(t, []resource.ID{a, bad, c}, out.Changed)
			assert.Empty(t, out.Removed)

			assert.True(t, out.Result(a).Success)
			assert.True(t, out.Result(c).Success)
			failed := out.Result(bad)
			assert.False(t, failed.Success)
			require.Len(t, failed.Messages.Errors(), 1)
			assert.Equal(t, "Unresolved function nope", failed.Messages.Errors()[0].Message)

			assert.Equal(t, []resource.ID{a, c}, env.backend.called())
			assert.Len(t, out.TransformResults, 2)
			assert.False(t, out.Succeeded())
		})
	}
}

func TestBuild_DeleteThenAddCollapses(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.go", goSource("a"))
	env.build(t, Change{Resource: a, Kind: Add})

	env.write(t, "a.go", goSource("renamed", "renamed"))
	out := env.build(t, Change{Resource: a, Kind: Delete}, Change{Resource: a, Kind: Add})

	assert.Empty(t, out.Removed)
	assert.Equal(t, []resource.ID{a}, out.Changed)
	fr := out.Result(a)
	require.NotNil(t, fr)
	assert.True(t, fr.Success)
	assert.Contains(t, fr.AST.String(), "renamed")
	assert.True(t, env.context(t, a).HasUnit(a))
}

func TestBuild_RemovalEvicts(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.go", goSource("a"))
	b := env.write(t, "b.go", goSource("b"))
	env.build(t, Change{Resource: a, Kind: Add}, Change{Resource: b, Kind: Add})
	require.True(t, env.context(t, b).HasUnit(b))

	require.NoError(t, os.Remove(string(b)))
	out := env.build(t, Change{Resource: b, Kind: Modify}, Change{Resource: b, Kind: Delete})

	assert.Equal(t, []resource.ID{b}, out.Removed)
	assert.Empty(t, out.Changed)
	assert.Empty(t, out.AnalysisResults)
	assert.Len(t, env.backend.called(), 2, "removed files are not compiled")
	assert.False(t, env.context(t, b).HasUnit(b))
	assert.True(t, env.context(t, a).HasUnit(a))

	rec, err := env.b.Store().AnalysisResult(string(b))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBuild_ParseFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.go", goSource("a"))
	missing := resource.ID(filepath.Join(env.dir, "missing.go"))

	out := env.build(t, Change{Resource: missing, Kind: Modify}, Change{Resource: a, Kind: Modify})

	assert.ElementsMatch(t, []resource.ID{missing, a}, out.Changed)
	require.Len(t, out.Messages, 1)
	m := out.Messages[0]
	assert.Equal(t, string(missing), m.Resource)
	assert.Equal(t, diag.KindParse, m.Kind)
	assert.Equal(t, diag.Error, m.Severity)
	var pe *diag.ParseError
	assert.ErrorAs(t, m.Cause, &pe)

	require.Len(t, out.AnalysisResults, 1)
	assert.True(t, out.AnalysisResults[0].Success)

	rec, err := env.b.Store().ParseResult(string(missing))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.StateError, rec.State)
}

func TestBuild_FatalErrorIsolatesContext(t *testing.T) {
	acts := goActions()
	provider := analysis.ActionsFunc(func(_ context.Context, lctx *langctx.Context) (*analysis.Actions, error) {
		if lctx.Language() == "python" {
			return nil, errors.New("no python support")
		}
		return acts, nil
	})
	rec := &recordingCache{}
	env := newTestEnv(t, WithActions(provider),
		WithCaches(recordingParseCache{&recordingCache{}}, recordingAnalysisCache{rec}))
	a := env.write(t, "a.go", goSource("a"))
	py := env.write(t, "x.py", "def f():\n    pass\n")

	out := env.build(t, Change{Resource: py, Kind: Add}, Change{Resource: a, Kind: Add})

	require.Len(t, out.AnalysisResults, 1)
	assert.Equal(t, a, out.AnalysisResults[0].Source)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "Analysis failed.", out.Messages[0].Message)
	var fe *diag.FatalError
	assert.ErrorAs(t, out.Messages[0].Cause, &fe)
	assert.Equal(t, []resource.ID{a}, env.backend.called())
	assert.Contains(t, rec.ops, "error x.py")
	assert.Contains(t, rec.ops, "update a.go")
}

func TestBuild_TransformFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.go", goSource("a"))
	b := env.write(t, "b.go", goSource("b"))
	env.backend.fail = map[resource.ID]bool{a: true}

	out := env.build(t, Change{Resource: a, Kind: Add}, Change{Resource: b, Kind: Add})

	assert.Equal(t, []resource.ID{a, b}, env.backend.called())
	require.Len(t, out.TransformResults, 1)
	assert.Equal(t, b, out.TransformResults[0].Source)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, diag.KindTransform, out.Messages[0].Kind)
	assert.Equal(t, string(a), out.Messages[0].Resource)

	ds, err := env.b.Query().Messages(MessageFilter{Path: string(a), Stage: store.StageTransform})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "error", ds[0].Severity)
}

func TestBuild_NothingToCompile(t *testing.T) {
	env := newTestEnv(t)
	env.backend.unavailable = true
	a := env.write(t, "a.go", goSource("a"))

	out := env.build(t, Change{Resource: a, Kind: Add})
	assert.Len(t, out.AnalysisResults, 1)
	assert.Empty(t, out.TransformResults)
	assert.Empty(t, env.backend.called())
}

func TestBuild_SkipsIgnoredAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	hidden := env.write(t, ".git/x.go", goSource("x"))
	vendored := env.write(t, "vendor/v.go", goSource("v"))
	readme := env.write(t, "README.md", "# hi\n")

	out := env.build(t,
		Change{Resource: hidden, Kind: Add},
		Change{Resource: vendored, Kind: Add},
		Change{Resource: readme, Kind: Add},
	)
	assert.Empty(t, out.Changed)
	assert.Empty(t, out.Messages)
	assert.Empty(t, out.ParseResults)
}

func TestBuild_RelativePaths(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "sub/a.go", goSource("a"))

	out := env.build(t, Change{Resource: "sub/a.go", Kind: Add})
	assert.Equal(t, []resource.ID{a}, out.Changed)
}

func TestBuild_Dialect(t *testing.T) {
	env := newTestEnv(t)
	desc := env.write(t, "mini.dialect", "name = \"gomini\"\nbase = \"go\"\nextensions = [\".gom\"]\n")
	src := env.write(t, "a.gom", goSource("a", "a"))

	out := env.build(t, Change{Resource: desc, Kind: Add}, Change{Resource: src, Kind: Add})
	require.Empty(t, out.Messages)
	require.Len(t, out.ParseResults, 1)
	pu := out.ParseResults[0]
	assert.Equal(t, "go", pu.Language)
	assert.Equal(t, "gomini", pu.Dialect)
	require.Len(t, out.AnalysisResults, 1)
	assert.True(t, out.AnalysisResults[0].Success)
	assert.True(t, env.context(t, src).HasUnit(src), "dialects are analyzed in the base language context")

	// Removing the descriptor unregisters the dialect.
	out = env.build(t, Change{Resource: desc, Kind: Delete}, Change{Resource: src, Kind: Modify})
	assert.Empty(t, out.Changed)
}

func TestBuild_BadDialectDescriptor(t *testing.T) {
	env := newTestEnv(t)
	desc := env.write(t, "bad.dialect", "base = \"cobol\"\n")

	out := env.build(t, Change{Resource: desc, Kind: Add})
	require.Len(t, out.Messages, 1)
	assert.Equal(t, diag.KindBuilder, out.Messages[0].Kind)
	assert.Equal(t, diag.Error, out.Messages[0].Severity)
}

func TestBuild_CacheProtocol(t *testing.T) {
	parse, analyses := &recordingCache{}, &recordingCache{}
	env := newTestEnv(t, WithParallel(false),
		WithCaches(recordingParseCache{parse}, recordingAnalysisCache{analyses}))
	a := env.write(t, "a.go", goSource("a"))
	b := env.write(t, "b.go", goSource("b"))
	env.build(t, Change{Resource: a, Kind: Add}, Change{Resource: b, Kind: Add})

	require.NoError(t, os.Remove(string(b)))
	env.build(t, Change{Resource: a, Kind: Modify}, Change{Resource: b, Kind: Delete})

	assert.Equal(t, []string{
		"invalidate a.go", "invalidate b.go", "update a.go", "update b.go",
		"invalidate a.go", "update a.go", "remove b.go",
	}, parse.ops)
	assert.Equal(t, []string{
		"invalidate a.go", "invalidate b.go", "update a.go", "update b.go",
		"invalidate a.go", "remove b.go", "update a.go",
	}, analyses.ops)
}

func TestBuild_ContextExclusivity(t *testing.T) {
	var active, overlaps atomic.Int32
	acts := goActions()
	unit := acts.Unit
	acts.Unit = func(ctx context.Context, c analysis.Call) (term.Term, error) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer active.Add(-1)
		time.Sleep(5 * time.Millisecond)
		return unit(ctx, c)
	}
	env := newTestEnv(t, WithActions(provide(acts)))
	var changes []Change
	for i := range 5 {
		id := env.write(t, fmt.Sprintf("f%d.go", i), goSource(fmt.Sprintf("f%d", i)))
		changes = append(changes, Change{Resource: id, Kind: Add})
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.b.Build(context.Background(), env.dir, changes)
			assert.NoError(t, err)
			assert.Len(t, out.AnalysisResults, 5)
		}()
	}
	wg.Wait()
	assert.Zero(t, overlaps.Load(), "analysis of one context must not interleave")
}

func TestBuild_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acts := goActions()
	unit := acts.Unit
	acts.Unit = func(c context.Context, call analysis.Call) (term.Term, error) {
		if filepath.Base(string(call.Source)) == "b.go" {
			cancel()
		}
		return unit(c, call)
	}
	env := newTestEnv(t, WithActions(provide(acts)), WithParallel(false))
	a := env.write(t, "a.go", goSource("a"))
	b := env.write(t, "b.go", goSource("b"))
	c := env.write(t, "c.go", goSource("c"))

	out, err := env.b.Build(ctx, env.dir, []Change{{Resource: a, Kind: Add}, {Resource: b, Kind: Add}, {Resource: c, Kind: Add}})
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	require.Len(t, out.AnalysisResults, 1)
	assert.Equal(t, a, out.AnalysisResults[0].Source)
	assert.Empty(t, env.backend.called())

	builds, err := env.b.Query().Builds(1)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.True(t, builds[0].Interrupted)
}

// cancellingText cancels the build while reading the given resource.
type cancellingText struct {
	at     resource.ID
	cancel context.CancelFunc
}

func (c cancellingText) Text(ctx context.Context, id resource.ID) ([]byte, error) {
	if id == c.at {
		c.cancel()
		return nil, ctx.Err()
	}
	return resource.FileText{}.Text(ctx, id)
}

func TestBuild_CancellationDuringParse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	a := resource.ID(filepath.Join(dir, "a.go"))
	require.NoError(t, os.WriteFile(string(a), []byte(goSource("a")), 0o644))

	parse, analyses := &recordingCache{}, &recordingCache{}
	env := newTestEnv(t, WithParallel(false), WithTextSource(cancellingText{at: a, cancel: cancel}),
		WithCaches(recordingParseCache{parse}, recordingAnalysisCache{analyses}))
	out, err := env.b.Build(ctx, dir, []Change{{Resource: a, Kind: Add}})
	require.NoError(t, err)

	assert.True(t, out.Interrupted)
	assert.Empty(t, out.Changed)
	assert.Empty(t, out.AllMessages())
	assert.True(t, out.Succeeded())
	assert.Equal(t, []string{"invalidate a.go"}, parse.ops)
	assert.NotContains(t, analyses.ops, "error a.go")
}

func TestBuild_PersistsResults(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.go", goSource("a"))
	bad := env.write(t, "b.go", goSource("b", "nope"))

	out := env.build(t, Change{Resource: a, Kind: Add}, Change{Resource: bad, Kind: Add})

	q := env.b.Query()
	status, err := q.Status("")
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, string(a), status[0].Path)
	assert.True(t, status[0].Success)
	assert.Equal(t, store.StateValid, status[0].Parse)
	assert.Equal(t, store.StateValid, status[0].Analysis)
	assert.False(t, status[1].Success)
	assert.Equal(t, 1, status[1].Errors)

	res, err := q.Result(string(a))
	require.NoError(t, err)
	require.NotNil(t, res.AST)
	assert.True(t, res.AST.IsAppl("source_file", -1))

	ds, err := q.Messages(MessageFilter{Path: string(bad), Stage: store.StageAnalysis})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "Unresolved function nope", ds[0].Message)
	assert.Equal(t, out.BuildID, ds[0].BuildID)

	builds, err := q.Builds(0)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, 2, builds[0].Changed)
	assert.Equal(t, 1, builds[0].Errors)
	assert.NotNil(t, builds[0].FinishedAt)
}

func TestSources(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.go", goSource("a"))
	env.write(t, ".git/HEAD", "ref")

	changes, err := env.b.Sources(context.Background(), env.dir)
	require.NoError(t, err)
	assert.Equal(t, []Change{{Resource: a, Kind: Add}}, changes)
}

func TestClean(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.go", goSource("a"))
	env.build(t, Change{Resource: a, Kind: Add})
	before := env.context(t, a)
	require.True(t, before.HasUnit(a))

	require.NoError(t, env.b.Clean(context.Background(), env.dir))

	assert.False(t, before.HasUnit(a))
	assert.NotSame(t, before, env.context(t, a))
	rec, err := env.b.Store().AnalysisResult(string(a))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestScriptsChanged(t *testing.T) {
	fsys := fstest.MapFS{
		"analysis/go.risor": {Data: []byte(`emit(final_result())`)},
	}
	env := newTestEnv(t, WithScriptsFS(fsys))
	assert.True(t, env.b.ScriptsChanged(), "first use")

	a := env.write(t, "a.go", goSource("a"))
	env.build(t, Change{Resource: a, Kind: Add})
	assert.False(t, env.b.ScriptsChanged())

	fsys["analysis/go.risor"] = &fstest.MapFile{Data: []byte(`emit(final_result(1))`)}
	assert.True(t, env.b.ScriptsChanged())
}
