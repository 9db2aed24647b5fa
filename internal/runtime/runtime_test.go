package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/dataflow"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/syntax"
	"github.com/jward/arbor/internal/term"
)

// toyAnalysis analyzes Module([decl...], [ref...]) ASTs: every declaration
// goes into the file scope and every reference must resolve.
const toyAnalysis = `
func scope() {
	return appl("Scope", source)
}

if phase == "initial" {
	emit(initial_result(tuple(), [], config(["P"])))
} else if phase == "unit" {
	ast := args[0]
	cs := []
	for i, d := range ast["args"][0] {
		cs.append(appl("CGDecl", scope(), appl("Occurrence", "Var", d, i)))
	}
	for i, r := range ast["args"][1] {
		ref := appl("Occurrence", "Var", r, 100 + i)
		cs.append(appl("CGRef", ref, scope()))
		cs.append(appl("CResolve", ref, fresh("d"), message("error", "Unresolved reference " + r)))
	}
	emit(unit_result(ast, cs))
} else {
	emit(final_result())
}
`

const toyCustom = `
if phase == "final" {
	emit(custom_solution([message("warning", "custom check")]))
} else {
	emit(nil)
}
`

const toyFlow = `
if request == "properties" {
	emit([{"name": "reach", "lattice": "union", "initial": []}])
} else {
	out := []
	for _, x := range input {
		out.append(x)
	}
	out.append(node)
	emit(out)
}
`

func module(decls, refs []string) term.Term {
	var ds, rs []term.Term
	for _, d := range decls {
		ds = append(ds, term.String(d))
	}
	for _, r := range refs {
		rs = append(rs, term.String(r))
	}
	return term.Appl("Module", term.List(ds...), term.List(rs...))
}

func TestBridgeRoundTrip(t *testing.T) {
	t.Parallel()

	origin := &term.Origin{Resource: "/p/a.toy", StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 9}
	in := term.Appl("CEqual",
		term.Var("/p/a.toy", "x"),
		term.Tuple(term.Int(1), term.String("s")),
		term.List(term.Appl("Leaf", term.String("v")).WithOrigin(origin)),
	)

	out, err := FromObject(ToObject(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(out), "got %s", out)
	require.NotNil(t, out.Args[2].Args[0].Origin)
	assert.Equal(t, *origin, *out.Args[2].Args[0].Origin)
}

func TestFromObjectRejectsNonTerms(t *testing.T) {
	t.Parallel()

	_, err := FromObject(object.NewMap(map[string]object.Object{"name": object.NewString("x")}))
	assert.Error(t, err)

	_, err = FromObject(object.NewFloat(1.5))
	assert.Error(t, err)

	got, err := FromObject(object.Nil)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestRunSource_HostFunctions(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("")
	obj, err := rt.RunSource(context.Background(), `
emit(appl("CEqual", x, 1, message("error", "bad", tuple())))
`, map[string]any{"x": ToObject(term.Var("/p/a.toy", "x"))})
	require.NoError(t, err)

	got, err := FromObject(obj)
	require.NoError(t, err)
	want := term.Appl("CEqual", term.Var("/p/a.toy", "x"), term.Int(1),
		term.Appl("Message", term.String("error"), term.String("bad"), term.Tuple()))
	assert.True(t, want.Equal(got), "got %s", got)
}

func TestRunSource_Occurrence(t *testing.T) {
	t.Parallel()

	origin := &term.Origin{Resource: "/p/a.toy", StartLine: 3, StartCol: 7, EndLine: 3, EndCol: 8}
	node := term.Appl("identifier", term.String("x")).WithOrigin(origin)

	rt := NewRuntime("")
	obj, err := rt.RunSource(context.Background(), `
assert(text(node) == "x")
emit(occurrence("Var", node))
`, map[string]any{"node": ToObject(node)})
	require.NoError(t, err)

	got, err := FromObject(obj)
	require.NoError(t, err)
	want := term.Appl("Occurrence", term.String("Var"), term.String("x"),
		term.Appl("Pos", term.Int(3), term.Int(7)))
	assert.True(t, want.Equal(got), "got %s", got)
	require.NotNil(t, got.Origin)
	assert.Equal(t, 3, got.Origin.StartLine)
}

func TestRunSource_TreeWalk(t *testing.T) {
	t.Parallel()

	ast := term.Appl("source_file",
		term.Appl("function_declaration", term.Appl("identifier", term.String("f"))),
		term.Appl("function_declaration", term.Appl("identifier", term.String("g"))))

	rt := NewRuntime("")
	obj, err := rt.RunSource(context.Background(), `
names := []
for _, decl := range args_of(ast) {
	if op_of(decl) == "function_declaration" {
		names.append(text(args_of(decl)[0]))
	}
}
assert(op_of("leaf") == nil)
assert(len(args_of("leaf")) == 0)
assert(len(args_of(tuple(1, 2))) == 2)
emit(names)
`, map[string]any{"ast": ToObject(ast)})
	require.NoError(t, err)

	got, err := FromObject(obj)
	require.NoError(t, err)
	assert.True(t, term.List(term.String("f"), term.String("g")).Equal(got), "got %s", got)
}

func TestRunSource_Errors(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("")
	ctx := context.Background()

	_, err := rt.RunSource(ctx, `x := 1`, nil)
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = rt.RunSource(ctx, `emit(appl(1))`, nil)
	assert.Error(t, err)

	_, err = rt.RunSource(ctx, `emit(unit_result(1))`, nil)
	assert.Error(t, err, "unit_result takes two arguments")
}

func TestRunScript_LoadsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(`emit(1 + 1)`), 0o644))

	rt := NewRuntime(dir)
	obj, err := rt.RunScript(context.Background(), "test.risor", nil)
	require.NoError(t, err)
	n, ok := obj.(*object.Int)
	require.True(t, ok)
	assert.Equal(t, int64(2), n.Value())
	assert.True(t, rt.HasScript("test.risor"))
	assert.False(t, rt.HasScript("missing.risor"))
}

func TestRunScript_MissingFile(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(t.TempDir())
	_, err := rt.RunScript(context.Background(), "nonexistent.risor", nil)
	assert.Error(t, err)
}

func TestRunScript_FSImport(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"scope_helpers.risor": &fstest.MapFile{Data: []byte(`
func file_scope(src) {
	return appl("Scope", src)
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(fsys))
	obj, err := rt.RunSource(context.Background(), `
import scope_helpers
emit(scope_helpers.file_scope("/p/a.toy"))
`, nil)
	require.NoError(t, err)

	got, err := FromObject(obj)
	require.NoError(t, err)
	assert.True(t, term.Appl("Scope", term.String("/p/a.toy")).Equal(got))
}

func toyFS(withCustom, withFlow bool) fstest.MapFS {
	fsys := fstest.MapFS{
		"analysis/toy.risor": &fstest.MapFile{Data: []byte(toyAnalysis)},
	}
	if withCustom {
		fsys["analysis/toy_custom.risor"] = &fstest.MapFile{Data: []byte(toyCustom)}
	}
	if withFlow {
		fsys["flow/toy.risor"] = &fstest.MapFile{Data: []byte(toyFlow)}
	}
	return fsys
}

func TestScriptActions_Analyze(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(toyFS(false, false)))
	lctx := langctx.New("/p", "toy", langctx.Config{})
	changed := []*syntax.ParseUnit{
		{Source: "/p/a.toy", Language: "toy", AST: module([]string{"x"}, []string{"x"}), Success: true},
		{Source: "/p/b.toy", Language: "toy", AST: module(nil, []string{"nope"}), Success: true},
	}

	res, err := analysis.New(NewScriptActions(rt)).Analyze(context.Background(), changed, nil, lctx)
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	assert.True(t, res.Files[0].Success)
	assert.Empty(t, res.Files[0].Messages)

	assert.False(t, res.Files[1].Success)
	require.Len(t, res.Files[1].Messages, 1)
	assert.Equal(t, "Unresolved reference nope", res.Files[1].Messages[0].Message)
}

func TestScriptActions_Optional(t *testing.T) {
	t.Parallel()

	lctx := langctx.New("/p", "toy", langctx.Config{})

	acts, err := NewScriptActions(NewRuntime("", WithRuntimeFS(toyFS(false, false)))).Actions(context.Background(), lctx)
	require.NoError(t, err)
	assert.Nil(t, acts.CustomFinal)
	assert.Nil(t, acts.Transfers)

	acts, err = NewScriptActions(NewRuntime("", WithRuntimeFS(toyFS(true, true)))).Actions(context.Background(), lctx)
	require.NoError(t, err)
	assert.NotNil(t, acts.CustomInitial)
	assert.NotNil(t, acts.CustomUnit)
	assert.NotNil(t, acts.CustomFinal)
	assert.NotNil(t, acts.Transfers)

	_, err = NewScriptActions(NewRuntime("", WithRuntimeFS(fstest.MapFS{}))).Actions(context.Background(), lctx)
	assert.ErrorIs(t, err, ErrNoScript)
}

func TestScriptActions_CustomSolution(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(toyFS(true, false)))
	lctx := langctx.New("/p", "toy", langctx.Config{})
	changed := []*syntax.ParseUnit{
		{Source: "/p/a.toy", Language: "toy", AST: module([]string{"x"}, nil), Success: true},
	}

	res, err := analysis.New(NewScriptActions(rt)).Analyze(context.Background(), changed, nil, lctx)
	require.NoError(t, err)
	fr := res.Files[0]
	assert.True(t, fr.Success, "warnings do not fail a file")
	require.Len(t, fr.Messages, 1)
	assert.Equal(t, "custom check", fr.Messages[0].Message)
	assert.NotNil(t, lctx.Unit("/p/a.toy").CustomSolution)
}

func TestScriptActions_FlowTransfers(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(toyFS(false, true)))
	lctx := langctx.New("/p", "toy", langctx.Config{})
	acts, err := NewScriptActions(rt).Actions(context.Background(), lctx)
	require.NoError(t, err)

	props, err := acts.Transfers(context.Background(), "/p/a.toy")
	require.NoError(t, err)
	require.Len(t, props, 1)
	p := props[0]
	assert.Equal(t, "reach", p.Name)
	assert.Equal(t, dataflow.Forward, p.Direction)
	assert.IsType(t, dataflow.Union{}, p.Lattice)

	out, err := p.Transfer(context.Background(), term.String("n2"), term.List(term.String("n1")))
	require.NoError(t, err)
	assert.True(t, term.List(term.String("n1"), term.String("n2")).Equal(out), "got %s", out)
}
