package language

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/arbor/internal/resource"
)

func TestIdentify(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"main.go", "go", true},
		{"app.TS", "typescript", true},
		{"lib.py", "python", true},
		{"README.md", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			l, ok := reg.Identify(resource.ID(tt.path))
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, l.Name)
			}
		})
	}
}

func TestBuiltinGrammars(t *testing.T) {
	for _, l := range Builtins() {
		g, ok := l.Grammar()
		assert.True(t, ok, l.Name)
		assert.NotNil(t, g, l.Name)
	}
	_, ok := GrammarFor("cobol")
	assert.False(t, ok)
}

func TestDialectLifecycle(t *testing.T) {
	reg := NewRegistry()
	text := resource.MapText{
		"/p/gox.dialect": []byte(`
name = "gox"
base = "go"
extensions = ["gox", ".GX"]
`),
	}
	proc := NewDialectProcessor(reg, text, "")
	assert.True(t, proc.IsDescriptor("/p/gox.dialect"))
	assert.False(t, proc.IsDescriptor("/p/gox.go"))

	errs := proc.Update(context.Background(), []resource.Change{{Resource: "/p/gox.dialect", Kind: resource.Add}})
	require.Empty(t, errs)

	l, ok := reg.Identify("/p/main.gox")
	require.True(t, ok)
	assert.Equal(t, "gox", l.Name)
	assert.True(t, l.IsDialect())

	base, ok := reg.BaseOf(l)
	require.True(t, ok)
	assert.Equal(t, "go", base.Name)

	_, ok = reg.Identify("/p/x.gx")
	assert.True(t, ok)

	g, ok := l.Grammar()
	require.True(t, ok)
	goGrammar, _ := GrammarFor("go")
	assert.Equal(t, goGrammar, g)

	errs = proc.Update(context.Background(), []resource.Change{{Resource: "/p/gox.dialect", Kind: resource.Delete}})
	require.Empty(t, errs)
	_, ok = reg.Identify("/p/main.gox")
	assert.False(t, ok)
	assert.Empty(t, reg.Dialects())
}

func TestDialectErrors(t *testing.T) {
	reg := NewRegistry()
	text := resource.MapText{
		"/p/bad.dialect":     []byte(`name = "bad"` + "\n" + `base = "cobol"`),
		"/p/broken.dialect":  []byte(`name = [`),
		"/p/grammar.dialect": []byte("base = \"go\"\nextensions = [\".g2\"]\ngrammar = \"nope\""),
		"/p/ok.dialect":      []byte("base = \"javascript\"\nextensions = [\".jsx2\"]\ngrammar = \"tsx\""),
	}
	proc := NewDialectProcessor(reg, text, ".dialect")
	errs := proc.Update(context.Background(), []resource.Change{
		{Resource: "/p/bad.dialect", Kind: resource.Add},
		{Resource: "/p/broken.dialect", Kind: resource.Add},
		{Resource: "/p/grammar.dialect", Kind: resource.Add},
		{Resource: "/p/missing.dialect", Kind: resource.Modify},
		{Resource: "/p/ok.dialect", Kind: resource.Add},
	})
	require.Len(t, errs, 4)
	assert.ErrorIs(t, errs[0], ErrUnknownBase)
	assert.ErrorIs(t, errs[2], ErrUnknownGrammar)

	l, ok := reg.Identify("/p/a.jsx2")
	require.True(t, ok)
	assert.Equal(t, "ok", l.Name, "name defaults to the descriptor file name")
}
