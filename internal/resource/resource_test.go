package resource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupersede(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []Change
		want []Change
	}{
		{
			name: "delete then add collapses",
			in:   []Change{{"f", Delete}, {"g", Modify}, {"f", Add}},
			want: []Change{{"f", Add}, {"g", Modify}},
		},
		{
			name: "add then delete keeps delete",
			in:   []Change{{"f", Add}, {"f", Delete}},
			want: []Change{{"f", Delete}},
		},
		{
			name: "empty",
			in:   nil,
			want: []Change{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Supersede(tt.in))
		})
	}
}

func TestIgnored(t *testing.T) {
	ig := NewIgnorer()
	loc := filepath.FromSlash("/work/proj")
	assert.True(t, ig.Ignored(loc, ID(filepath.Join(loc, "node_modules", "x.js"))))
	assert.True(t, ig.Ignored(loc, ID(filepath.Join(loc, ".git", "HEAD"))))
	assert.False(t, ig.Ignored(loc, ID(filepath.Join(loc, "src", "main.go"))))
	assert.False(t, ig.Ignored(loc, ID(filepath.Join(loc, ".hidden.go"))))
	assert.False(t, ig.Ignored(loc, ID(filepath.FromSlash("/elsewhere/vendor/a.go"))))

	custom := NewIgnorer("gen")
	assert.True(t, custom.Ignored(loc, ID(filepath.Join(loc, "gen", "a.go"))))
	assert.False(t, custom.Ignored(loc, ID(filepath.Join(loc, "vendor", "a.go"))))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	write("b.go")
	write("pkg/a.go")
	write("vendor/dep.go")
	write(".cache/x.go")

	ids, err := NewIgnorer().List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []ID{ID(filepath.Join(dir, "b.go")), ID(filepath.Join(dir, "pkg", "a.go"))}, ids)
}

func TestListCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewIgnorer().List(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTextSources(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	data, err := FileText{}.Text(context.Background(), ID(p))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = FileText{}.Text(context.Background(), ID(filepath.Join(dir, "missing")))
	assert.ErrorIs(t, err, os.ErrNotExist)

	m := MapText{"a": []byte("x")}
	data, err = m.Text(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
	_, err = m.Text(context.Background(), "b")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
