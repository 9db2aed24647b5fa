package main_test

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles the arbor binary and returns the path.
// The binary is placed in t.TempDir() so it's cleaned up automatically.
func buildBinary(t *testing.T) string {
	t.Helper()
	binName := "arbor"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	bin := filepath.Join(t.TempDir(), binName)
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = filepath.Join(projectRoot(t), "cmd", "arbor")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(out))
	return bin
}

// projectRoot returns the root of the module by walking up from the test
// file's directory to find go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "could not find project root")
		dir = parent
	}
}

func writeFile(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// run executes the binary and decodes its JSON envelope. It returns the
// exit code.
func run(t *testing.T, bin string, into any, args ...string) int {
	t.Helper()
	cmd := exec.Command(bin, append(args, "--format", "json")...)
	cmd.Env = append(os.Environ(), "ARBOR_LOG__LEVEL=error")
	out, err := cmd.Output()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else {
		require.NoError(t, err)
	}
	if into != nil {
		require.NoError(t, json.Unmarshal(out, into), "output: %s", out)
	}
	return code
}

type buildEnvelope struct {
	Command string `json:"command"`
	Results struct {
		Changed  int      `json:"changed"`
		Removed  int      `json:"removed"`
		Errors   int      `json:"errors"`
		Warnings int      `json:"warnings"`
		Outputs  []string `json:"outputs"`
		Messages []struct {
			File     string `json:"file"`
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"messages"`
	} `json:"results"`
	Error string `json:"error"`
}

type statusEnvelope struct {
	Results []struct {
		Path     string `json:"path"`
		Language string `json:"language"`
		Analysis string `json:"analysis"`
		Errors   int    `json:"errors"`
		Warnings int    `json:"warnings"`
	} `json:"results"`
	TotalCount int `json:"total_count"`
}

func TestCLI_BuildStatusAndIncrementalRebuild(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	bin := buildBinary(t)
	dir := t.TempDir()
	main := writeFile(t, dir, "main.go", "package main\n\nfunc helper() {}\n\nfunc main() {\n\thelper()\n\tmissing()\n}\n")
	writeFile(t, dir, "util/util.py", "def f():\n    return 1\n")

	var b buildEnvelope
	code := run(t, bin, &b, "build", dir)
	assert.Equal(t, 0, code, "warnings do not fail the build")
	assert.Equal(t, "build", b.Command)
	assert.Equal(t, 2, b.Results.Changed)
	assert.Equal(t, 0, b.Results.Errors)
	assert.Equal(t, 1, b.Results.Warnings)
	require.Len(t, b.Results.Messages, 1)
	assert.Equal(t, main, b.Results.Messages[0].File)
	assert.Equal(t, "Unresolved function missing", b.Results.Messages[0].Message)
	assert.Equal(t, []string{filepath.Join(dir, ".arbor", "out", "main.go.outline")}, b.Results.Outputs)
	assert.FileExists(t, filepath.Join(dir, ".arbor", "arbor.db"))

	var s statusEnvelope
	require.Equal(t, 0, run(t, bin, &s, "status", "--dir", dir))
	require.Equal(t, 2, s.TotalCount)
	assert.Equal(t, main, s.Results[0].Path)
	assert.Equal(t, "go", s.Results[0].Language)
	assert.Equal(t, 1, s.Results[0].Warnings)
	assert.Equal(t, "python", s.Results[1].Language)

	// Break the python file and rebuild only it.
	writeFile(t, dir, "util/util.py", "def f():\n    return g()\n")
	b = buildEnvelope{}
	code = run(t, bin, &b, "build", dir, "--changed", "util/util.py")
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, b.Results.Changed)
	assert.Equal(t, 1, b.Results.Errors)

	var m struct {
		Results []struct {
			File     string `json:"file"`
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"results"`
	}
	require.Equal(t, 0, run(t, bin, &m, "messages", "--dir", dir, "--severity", "error"))
	require.Len(t, m.Results, 1)
	assert.Equal(t, "Unresolved name g", m.Results[0].Message)

	// Removing the file evicts its results.
	require.NoError(t, os.Remove(filepath.Join(dir, "util", "util.py")))
	b = buildEnvelope{}
	code = run(t, bin, &b, "build", dir, "--removed", "util/util.py")
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, b.Results.Removed)

	s = statusEnvelope{}
	require.Equal(t, 0, run(t, bin, &s, "status", "--dir", dir))
	assert.Equal(t, 1, s.TotalCount)
}

func TestCLI_QueryWithoutBuild(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	bin := buildBinary(t)
	dir := t.TempDir()

	var res struct {
		Error string `json:"error"`
	}
	code := run(t, bin, &res, "status", "--dir", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, res.Error, "database not found")
}
