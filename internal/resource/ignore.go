package resource

import (
	"context"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultIgnoredDirs are never treated as managed sources.
var DefaultIgnoredDirs = []string{".git", "node_modules", "vendor", "__pycache__", "target", "bin"}

// Ignorer decides which paths are outside the managed source tree.
type Ignorer struct {
	dirs map[string]bool
}

// NewIgnorer returns an Ignorer for the given directory names. With no
// names it uses DefaultIgnoredDirs.
func NewIgnorer(dirs ...string) *Ignorer {
	if len(dirs) == 0 {
		dirs = DefaultIgnoredDirs
	}
	ig := &Ignorer{dirs: make(map[string]bool, len(dirs))}
	for _, d := range dirs {
		ig.dirs[d] = true
	}
	return ig
}

// Ignored reports whether id lies in an ignored or hidden directory below
// location. Resources outside location are never ignored.
func (ig *Ignorer) Ignored(location string, id ID) bool {
	rel, err := filepath.Rel(location, string(id))
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts[:len(parts)-1] {
		if ig.SkipDir(p) {
			return true
		}
	}
	return false
}

// SkipDir reports whether a directory with this name is never descended into.
func (ig *Ignorer) SkipDir(name string) bool {
	if ig.dirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// List returns every file below location that is not ignored, sorted.
func (ig *Ignorer) List(ctx context.Context, location string) ([]ID, error) {
	var ids []ID
	err := filepath.WalkDir(location, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != location && ig.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			ids = append(ids, ID(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}
