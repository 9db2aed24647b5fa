// Package resource models the files a build works on and the changes made to them.
package resource

import (
	"context"
	"fmt"
	"os"
)

// ID identifies a resource. Builders use cleaned absolute paths.
type ID string

func (id ID) String() string { return string(id) }

// ChangeKind is what happened to a resource.
type ChangeKind uint8

const (
	Add ChangeKind = iota
	Modify
	Delete
)

func (k ChangeKind) String() string {
	switch k {
	case Add:
		return "add"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Change is one entry of an ordered change batch.
type Change struct {
	Resource ID
	Kind     ChangeKind
}

// Supersede collapses a batch so each resource appears once. The entry keeps
// the position of its first occurrence and the kind of its last, so
// Delete(f) followed by Add(f) becomes a single Add(f).
func Supersede(changes []Change) []Change {
	pos := make(map[ID]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := pos[c.Resource]; ok {
			out[i].Kind = c.Kind
			continue
		}
		pos[c.Resource] = len(out)
		out = append(out, c)
	}
	return out
}

// TextSource reads the current text of a resource.
type TextSource interface {
	Text(ctx context.Context, id ID) ([]byte, error)
}

// FileText reads resources from the local filesystem.
type FileText struct{}

func (FileText) Text(ctx context.Context, id ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(string(id))
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", id, err)
	}
	return data, nil
}

// MapText serves resource text from memory. Missing entries are errors.
type MapText map[ID][]byte

func (m MapText) Text(_ context.Context, id ID) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("resource: %s: %w", id, os.ErrNotExist)
	}
	return data, nil
}
