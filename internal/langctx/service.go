package langctx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jward/arbor/internal/resource"
)

// ProjectFile marks a nested project root. Resources below it get their own
// contexts.
const ProjectFile = "arbor.toml"

var ErrNoRoot = errors.New("resource is outside every registered location")

type key struct {
	location string
	language string
}

// Service maps (resource, language) to a Context, creating contexts lazily.
type Service struct {
	config Config

	mu       sync.Mutex
	roots    []string
	contexts map[key]*Context
	// projects caches whether a directory holds a ProjectFile.
	projects map[string]bool
}

func NewService(cfg Config) *Service {
	return &Service{
		config:   cfg,
		contexts: make(map[key]*Context),
		projects: make(map[string]bool),
	}
}

// AddRoot registers a build location.
func (s *Service) AddRoot(location string) {
	location = filepath.Clean(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.roots, location) {
		s.roots = append(s.roots, location)
	}
}

// Get returns the context for res in language. The location is the nearest
// directory holding a ProjectFile inside the deepest registered root that
// contains res, or that root itself.
func (s *Service) Get(res resource.ID, language string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.rootOf(string(res))
	if root == "" {
		return nil, fmt.Errorf("langctx: %s: %w", res, ErrNoRoot)
	}
	loc := s.projectOf(root, string(res))
	k := key{location: loc, language: language}
	c, ok := s.contexts[k]
	if !ok {
		c = newContext(loc, language, s.config)
		s.contexts[k] = c
	}
	return c, nil
}

// Contexts returns every live context.
func (s *Service) Contexts() []*Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	return out
}

// Clean cleans c under its lock and forgets it, so the next Get builds a new context.
func (s *Service) Clean(c *Context) {
	c.Lock()
	c.Clean()
	c.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{location: c.location, language: c.language}
	if s.contexts[k] == c {
		delete(s.contexts, k)
	}
	for dir := range s.projects {
		if within(c.location, dir) {
			delete(s.projects, dir)
		}
	}
}

func (s *Service) rootOf(path string) string {
	best := ""
	for _, r := range s.roots {
		if within(r, path) && len(r) > len(best) {
			best = r
		}
	}
	return best
}

func (s *Service) projectOf(root, path string) string {
	for dir := filepath.Dir(path); within(root, dir) && dir != root; dir = filepath.Dir(dir) {
		if s.hasProjectFile(dir) {
			return dir
		}
	}
	return root
}

func (s *Service) hasProjectFile(dir string) bool {
	if v, ok := s.projects[dir]; ok {
		return v
	}
	_, err := os.Stat(filepath.Join(dir, ProjectFile))
	s.projects[dir] = err == nil
	return err == nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
