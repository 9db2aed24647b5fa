// Package langctx owns analysis contexts: the exclusive, per-language state
// shared by every file analyzed together.
package langctx

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jward/arbor/internal/constraint"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/solver"
)

// DebugConfig gates progress logging in the analyzer.
type DebugConfig struct {
	Analysis   bool `koanf:"analysis"`
	Files      bool `koanf:"files"`
	Collection bool `koanf:"collection"`
	Resolution bool `koanf:"resolution"`
	Timing     bool `koanf:"timing"`
}

// Config is the per-context configuration threaded into analysis.
type Config struct {
	Debug DebugConfig
	// OutDir is where transform output is written.
	OutDir string
}

// Unit is the analyzer state for one file. It is only touched while the
// owning Context is locked.
type Unit struct {
	Source resource.ID
	// UnitResult is the Unit phase result, kept even when later phases fail.
	UnitResult     *constraint.UnitResult
	Solution       *solver.Solution
	FinalResult    *constraint.FinalResult
	CustomSolution *constraint.CustomSolution
}

// Clear drops all phase results.
func (u *Unit) Clear() {
	u.UnitResult = nil
	u.Solution = nil
	u.FinalResult = nil
	u.CustomSolution = nil
}

// Context is an exclusive unit of analysis state for one language under one location.
type Context struct {
	id       string
	language string
	location string
	config   Config

	lock sync.Mutex

	mu    sync.Mutex
	units map[resource.ID]*Unit

	fresh atomic.Uint64
}

func newContext(location, language string, cfg Config) *Context {
	return &Context{
		id:       uuid.NewString(),
		language: language,
		location: location,
		config:   cfg,
		units:    make(map[resource.ID]*Unit),
	}
}

// New creates a standalone Context, mainly for tests and embedding.
func New(location, language string, cfg Config) *Context {
	return newContext(location, language, cfg)
}

func (c *Context) ID() string       { return c.id }
func (c *Context) Language() string { return c.language }
func (c *Context) Location() string { return c.location }
func (c *Context) Config() Config   { return c.config }

// Lock acquires the context for analysis and compilation. It is not reentrant.
func (c *Context) Lock() { c.lock.Lock() }

func (c *Context) Unlock() { c.lock.Unlock() }

// Unit returns the unit for src, creating it if needed.
func (c *Context) Unit(src resource.ID) *Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.units[src]
	if !ok {
		u = &Unit{Source: src}
		c.units[src] = u
	}
	return u
}

// HasUnit reports whether src has a unit.
func (c *Context) HasUnit(src resource.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.units[src]
	return ok
}

// RemoveUnit evicts the unit for src.
func (c *Context) RemoveUnit(src resource.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.units, src)
}

// Units returns the sources that currently have units.
func (c *Context) Units() []resource.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]resource.ID, 0, len(c.units))
	for id := range c.units {
		out = append(out, id)
	}
	return out
}

// Fresh returns a name never returned before by this context.
func (c *Context) Fresh(base string) string {
	n := c.fresh.Add(1)
	return base + "-" + strconv.FormatUint(n, 10)
}

// Clean drops all units. The fresh-name counter keeps running so names stay
// unique for the context's lifetime.
func (c *Context) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units = make(map[resource.ID]*Unit)
}
