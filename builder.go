package arbor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/language"
	"github.com/jward/arbor/internal/resource"
	arborrt "github.com/jward/arbor/internal/runtime"
	"github.com/jward/arbor/internal/store"
	"github.com/jward/arbor/internal/syntax"
	"github.com/jward/arbor/internal/transform"
)

// Backend compiles analyzed files.
type Backend interface {
	Available(goal string, lctx *langctx.Context) bool
	Transform(ctx context.Context, fr *analysis.FileResult, lctx *langctx.Context, goal string) (*transform.Result, error)
}

// Builder is the incremental build orchestrator. It classifies a batch of
// changes, parses the changed resources, analyzes them per context under
// the context's lock and compiles what analyzed cleanly.
//
// Build may be called concurrently. Calls touching the same context are
// serialized by that context's lock.
type Builder struct {
	store      *store.Store
	runtime    *arborrt.Runtime
	scriptsDir string
	scriptsFS  fs.FS
	outDir     string
	goal       string
	logger     *slog.Logger

	registry *language.Registry
	dialects *language.DialectProcessor
	ignorer  *resource.Ignorer
	text     resource.TextSource
	syntax   *syntax.Service
	contexts *langctx.Service
	analyzer *analysis.Analyzer
	backend  Backend

	actions       analysis.ActionsProvider
	parseCache    ParseCache
	analysisCache AnalysisCache

	debug      langctx.DebugConfig
	ignoreDirs []string
	dialectExt string

	// useParallel parses resources and analyzes contexts concurrently.
	useParallel bool
	workers     int
}

// Option configures a Builder.
type Option func(*Builder)

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithParallel controls the concurrent parse stage and concurrent analysis
// of independent contexts. Default true.
func WithParallel(parallel bool) Option {
	return func(b *Builder) { b.useParallel = parallel }
}

// WithWorkers bounds the concurrency used when parallel. Zero means NumCPU.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithScriptsFS loads Risor scripts from fsys instead of the scripts
// directory on disk, e.g. to embed them with go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(b *Builder) { b.scriptsFS = fsys }
}

// WithOutDir sets where transform output is written.
func WithOutDir(dir string) Option {
	return func(b *Builder) { b.outDir = dir }
}

// WithGoal sets the transform goal. Default transform.DefaultGoal.
func WithGoal(goal string) Option {
	return func(b *Builder) { b.goal = goal }
}

func WithDebug(d langctx.DebugConfig) Option {
	return func(b *Builder) { b.debug = d }
}

// WithIgnore replaces the directory names skipped during classification.
func WithIgnore(dirs ...string) Option {
	return func(b *Builder) { b.ignoreDirs = dirs }
}

// WithDialectExt sets the extension of dialect descriptors.
func WithDialectExt(ext string) Option {
	return func(b *Builder) { b.dialectExt = ext }
}

// WithRegistry replaces the built-in language registry.
func WithRegistry(r *language.Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// WithTextSource replaces reading resources from disk.
func WithTextSource(ts resource.TextSource) Option {
	return func(b *Builder) { b.text = ts }
}

// WithActions replaces the script-backed analysis actions.
func WithActions(p analysis.ActionsProvider) Option {
	return func(b *Builder) { b.actions = p }
}

// WithBackend replaces the script-backed transform backend.
func WithBackend(be Backend) Option {
	return func(b *Builder) { b.backend = be }
}

// WithCaches replaces the store-backed result caches.
func WithCaches(p ParseCache, a AnalysisCache) Option {
	return func(b *Builder) {
		b.parseCache = p
		b.analysisCache = a
	}
}

// New creates a Builder backed by a SQLite database at dbPath. Scripts are
// loaded from scriptsDir unless WithScriptsFS is given.
func New(dbPath string, scriptsDir string, opts ...Option) (*Builder, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("arbor: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("arbor: migrate: %w", err)
	}

	b := &Builder{
		store:       s,
		scriptsDir:  scriptsDir,
		goal:        transform.DefaultGoal,
		logger:      slog.New(slog.DiscardHandler),
		text:        resource.FileText{},
		syntax:      syntax.NewService(),
		useParallel: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers <= 0 {
		b.workers = runtime.NumCPU()
	}
	if b.registry == nil {
		b.registry = language.NewRegistry()
	}
	b.ignorer = resource.NewIgnorer(b.ignoreDirs...)
	b.dialects = language.NewDialectProcessor(b.registry, b.text, b.dialectExt)
	b.contexts = langctx.NewService(langctx.Config{Debug: b.debug, OutDir: b.outDir})

	rtOpts := []arborrt.RuntimeOption{arborrt.WithRuntimeLogger(b.logger)}
	if b.scriptsFS != nil {
		rtOpts = append(rtOpts, arborrt.WithRuntimeFS(b.scriptsFS))
	}
	b.runtime = arborrt.NewRuntime(scriptsDir, rtOpts...)
	if b.actions == nil {
		b.actions = arborrt.NewScriptActions(b.runtime)
	}
	if b.backend == nil {
		b.backend = transform.New(b.runtime, b.outDir, transform.WithLogger(b.logger))
	}
	b.analyzer = analysis.New(b.actions, analysis.WithLogger(b.logger))
	return b, nil
}

// Close releases the Builder's database resources.
func (b *Builder) Close() error {
	return b.store.Close()
}

// Store returns the underlying Store for direct access.
func (b *Builder) Store() *Store {
	return b.store
}

// Query returns a new QueryBuilder over the persisted results.
func (b *Builder) Query() *QueryBuilder {
	return &QueryBuilder{store: b.store}
}

// Registry returns the language registry, including registered dialects.
func (b *Builder) Registry() *language.Registry {
	return b.registry
}

// Ignored reports whether id is outside the managed tree below location.
func (b *Builder) Ignored(location string, id ResourceID) bool {
	return b.ignorer.Ignored(location, id)
}

// Sources lists every managed file below location as Add changes, for a
// full build.
func (b *Builder) Sources(ctx context.Context, location string) ([]Change, error) {
	ids, err := b.ignorer.List(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("arbor: list %s: %w", location, err)
	}
	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, Change{Resource: id, Kind: Add})
	}
	return changes, nil
}

const scriptsHashKey = "scripts_hash"

// scriptsHash computes a SHA-256 hash of all Risor scripts, sorted by path.
func (b *Builder) scriptsHash() string {
	var paths []string
	collect := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ".risor") {
			paths = append(paths, path)
		}
		return nil
	}
	if b.scriptsFS != nil {
		fs.WalkDir(b.scriptsFS, ".", collect)
	} else if b.scriptsDir != "" {
		filepath.WalkDir(b.scriptsDir, func(path string, d fs.DirEntry, err error) error {
			rel, relErr := filepath.Rel(b.scriptsDir, path)
			if relErr != nil {
				return nil
			}
			return collect(filepath.ToSlash(rel), d, err)
		})
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		src, err := b.runtime.LoadScript(p)
		if err != nil {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte(src))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ScriptsChanged reports whether the scripts differ from the ones used by
// the last build recorded in the database. It is true on first use. When
// true, the persisted results are stale and callers should rebuild fully.
func (b *Builder) ScriptsChanged() bool {
	stored, err := b.store.Metadata(scriptsHashKey)
	if err != nil || stored == "" {
		return true
	}
	return b.scriptsHash() != stored
}

func (b *Builder) storeScriptsHash() {
	if err := b.store.SetMetadata(scriptsHashKey, b.scriptsHash()); err != nil {
		b.logger.Warn("failed to store scripts hash", "error", err)
	}
}

// Clean resolves every managed resource below location, then cleans each
// of their contexts once and drops their persisted results.
func (b *Builder) Clean(ctx context.Context, location string) error {
	location, err := filepath.Abs(location)
	if err != nil {
		return fmt.Errorf("arbor: clean: %w", err)
	}
	b.contexts.AddRoot(location)

	ids, err := b.ignorer.List(ctx, location)
	if err != nil {
		return fmt.Errorf("arbor: clean: %w", err)
	}
	seen := make(map[*langctx.Context]bool)
	for _, id := range ids {
		lang, _, ok := b.identify(id)
		if !ok {
			continue
		}
		lctx, err := b.contexts.Get(id, lang.Name)
		if err != nil {
			b.logger.Warn("no context to clean", "source", id, "error", err)
			continue
		}
		if !seen[lctx] {
			seen[lctx] = true
			b.logger.Info("cleaning context", "language", lctx.Language(), "location", lctx.Location())
			b.contexts.Clean(lctx)
		}
		if err := b.store.DeleteFileData(string(id)); err != nil {
			return fmt.Errorf("arbor: clean %s: %w", id, err)
		}
	}
	return nil
}
