package arbor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/language"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/store"
	"github.com/jward/arbor/internal/syntax"
)

// identified is a change whose language is known. lang is always a base
// language; dialect is set when the resource belongs to a dialect of it.
type identified struct {
	resource.Change
	lang    *language.Language
	dialect *language.Language
}

// contextWork is the parse output that belongs to one context.
type contextWork struct {
	lctx    *langctx.Context
	changed []*syntax.ParseUnit
	removed []resource.ID
}

// caches are the result caches of one build.
type caches struct {
	parse    ParseCache
	analysis AnalysisCache
	// publish returns the cache results of one context are published
	// through, and the function that makes them visible.
	publish func() (AnalysisCache, func() error)
}

// Build runs one incremental build of changes below location:
//
//  1. Classify: drop ignored resources, apply dialect descriptor changes,
//     identify the language of the rest.
//  2. Parse every added or modified resource; removed resources get an
//     empty parse unit.
//  3. Segregate the parse units by context.
//  4. Per context, under its lock: analyze, publish the results, compile.
//
// Failures of one resource or context become diagnostics in the output and
// never affect the others. Cancelling ctx stops the build between files;
// the output then holds everything finished so far and is marked
// Interrupted. The returned error is only set when the build could not
// start.
func (b *Builder) Build(ctx context.Context, location string, changes []Change) (*BuildOutput, error) {
	start := time.Now()
	location, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("arbor: build: %w", err)
	}
	b.contexts.AddRoot(location)

	rec, err := b.store.StartBuild(location)
	if err != nil {
		return nil, fmt.Errorf("arbor: build: %w", err)
	}
	col := &collector{out: &BuildOutput{BuildID: rec.ID}}
	cs := b.caches(rec.ID)

	work := b.classify(ctx, location, changes, col)
	parsed := b.parse(ctx, work, cs, col)
	groups := b.segregate(parsed, col)
	b.analyzeAll(ctx, groups, cs, col)

	out := col.finish()
	if ctx.Err() != nil {
		out.Interrupted = true
	}
	b.finishBuild(rec, out)
	if len(changes) > 0 {
		b.storeScriptsHash()
	}
	b.logger.Info("build finished", "location", location,
		"changed", len(out.Changed), "removed", len(out.Removed),
		"messages", len(out.Messages), "interrupted", out.Interrupted, "took", time.Since(start))
	return out, nil
}

func (b *Builder) caches(buildID string) *caches {
	if b.parseCache != nil {
		a := b.analysisCache
		if a == nil {
			a = nopAnalysisCache{}
		}
		return &caches{
			parse:    b.parseCache,
			analysis: a,
			publish:  func() (AnalysisCache, func() error) { return a, func() error { return nil } },
		}
	}
	return &caches{
		parse:    &parseStore{ds: b.store, buildID: buildID},
		analysis: &analysisStore{ds: b.store, buildID: buildID},
		publish: func() (AnalysisCache, func() error) {
			batch := store.NewBatchedStore(b.store)
			return &analysisStore{ds: batch, buildID: buildID}, batch.Commit
		},
	}
}

// cacheErr logs a failed cache write. The cache only lags behind; the build
// output is unaffected.
func (b *Builder) cacheErr(err error, op string, id resource.ID) {
	if err != nil {
		b.logger.Warn("cache update failed", "op", op, "source", id, "error", err)
	}
}

// classify applies dialect descriptor changes first, then identifies the
// remaining changes. Resources with no known language are dropped.
func (b *Builder) classify(ctx context.Context, location string, changes []Change, col *collector) []identified {
	var descriptors, sources []resource.Change
	for _, c := range changes {
		id := resource.ID(filepath.Clean(string(c.Resource)))
		if !filepath.IsAbs(string(id)) {
			id = resource.ID(filepath.Join(location, string(id)))
		}
		c.Resource = id
		switch {
		case b.ignorer.Ignored(location, id):
		case b.dialects.IsDescriptor(id):
			descriptors = append(descriptors, c)
		default:
			sources = append(sources, c)
		}
	}

	if len(descriptors) > 0 {
		for _, err := range b.dialects.Update(ctx, resource.Supersede(descriptors)) {
			col.message(diag.Top(diag.Error, diag.KindBuilder, "Dialect update failed.", err))
		}
	}

	var out []identified
	for _, c := range resource.Supersede(sources) {
		lang, dialect, ok := b.identify(c.Resource)
		if !ok {
			continue
		}
		out = append(out, identified{Change: c, lang: lang, dialect: dialect})
	}
	return out
}

// identify returns the base language of id and its dialect, if any.
func (b *Builder) identify(id resource.ID) (lang, dialect *language.Language, ok bool) {
	l, ok := b.registry.Identify(id)
	if !ok {
		return nil, nil, false
	}
	if !l.IsDialect() {
		return l, nil, true
	}
	base, ok := b.registry.BaseOf(l)
	if !ok {
		b.logger.Warn("dialect without base language", "source", id, "dialect", l.Name, "base", l.Base)
		return nil, nil, false
	}
	return base, l, true
}

// parseOutcome is the result of parsing one identified change.
type parseOutcome struct {
	unit *syntax.ParseUnit
	err  error
}

// parse runs the parse stage in three steps: invalidate the cache entries
// of the resources to parse, parse (concurrently when parallel), then
// record the outcomes in change order.
func (b *Builder) parse(ctx context.Context, work []identified, cs *caches, col *collector) []*syntax.ParseUnit {
	out := col.out

	for _, w := range work {
		if w.Kind != resource.Delete {
			b.cacheErr(cs.parse.Invalidate(w.Resource), "invalidate parse", w.Resource)
		}
	}

	outcomes := make([]parseOutcome, len(work))
	parseOne := func(i int) {
		w := work[i]
		if w.Kind == resource.Delete {
			outcomes[i].unit = b.syntax.EmptyParseUnit(w.Resource, w.lang, w.dialect)
			return
		}
		text, err := b.text.Text(ctx, w.Resource)
		if err != nil {
			if ctx.Err() == nil {
				outcomes[i].err = &diag.ParseError{Resource: string(w.Resource), Language: w.lang.Name, Err: err}
			}
			return
		}
		unit, err := b.syntax.Parse(ctx, text, w.Resource, w.lang, w.dialect)
		if err != nil && ctx.Err() != nil {
			return
		}
		outcomes[i].unit, outcomes[i].err = unit, err
	}

	if b.useParallel && len(work) > 1 {
		var g errgroup.Group
		g.SetLimit(b.workers)
		for i := range work {
			g.Go(func() error {
				if ctx.Err() == nil {
					parseOne(i)
				}
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range work {
			if ctx.Err() != nil {
				break
			}
			parseOne(i)
		}
	}

	var units []*syntax.ParseUnit
	for i, w := range work {
		o := outcomes[i]
		switch {
		case o.unit != nil && o.unit.Empty:
			out.Removed = append(out.Removed, w.Resource)
			out.ParseResults = append(out.ParseResults, o.unit)
			units = append(units, o.unit)
			b.cacheErr(cs.parse.Remove(w.Resource), "remove parse", w.Resource)
		case o.err != nil:
			// Still changed: the stale analysis of the resource must go.
			out.Changed = append(out.Changed, w.Resource)
			col.message(diag.AtTop(string(w.Resource), diag.Error, diag.KindParse, "Parsing failed.", o.err))
			b.cacheErr(cs.parse.Error(w.Resource, o.err), "error parse", w.Resource)
			b.cacheErr(cs.analysis.Error(w.Resource, o.err), "error analysis", w.Resource)
		case o.unit != nil:
			out.Changed = append(out.Changed, w.Resource)
			out.ParseResults = append(out.ParseResults, o.unit)
			units = append(units, o.unit)
			b.cacheErr(cs.parse.Update(w.Resource, o.unit), "update parse", w.Resource)
		}
		// Neither unit nor error: cancelled before this resource.
	}
	return units
}

// segregate groups parse units by context, in order of first appearance.
func (b *Builder) segregate(units []*syntax.ParseUnit, col *collector) []*contextWork {
	var groups []*contextWork
	index := make(map[*langctx.Context]*contextWork)
	for _, pu := range units {
		lctx, err := b.contexts.Get(pu.Source, pu.Language)
		if err != nil {
			cerr := &diag.ContextError{Resource: string(pu.Source), Language: pu.Language, Err: err}
			col.message(diag.AtTop(string(pu.Source), diag.Error, diag.KindBuilder, "No analysis context.", cerr))
			continue
		}
		g, ok := index[lctx]
		if !ok {
			g = &contextWork{lctx: lctx}
			index[lctx] = g
			groups = append(groups, g)
		}
		if pu.Empty {
			g.removed = append(g.removed, pu.Source)
		} else {
			g.changed = append(g.changed, pu)
		}
	}
	return groups
}

// analyzeAll processes every context, concurrently when parallel. Contexts
// never share state, so they do not contend.
func (b *Builder) analyzeAll(ctx context.Context, groups []*contextWork, cs *caches, col *collector) {
	if !b.useParallel || len(groups) < 2 {
		for _, g := range groups {
			if ctx.Err() != nil {
				col.interrupted()
				return
			}
			b.analyzeContext(ctx, g, cs, col)
		}
		return
	}
	var eg errgroup.Group
	eg.SetLimit(b.workers)
	for _, g := range groups {
		eg.Go(func() error {
			if ctx.Err() != nil {
				col.interrupted()
				return nil
			}
			b.analyzeContext(ctx, g, cs, col)
			return nil
		})
	}
	eg.Wait()
}

// analyzeContext analyzes and compiles one context under its lock.
func (b *Builder) analyzeContext(ctx context.Context, g *contextWork, cs *caches, col *collector) {
	lctx := g.lctx
	lctx.Lock()
	defer lctx.Unlock()

	for _, pu := range g.changed {
		b.cacheErr(cs.analysis.Invalidate(pu.Source), "invalidate analysis", pu.Source)
	}

	res, err := b.analyzer.Analyze(ctx, g.changed, g.removed, lctx)
	if err != nil {
		col.message(diag.Top(diag.Error, diag.KindAnalysis, "Analysis failed.", err))
		for _, pu := range g.changed {
			b.cacheErr(cs.analysis.Error(pu.Source, err), "error analysis", pu.Source)
		}
		for _, id := range g.removed {
			b.cacheErr(cs.analysis.Remove(id), "remove analysis", id)
		}
		b.logger.Error("context analysis failed", "language", lctx.Language(), "location", lctx.Location(), "error", err)
		return
	}

	pub, commit := cs.publish()
	for _, id := range res.Removed {
		b.cacheErr(pub.Remove(id), "remove analysis", id)
	}
	for _, fr := range res.Files {
		b.cacheErr(pub.Update(fr.Source, lctx.ID(), fr), "update analysis", fr.Source)
	}
	if err := commit(); err != nil {
		b.logger.Warn("failed to publish analysis results", "location", lctx.Location(), "error", err)
	}
	col.analyzed(res.Files)
	if res.Interrupted {
		col.interrupted()
		return
	}

	b.compile(ctx, lctx, res, col)
}

// compile transforms the usable results of one context. The removed set is
// the one computed by the parse stage.
func (b *Builder) compile(ctx context.Context, lctx *langctx.Context, res *analysis.Results, col *collector) {
	if !b.backend.Available(b.goal, lctx) {
		return
	}
	removed := make(map[resource.ID]bool, len(col.out.Removed))
	col.mu.Lock()
	for _, id := range col.out.Removed {
		removed[id] = true
	}
	col.mu.Unlock()

	for _, fr := range res.Files {
		if ctx.Err() != nil {
			col.interrupted()
			return
		}
		switch {
		case removed[fr.Source]:
			continue
		case fr.Err != nil:
			col.message(diag.AtTop(string(fr.Source), diag.Warning, diag.KindTransform,
				"Compilation skipped: no analysis result.", nil))
			continue
		case !fr.Success:
			b.logger.Debug("not compiling file with errors", "source", fr.Source)
			continue
		}

		var msgs diag.Messages
		tr, err := b.backend.Transform(ctx, fr, lctx, b.goal)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				col.interrupted()
				return
			}
			d := diag.AtTop(string(fr.Source), diag.Error, diag.KindTransform, "Compilation failed.", err)
			col.message(d)
			msgs = append(msgs, d)
		} else {
			col.transformed(tr)
		}
		if err := b.store.ReplaceDiagnostics(string(fr.Source), store.StageTransform, col.out.BuildID,
			storedDiagnostics(msgs, nil)); err != nil {
			b.cacheErr(err, "transform diagnostics", fr.Source)
		}
	}
}

// finishBuild records the build counters and its batch-level messages.
// Those are stored under the empty path.
func (b *Builder) finishBuild(rec *store.Build, out *BuildOutput) {
	all := out.AllMessages()
	rec.Changed = len(out.Changed)
	rec.Removed = len(out.Removed)
	rec.Errors = all.Count(diag.Error)
	rec.Warnings = all.Count(diag.Warning)
	rec.Interrupted = out.Interrupted
	if err := b.store.FinishBuild(rec); err != nil {
		b.logger.Warn("failed to record build", "build", rec.ID, "error", err)
	}

	var top diag.Messages
	for _, d := range out.Messages {
		if d.Kind == diag.KindBuilder || d.Kind == diag.KindAnalysis {
			top = append(top, d)
		}
	}
	if err := b.store.ReplaceDiagnostics("", store.StageBuilder, rec.ID, storedDiagnostics(top, nil)); err != nil {
		b.logger.Warn("failed to store build messages", "build", rec.ID, "error", err)
	}
}
