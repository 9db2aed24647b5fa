package arbor

import (
	"cmp"
	"slices"
	"sync"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/syntax"
	"github.com/jward/arbor/internal/transform"
)

// BuildOutput is everything one Build call produced.
type BuildOutput struct {
	// BuildID identifies the build in the build log.
	BuildID string `json:"build_id"`
	// Removed holds the deleted resources. They are never in Changed.
	Removed []resource.ID `json:"removed"`
	Changed []resource.ID `json:"changed"`

	ParseResults     []*syntax.ParseUnit    `json:"-"`
	AnalysisResults  []*analysis.FileResult `json:"-"`
	TransformResults []*transform.Result    `json:"transform_results"`

	// Messages are the diagnostics of every failure path that are not part
	// of a file's analysis result.
	Messages diag.Messages `json:"messages"`
	// Interrupted is set when the build was cancelled before finishing.
	Interrupted bool `json:"interrupted"`
}

// AllMessages returns Messages followed by the messages of every analysis
// result.
func (o *BuildOutput) AllMessages() diag.Messages {
	out := slices.Clone(o.Messages)
	for _, fr := range o.AnalysisResults {
		out = append(out, fr.Messages...)
	}
	return out
}

// Succeeded reports whether no message of the build is an error.
func (o *BuildOutput) Succeeded() bool {
	return !o.AllMessages().HasErrors()
}

// Result returns the analysis result of id, or nil.
func (o *BuildOutput) Result(id resource.ID) *analysis.FileResult {
	for _, fr := range o.AnalysisResults {
		if fr.Source == id {
			return fr
		}
	}
	return nil
}

// collector gathers partial results from concurrently processed contexts.
type collector struct {
	mu  sync.Mutex
	out *BuildOutput
}

func (c *collector) message(d diag.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Messages = append(c.out.Messages, d)
}

func (c *collector) analyzed(frs []*analysis.FileResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.AnalysisResults = append(c.out.AnalysisResults, frs...)
}

func (c *collector) transformed(tr *transform.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.TransformResults = append(c.out.TransformResults, tr)
}

func (c *collector) interrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Interrupted = true
}

// finish orders the results by resource so concurrent contexts give a
// stable output.
func (c *collector) finish() *BuildOutput {
	o := c.out
	slices.SortStableFunc(o.AnalysisResults, func(a, b *analysis.FileResult) int {
		return cmp.Compare(a.Source, b.Source)
	})
	slices.SortStableFunc(o.TransformResults, func(a, b *transform.Result) int {
		return cmp.Compare(a.Source, b.Source)
	})
	o.Messages.Sort()
	return o
}
