package watcher

import (
	"context"
	"time"

	"github.com/jward/arbor/internal/resource"
)

// Debouncer batches rapid file system changes so a burst of saves triggers
// one build. A batch is flushed after quietPeriod without new changes, or
// after maxWait since its first change, whichever comes first.
type Debouncer struct {
	input       <-chan resource.Change
	output      chan []resource.Change
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new change debouncer
func NewDebouncer(input <-chan resource.Change, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan []resource.Change, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing changes with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// Output returns the channel of debounced batches. It is closed when the
// input closes or the context is done.
func (d *Debouncer) Output() <-chan []resource.Change {
	return d.output
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		pending []resource.Change
		quiet   *time.Timer
		maxWait *time.Timer
	)
	timerC := func(t *time.Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C
	}
	flush := func() {
		if quiet != nil {
			quiet.Stop()
			quiet = nil
		}
		if maxWait != nil {
			maxWait.Stop()
			maxWait = nil
		}
		if len(pending) == 0 {
			return
		}
		batch := resource.Supersede(pending)
		pending = nil
		select {
		case d.output <- batch:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case c, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			pending = append(pending, c)
			if quiet == nil {
				quiet = time.NewTimer(d.quietPeriod)
			} else {
				quiet.Reset(d.quietPeriod)
			}
			if maxWait == nil {
				maxWait = time.NewTimer(d.maxWait)
			}

		case <-timerC(quiet):
			quiet = nil
			flush()

		case <-timerC(maxWait):
			maxWait = nil
			flush()
		}
	}
}
