// Package jobs runs the periodic scans that turn schedules into notices.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/carecircle/internal/metrics"
)

// ErrUnknownJob is returned by RunNow for a name nobody registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is one scan. Run handles its own per-entity failures and only returns
// an error when the scan as a whole could not happen.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) error
}

type entry struct {
	job     Job
	every   time.Duration
	running atomic.Bool
}

// Runner ticks each job on its own period. A tick that finds the previous
// run of the same job still going is skipped.
type Runner struct {
	entries []*entry
	now     func() time.Time
	logger  *zap.Logger
}

// NewRunner creates an empty runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{now: time.Now, logger: logger}
}

// Add registers job to run every period.
func (r *Runner) Add(job Job, every time.Duration) {
	r.entries = append(r.entries, &entry{job: job, every: every})
}

// Jobs lists the registered job names.
func (r *Runner) Jobs() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.job.Name()
	}
	return names
}

// Start blocks until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, e := range r.entries {
		e := e
		r.logger.Info("scheduling job",
			zap.String("job", e.job.Name()),
			zap.Duration("every", e.every),
		)
		g.Go(func() error {
			ticker := time.NewTicker(e.every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					r.trigger(ctx, e)
				}
			}
		})
	}

	return g.Wait()
}

// RunNow runs the named job immediately. It reports false when a run was
// already in progress.
func (r *Runner) RunNow(ctx context.Context, name string) (bool, error) {
	for _, e := range r.entries {
		if e.job.Name() == name {
			return r.trigger(ctx, e), nil
		}
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (r *Runner) trigger(ctx context.Context, e *entry) bool {
	name := e.job.Name()
	if !e.running.CompareAndSwap(false, true) {
		r.logger.Warn("previous run still in progress, skipping", zap.String("job", name))
		metrics.RecordJobRun(name, "skipped", 0)
		return false
	}
	defer e.running.Store(false)

	start := time.Now()
	err := r.safeRun(ctx, e.job)
	took := time.Since(start)

	if err != nil {
		r.logger.Error("job run failed",
			zap.String("job", name),
			zap.Duration("took", took),
			zap.Error(err),
		)
		metrics.RecordJobRun(name, "failed", took)
		return true
	}

	r.logger.Debug("job run finished", zap.String("job", name), zap.Duration("took", took))
	metrics.RecordJobRun(name, "ok", took)
	return true
}

// safeRun turns a panic inside a job into an error so one bad entity can
// not take the scheduler down.
func (r *Runner) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked", zap.String("job", job.Name()), zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return job.Run(ctx, r.now())
}
