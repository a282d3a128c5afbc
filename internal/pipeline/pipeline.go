// Package pipeline runs a source through fetch, parse, enrich and reconcile in
// fixed-size batches and records the outcome in the run log.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/fetcher"
	"github.com/sells-group/tender-sync/internal/lock"
	"github.com/sells-group/tender-sync/internal/metrics"
	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/monitoring"
	"github.com/sells-group/tender-sync/internal/sheet"
	"github.com/sells-group/tender-sync/internal/store"
)

// DefaultBatchSize bounds how many rows are enriched and reconciled at once.
const DefaultBatchSize = 10000

// Enricher turns raw rows into enriched rows, one per input row.
type Enricher interface {
	Enrich(ctx context.Context, rows []model.RawRow, kind model.Kind) []model.EnrichedRow
}

// Reconciler applies enriched rows to the aggregate store.
type Reconciler interface {
	Reconcile(ctx context.Context, rows []model.EnrichedRow) model.Summary
}

// ParseFunc reads a downloaded report.
type ParseFunc func(path string) ([]model.RawRow, error)

// Deps are the collaborators of a Pipeline. Parse, Locker, Metrics and
// Alerter are optional.
type Deps struct {
	Fetcher    fetcher.ReportFetcher
	Parse      ParseFunc
	Enricher   Enricher
	Reconciler Reconciler
	Runs       store.RunLog
	Locker     lock.Locker
	Metrics    *metrics.Metrics
	Alerter    *monitoring.Alerter
}

// Options tunes a Pipeline.
type Options struct {
	TempDir   string
	BatchSize int
}

// Pipeline orchestrates one or more source runs.
type Pipeline struct {
	deps      Deps
	tempDir   string
	batchSize int
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Parse == nil {
		deps.Parse = sheet.Parse
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "tender-sync")
	}
	return &Pipeline{deps: deps, tempDir: opts.TempDir, batchSize: opts.BatchSize}
}

// Run syncs a single source. The returned run is non-nil whenever a run log
// entry was created, including on failure.
func (p *Pipeline) Run(ctx context.Context, src model.Source) (*model.Run, error) {
	log := zap.L().With(zap.String("source", src.Name), zap.String("kind", src.Kind.String()))

	unlock, err := p.deps.Locker.Acquire(ctx, "source:"+src.Name)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s", src.Name)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("pipeline: release lock", zap.Error(err))
		}
	}()

	run, err := p.deps.Runs.StartRun(ctx, src)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: start run %s", src.Name)
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: run started")
	start := time.Now()

	if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
		return p.fail(ctx, log, run, start, eris.Wrap(err, "pipeline: create temp dir"))
	}
	dest := filepath.Join(p.tempDir, src.ScratchName())
	defer func() {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			log.Warn("pipeline: remove scratch file", zap.String("path", dest), zap.Error(err))
		}
	}()

	size, err := p.deps.Fetcher.Fetch(ctx, src.Ref, dest)
	if err != nil {
		return p.fail(ctx, log, run, start, err)
	}
	log.Info("pipeline: report fetched", zap.Int64("bytes", size))

	rows, err := p.deps.Parse(dest)
	if err != nil {
		return p.fail(ctx, log, run, start, err)
	}
	log.Info("pipeline: report parsed", zap.Int("rows", len(rows)))

	for i := 0; i < len(rows); i += p.batchSize {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, log, run, start, eris.Wrapf(err, "pipeline: aborted before batch %d", i/p.batchSize+1))
		}
		batch := rows[i:min(i+p.batchSize, len(rows))]

		enriched := p.deps.Enricher.Enrich(ctx, batch, src.Kind)
		enrichFailed := 0
		for _, r := range enriched {
			if r.EnrichErr != nil {
				enrichFailed++
			}
		}
		sum := p.deps.Reconciler.Reconcile(ctx, enriched)
		run.Summary.Merge(sum)
		p.deps.Metrics.ObserveBatch(src.Name, sum, enrichFailed)

		log.Info("pipeline: batch complete",
			zap.Int("batch", i/p.batchSize+1),
			zap.Int("rows", len(batch)),
			zap.Int("enrich_failed", enrichFailed),
			zap.Stringer("summary", sum),
		)
	}

	if err := p.deps.Runs.CompleteRun(context.WithoutCancel(ctx), run.ID, run.Summary); err != nil {
		log.Error("pipeline: record completion", zap.Error(err))
	}
	p.finish(ctx, run, model.RunStatusComplete, start)
	log.Info("pipeline: run complete",
		zap.Stringer("summary", run.Summary),
		zap.Duration("elapsed", time.Since(start)),
	)
	return run, nil
}

func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, run *model.Run, start time.Time, cause error) (*model.Run, error) {
	run.Error = cause.Error()
	if err := p.deps.Runs.FailRun(context.WithoutCancel(ctx), run.ID, run.Summary, cause); err != nil {
		log.Error("pipeline: record failure", zap.Error(err))
	}
	p.finish(ctx, run, model.RunStatusFailed, start)
	log.Error("pipeline: run failed", zap.Error(cause))
	return run, cause
}

func (p *Pipeline) finish(ctx context.Context, run *model.Run, status model.RunStatus, start time.Time) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	p.deps.Metrics.ObserveRun(run.Source, status, time.Since(start))
	if p.deps.Alerter != nil {
		if alerts := p.deps.Alerter.EvaluateRun(run); len(alerts) > 0 {
			p.deps.Alerter.SendAlerts(context.WithoutCancel(ctx), alerts)
		}
	}
}

// SourceFailure is one failed source of a RunAll.
type SourceFailure struct {
	Source string `json:"source"`
	Err    error  `json:"-"`
}

// SyncError aggregates the failed sources of a RunAll.
type SyncError struct {
	Total    int
	Failures []SourceFailure
}

func (e *SyncError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Source + ": " + f.Err.Error()
	}
	return fmt.Sprintf("sync failed for %d of %d sources: %s",
		len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *SyncError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// RunAll syncs sources one after another. A failed source does not stop the
// others; a *SyncError lists every failure. Only one RunAll may be in
// progress at a time.
func (p *Pipeline) RunAll(ctx context.Context, sources []model.Source) ([]*model.Run, error) {
	unlock, err := p.deps.Locker.Acquire(ctx, "all")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: sync")
	}
	defer unlock(context.WithoutCancel(ctx)) //nolint:errcheck

	var runs []*model.Run
	syncErr := &SyncError{Total: len(sources)}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			syncErr.Failures = append(syncErr.Failures, SourceFailure{Source: src.Name, Err: eris.Wrap(err, "not started")})
			continue
		}
		run, err := p.Run(ctx, src)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			syncErr.Failures = append(syncErr.Failures, SourceFailure{Source: src.Name, Err: err})
		}
	}

	if len(syncErr.Failures) > 0 {
		return runs, syncErr
	}
	return runs, nil
}
