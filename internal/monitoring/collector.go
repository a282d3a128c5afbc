package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/store"
)

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	// Runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Row outcomes summed over finished runs.
	RowsProcessed int     `json:"rows_processed"`
	RowsFailed    int     `json:"rows_failed"`
	RowFailRate   float64 `json:"row_fail_rate"`

	// FailedSources lists sources with at least one failed run.
	FailedSources []string `json:"failed_sources,omitempty"`
	// StaleRuns are runs still marked running after StaleAfter.
	StaleRuns []model.Run `json:"stale_runs,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers a snapshot from the run log.
type Collector struct {
	runs       store.RunLog
	staleAfter time.Duration
}

// NewCollector creates a new metrics collector. Runs still running after
// staleAfter are reported as stale.
func NewCollector(runs store.RunLog, staleAfter time.Duration) *Collector {
	if staleAfter <= 0 {
		staleAfter = 6 * time.Hour
	}
	return &Collector{runs: runs, staleAfter: staleAfter}
}

// Collect gathers a snapshot of runs over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: 1000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	failedSources := map[string]bool{}
	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
			if !failedSources[r.Source] {
				failedSources[r.Source] = true
				snap.FailedSources = append(snap.FailedSources, r.Source)
			}
		case model.RunStatusRunning:
			snap.RunsRunning++
			if now.Sub(r.StartedAt) > c.staleAfter {
				snap.StaleRuns = append(snap.StaleRuns, r)
			}
			continue
		}
		snap.RowsProcessed += r.Summary.Processed
		snap.RowsFailed += r.Summary.Failed
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RowsProcessed > 0 {
		snap.RowFailRate = float64(snap.RowsFailed) / float64(snap.RowsProcessed)
	}
	return snap, nil
}
