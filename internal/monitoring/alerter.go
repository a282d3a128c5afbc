// Package monitoring turns the run log into webhook alerts.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/config"
	"github.com/sells-group/tender-sync/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailure     AlertType = "run_failure"
	AlertRowFailureRate AlertType = "row_failure_rate"
	AlertStaleRun       AlertType = "stale_run"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates runs and snapshots against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// EvaluateRun checks a single finished run.
func (a *Alerter) EvaluateRun(run *model.Run) []Alert {
	if run == nil {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()

	if run.Status == model.RunStatusFailed {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "high",
			Message:  fmt.Sprintf("Sync of %s failed: %s", run.Source, run.Error),
			Details: map[string]any{
				"run_id": run.ID,
				"source": run.Source,
				"kind":   string(run.Kind),
			},
			Timestamp: now,
		})
	}

	rate := run.Summary.FailureRate()
	if a.cfg.FailureRateThreshold > 0 && rate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRowFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Sync of %s failed %d of %d rows (%.1f%%, threshold %.1f%%)",
				run.Source, run.Summary.Failed, run.Summary.Processed,
				rate*100, a.cfg.FailureRateThreshold*100,
			),
			Details: map[string]any{
				"run_id":       run.ID,
				"source":       run.Source,
				"failure_rate": rate,
				"threshold":    a.cfg.FailureRateThreshold,
				"errors":       run.Summary.Errors,
			},
			Timestamp: now,
		})
	}
	return alerts
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.RunsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d sync run(s) failed in last %dh",
				snap.RunsFailed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_count": snap.RunsFailed,
				"total_runs":   snap.RunsTotal,
				"sources":      snap.FailedSources,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailureRateThreshold > 0 && snap.RowFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRowFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Row failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d processed in last %dh)",
				snap.RowFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RowsFailed, snap.RowsProcessed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RowFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RowsFailed,
				"processed":    snap.RowsProcessed,
			},
			Timestamp: now,
		})
	}

	for _, r := range snap.StaleRuns {
		alerts = append(alerts, Alert{
			Type:     AlertStaleRun,
			Severity: "medium",
			Message: fmt.Sprintf("Sync of %s has been running since %s",
				r.Source, r.StartedAt.Format(time.RFC3339)),
			Details: map[string]any{
				"run_id": r.ID,
				"source": r.Source,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
