// Package monitoring turns the outcome of a sync run into webhook alerts.
package monitoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/config"
	"github.com/sells-group/police-sync/internal/crimesync"
	"github.com/sells-group/police-sync/internal/policeapi"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSyncFailure       AlertType = "sync_failure"
	AlertLockHeld          AlertType = "lock_held"
	AlertUpstreamExhausted AlertType = "upstream_exhausted"
	AlertBacklogCapped     AlertType = "backlog_capped"
	AlertPolygonsSkipped   AlertType = "polygons_skipped"
	AlertEntitiesNotStored AlertType = "entities_not_stored"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a finished run and sends alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	region string
	client *http.Client
}

// NewAlerter creates a new Alerter for runs against region.
func NewAlerter(cfg config.MonitoringConfig, region string) *Alerter {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Alerter{
		cfg:    cfg,
		region: region,
		client: &http.Client{Timeout: timeout},
	}
}

// Evaluate inspects a run and returns any alerts. res may be nil when the
// run failed before producing a result.
func (a *Alerter) Evaluate(res *crimesync.Result, runErr error, stats policeapi.Stats) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	details := a.details(res)

	switch {
	case runErr == nil:
	case errors.Is(runErr, crimesync.ErrLockConflict):
		alerts = append(alerts, Alert{
			Type:      AlertLockHeld,
			Severity:  "medium",
			Message:   fmt.Sprintf("police sync for %s skipped: %v", a.region, runErr),
			Details:   details,
			Timestamp: now,
		})
	default:
		alerts = append(alerts, Alert{
			Type:      AlertSyncFailure,
			Severity:  "high",
			Message:   fmt.Sprintf("police sync for %s failed: %v", a.region, runErr),
			Details:   details,
			Timestamp: now,
		})
	}

	if stats.Exhausted > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertUpstreamExhausted,
			Severity: "medium",
			Message: fmt.Sprintf("%d of %d API requests gave up after retries",
				stats.Exhausted, stats.Requests),
			Details: map[string]any{
				"requests":  stats.Requests,
				"retries":   stats.Retries,
				"exhausted": stats.Exhausted,
			},
			Timestamp: now,
		})
	}

	if res == nil {
		return alerts
	}
	if res.Capped {
		alerts = append(alerts, Alert{
			Type:     AlertBacklogCapped,
			Severity: "low",
			Message: fmt.Sprintf("run stopped at %s after %d months; upstream is at %s",
				res.Watermark, res.Months, res.Upstream),
			Details:   details,
			Timestamp: now,
		})
	}
	if res.Forces != nil && res.Forces.PolygonsSkipped > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertPolygonsSkipped,
			Severity:  "low",
			Message:   fmt.Sprintf("%d neighbourhood boundaries could not be stored", res.Forces.PolygonsSkipped),
			Details:   details,
			Timestamp: now,
		})
	}
	if f := res.Forces; f != nil && f.ForcesFailed+f.NeighbourhoodsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertEntitiesNotStored,
			Severity: "medium",
			Message: fmt.Sprintf("%d forces and %d neighbourhoods were refused by storage",
				f.ForcesFailed, f.NeighbourhoodsFailed),
			Details:   details,
			Timestamp: now,
		})
	}
	return alerts
}

func (a *Alerter) details(res *crimesync.Result) map[string]any {
	d := map[string]any{"region": a.region}
	if res == nil {
		return d
	}
	d["run_id"] = res.RunID
	d["watermark"] = res.Watermark
	d["upstream"] = res.Upstream
	d["months"] = res.Months
	return d
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
