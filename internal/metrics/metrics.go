// Package metrics records the outcome of a sync run as Prometheus metrics
// and pushes them to a Pushgateway when one is configured.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/config"
	"github.com/sells-group/police-sync/internal/crimesync"
	"github.com/sells-group/police-sync/internal/period"
	"github.com/sells-group/police-sync/internal/policeapi"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeLoaded   = "loaded"
	OutcomeUpToDate = "up_to_date"
	OutcomeFailed   = "failed"
)

// Recorder holds the run metrics on a private registry so a push only
// carries what this process measured.
type Recorder struct {
	reg *prometheus.Registry

	runs       *prometheus.CounterVec
	months     prometheus.Gauge
	records    *prometheus.GaugeVec
	api        *prometheus.GaugeVec
	duration   prometheus.Gauge
	watermark  prometheus.Gauge
	lastRun    prometheus.Gauge
	neighbours prometheus.Gauge
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "police_sync_runs_total",
			Help: "Sync runs by outcome",
		}, []string{"outcome"}),
		months: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "police_sync_months_loaded",
			Help: "Months processed by the last run",
		}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "police_sync_records",
			Help: "Records returned by the API in the last run, by phase",
		}, []string{"phase"}),
		api: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "police_sync_api_calls",
			Help: "API client counters for the last run",
		}, []string{"kind"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "police_sync_duration_seconds",
			Help: "Wall time of the last run",
		}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "police_sync_watermark_timestamp_seconds",
			Help: "Last loaded month (last day, UTC) as a unix timestamp",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "police_sync_last_run_timestamp_seconds",
			Help: "Completion time of the last run",
		}),
		neighbours: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "police_sync_neighbourhoods_created",
			Help: "Neighbourhoods created by the last force load",
		}),
	}
	r.reg.MustRegister(r.runs, r.months, r.records, r.api, r.duration,
		r.watermark, r.lastRun, r.neighbours)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Outcome classifies a run.
func Outcome(res *crimesync.Result, err error) string {
	switch {
	case err != nil:
		return OutcomeFailed
	case res != nil && res.UpToDate:
		return OutcomeUpToDate
	default:
		return OutcomeLoaded
	}
}

// Observe records one finished run. res may be nil.
func (r *Recorder) Observe(res *crimesync.Result, runErr error, stats policeapi.Stats, elapsed time.Duration, now time.Time) {
	r.runs.WithLabelValues(Outcome(res, runErr)).Inc()
	r.duration.Set(elapsed.Seconds())
	r.lastRun.Set(float64(now.Unix()))

	r.api.WithLabelValues("requests").Set(float64(stats.Requests))
	r.api.WithLabelValues("retries").Set(float64(stats.Retries))
	r.api.WithLabelValues("exhausted").Set(float64(stats.Exhausted))
	r.api.WithLabelValues("no_data").Set(float64(stats.NoData))

	if res == nil {
		return
	}
	r.months.Set(float64(res.Months))
	for _, p := range crimesync.MonthPhases {
		r.records.WithLabelValues(string(p)).Set(float64(res.Records[p]))
	}
	if res.Forces != nil {
		r.neighbours.Set(float64(res.Forces.NeighbourhoodsCreated))
	}
	if m, err := period.ParseMonth(res.Watermark); err == nil && !m.IsZero() {
		r.watermark.Set(float64(m.LastDay().Unix()))
	}
}

// Push sends the registry to the Pushgateway, grouped by region. It is a
// no-op when no gateway is configured.
func (r *Recorder) Push(ctx context.Context, cfg config.MetricsConfig, region string, client *http.Client) error {
	if cfg.PushgatewayURL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = "police_sync"
	}
	p := push.New(cfg.PushgatewayURL, job).
		Gatherer(r.reg).
		Grouping("region", region)
	if client != nil {
		p = p.Client(client)
	}
	if err := p.PushContext(ctx); err != nil {
		return eris.Wrap(err, "metrics: push")
	}
	zap.L().Debug("metrics pushed",
		zap.String("component", "metrics"),
		zap.String("job", job),
		zap.String("region", region),
	)
	return nil
}
