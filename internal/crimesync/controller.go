// Package crimesync runs one incremental sync of police data for a region:
// it compares the local watermark with upstream, takes the run lock, loads
// the reference data and then every outstanding month, and records a sanity
// check before releasing the lock.
package crimesync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/loader"
	"github.com/sells-group/police-sync/internal/period"
	"github.com/sells-group/police-sync/internal/store"
)

// Run failures callers distinguish.
var (
	ErrUpstreamUnavailable = eris.New("upstream last-updated date unavailable")
	ErrLockConflict        = eris.New("another load holds the run lock")
	ErrRegionNotFound      = eris.New("region not found")
)

// Upstream reports upstream data freshness.
type Upstream interface {
	LastUpdated(ctx context.Context) (string, bool)
}

// Store is the storage the controller itself touches.
type Store interface {
	store.Variables
	PlaceExists(ctx context.Context, field, value string) (bool, error)
	SanityCheck(ctx context.Context) (string, error)
}

// StructuralLoader loads forces and neighbourhoods for a region.
type StructuralLoader interface {
	Load(ctx context.Context, region string) (loader.ForceSummary, error)
}

// PeriodLoaders load one month of each fact kind.
type PeriodLoaders interface {
	LoadCategories(ctx context.Context, month string) int
	LoadCrimes(ctx context.Context, region, month string) int
	LoadOutcomes(ctx context.Context, region, month string) int
	LoadStops(ctx context.Context, region, month string) int
}

// Config holds the run parameters.
type Config struct {
	Region string
	Phases Phases
	// ReplayMonths is how far before the current month a run starts.
	ReplayMonths int
	// MaxMonths caps the number of months one run walks. <= 0 means no cap.
	MaxMonths int
}

// Result summarises a run.
type Result struct {
	RunID     string               `json:"run_id" yaml:"run_id"`
	UpToDate  bool                 `json:"up_to_date" yaml:"up_to_date"`
	Upstream  string               `json:"upstream" yaml:"upstream"`
	Local     string               `json:"local" yaml:"local"`
	Watermark string               `json:"watermark" yaml:"watermark"`
	Months    int                  `json:"months" yaml:"months"`
	Capped    bool                 `json:"capped,omitempty" yaml:"capped,omitempty"`
	Forces    *loader.ForceSummary `json:"forces,omitempty" yaml:"forces,omitempty"`
	Records   map[Phase]int        `json:"records" yaml:"records"`
	Sanity    string               `json:"sanity,omitempty" yaml:"sanity,omitempty"`
	Elapsed   time.Duration        `json:"elapsed" yaml:"elapsed"`
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRunID replaces the run id generator.
func WithRunID(gen func() string) Option {
	return func(c *Controller) { c.newRunID = gen }
}

// Controller drives a sync run.
type Controller struct {
	upstream Upstream
	store    Store
	state    *State
	forces   StructuralLoader
	periods  PeriodLoaders
	cfg      Config

	now      func() time.Time
	newRunID func() string
}

// NewController wires a Controller.
func NewController(up Upstream, st Store, forces StructuralLoader, periods PeriodLoaders, cfg Config, opts ...Option) *Controller {
	if cfg.ReplayMonths <= 0 {
		cfg.ReplayMonths = 13
	}
	c := &Controller{
		upstream: up,
		store:    st,
		state:    NewState(st),
		forces:   forces,
		periods:  periods,
		cfg:      cfg,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DefaultStart is the first month a run loads: ReplayMonths before the
// current month.
func (c *Controller) DefaultStart() period.Month {
	return period.Of(c.now()).AddMonths(-c.cfg.ReplayMonths)
}

// Run performs one sync. It returns ErrUpstreamUnavailable, ErrLockConflict,
// ErrRegionNotFound or loader.ErrStructuralLoad (all wrapped) for the
// corresponding failures. An up-to-date store is a successful run with
// Result.UpToDate set.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	start := c.now()
	res := &Result{RunID: c.newRunID(), Records: map[Phase]int{}}
	log := zap.L().With(
		zap.String("component", "crimesync"),
		zap.String("run_id", res.RunID),
		zap.String("region", c.cfg.Region),
	)

	raw, ok := c.upstream.LastUpdated(ctx)
	if !ok {
		return res, ErrUpstreamUnavailable
	}
	upstream, err := period.ParseMonth(raw)
	if err != nil || upstream.IsZero() {
		return res, eris.Wrapf(ErrUpstreamUnavailable, "unparseable date %q", raw)
	}
	res.Upstream = upstream.String()

	local, err := c.localWatermark(ctx, log)
	if err != nil {
		return res, err
	}
	res.Local = local.String()
	res.Watermark = local.String()

	if local.Compare(upstream) >= 0 {
		res.UpToDate = true
		log.Info("already up to date", zap.String("local", res.Local), zap.String("upstream", res.Upstream))
		return res, nil
	}

	status, held, err := c.state.Lock(ctx)
	if err != nil {
		return res, err
	}
	if held {
		return res, eris.Wrapf(ErrLockConflict, "lock status %q", status)
	}

	exists, err := c.store.PlaceExists(ctx, "name", c.cfg.Region)
	if err != nil {
		return res, eris.Wrap(err, "check region")
	}
	if !exists {
		return res, eris.Wrapf(ErrRegionNotFound, "%q", c.cfg.Region)
	}

	if err := c.state.Acquire(ctx, "started "+res.RunID); err != nil {
		return res, err
	}
	log.Info("run started", zap.String("local", res.Local), zap.String("upstream", res.Upstream))

	if c.cfg.Phases.Enabled(PhaseForce) {
		c.setStatus(ctx, log, fmt.Sprintf("loading %s (%s)", PhaseForce, c.cfg.Region))
		sum, err := c.forces.Load(ctx, c.cfg.Region)
		res.Forces = &sum
		if err != nil {
			c.setStatus(ctx, log, "failed: "+err.Error())
			return res, eris.Wrap(err, "force load")
		}
	}

	months := period.Range{
		From:  c.DefaultStart(),
		Until: upstream,
		Now:   c.now(),
		Max:   c.cfg.MaxMonths,
	}
	for _, m := range months.All() {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "run interrupted")
		}
		for _, p := range MonthPhases {
			if !c.cfg.Phases.Enabled(p) {
				continue
			}
			c.setStatus(ctx, log, fmt.Sprintf("loading %s (%s / %s)", p, m, upstream))
			res.Records[p] += c.loadMonth(ctx, p, m)
		}
		// Loaders stop early on cancellation; a partial month must not move the watermark.
		if err := ctx.Err(); err != nil {
			return res, eris.Wrapf(err, "run interrupted during %s", m)
		}
		res.Months++

		if m.After(local) {
			if err := c.state.SetWatermark(ctx, m); err != nil {
				return res, err
			}
			local = m
			res.Watermark = m.String()
		}
		log.Info("month loaded", zap.String("month", m.String()))
	}
	if months.Capped() {
		res.Capped = true
		log.Warn("month cap reached; remaining months load on the next run", zap.Int("max_months", c.cfg.MaxMonths))
	}

	res.Sanity = c.sanity(ctx, log)

	if err := c.state.Release(ctx); err != nil {
		return res, err
	}
	res.Elapsed = c.now().Sub(start)
	log.Info("run complete",
		zap.Int("months", res.Months),
		zap.String("watermark", res.Watermark),
		zap.Any("records", res.Records),
	)
	return res, nil
}

// localWatermark reads the watermark, creating or repairing it with the
// default start when it is missing or invalid.
func (c *Controller) localWatermark(ctx context.Context, log *zap.Logger) (period.Month, error) {
	local, present, valid, err := c.state.Watermark(ctx)
	if err != nil {
		return period.Month{}, err
	}
	if valid {
		return local, nil
	}

	local = c.DefaultStart()
	if present {
		log.Warn("invalid local watermark, resetting", zap.String("watermark", local.String()))
		err = c.state.SetWatermark(ctx, local)
	} else {
		log.Info("no local watermark, initialising", zap.String("watermark", local.String()))
		err = c.state.InitWatermark(ctx, local)
	}
	if err != nil {
		return period.Month{}, err
	}
	return local, nil
}

func (c *Controller) loadMonth(ctx context.Context, p Phase, m period.Month) int {
	month := m.String()
	switch p {
	case PhaseCategory:
		return c.periods.LoadCategories(ctx, month)
	case PhaseCrime:
		return c.periods.LoadCrimes(ctx, c.cfg.Region, month)
	case PhaseOutcome:
		return c.periods.LoadOutcomes(ctx, c.cfg.Region, month)
	case PhaseStop:
		return c.periods.LoadStops(ctx, c.cfg.Region, month)
	}
	return 0
}

func (c *Controller) setStatus(ctx context.Context, log *zap.Logger, status string) {
	if err := c.state.SetStatus(ctx, status); err != nil {
		log.Warn("lock status update failed", zap.String("status", status), zap.Error(err))
	}
}

// sanity runs the database consistency check and stores its result. Failures
// are logged only.
func (c *Controller) sanity(ctx context.Context, log *zap.Logger) string {
	value, err := c.store.SanityCheck(ctx)
	if err != nil {
		log.Warn("sanity check failed", zap.Error(err))
		return ""
	}
	if err := c.state.RecordSanity(ctx, value); err != nil {
		log.Warn("record sanity result failed", zap.Error(err))
	}
	return value
}
