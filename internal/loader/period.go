package loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/period"
	"github.com/sells-group/police-sync/internal/policeapi"
	"github.com/sells-group/police-sync/internal/record"
	"github.com/sells-group/police-sync/internal/store"
)

// PeriodLoader loads one month of categories, crimes, outcomes or stops.
// Each load returns the number of records it processed; storage failures on
// individual records are logged and never abort the month.
type PeriodLoader struct {
	api   PeriodAPI
	store PeriodStore
	clock Clock
	log   *zap.Logger
}

// NewPeriodLoader creates a PeriodLoader. A nil clock uses time.Now.
func NewPeriodLoader(api PeriodAPI, st PeriodStore, clock Clock) *PeriodLoader {
	return &PeriodLoader{
		api:   api,
		store: st,
		clock: clock,
		log:   zap.L().With(zap.String("component", "period_loader")),
	}
}

// month validates the requested month. Unparseable months and months that
// have not ended yet are rejected.
func (l *PeriodLoader) month(kind, raw string) (period.Month, bool) {
	m, err := period.ParseMonth(raw)
	if err != nil || m.IsZero() {
		l.log.Error("invalid period", zap.String("kind", kind), zap.String("month", raw), zap.Error(err))
		return period.Month{}, false
	}
	if m.EndsAfter(l.clock.now()) {
		l.log.Error("period is not in the past", zap.String("kind", kind), zap.String("month", m.String()))
		return period.Month{}, false
	}
	return m, true
}

// area resolves the API polygon of the region's bounding rectangle.
func (l *PeriodLoader) area(ctx context.Context, kind, region string) (string, bool) {
	poly, err := l.store.PoliceString(ctx, region, store.MBR)
	if err != nil {
		l.log.Error("region polygon query failed",
			zap.String("kind", kind), zap.String("region", region), zap.Error(err))
		return "", false
	}
	return poly, true
}

// LoadCategories stores the crime categories of month that are not known yet.
func (l *PeriodLoader) LoadCategories(ctx context.Context, month string) int {
	m, ok := l.month("category", month)
	if !ok {
		return 0
	}

	cats, _ := l.api.CrimeCategories(ctx, m.APIString())
	var created, failed int
	for i := range cats {
		fields, ok := record.CategoryFields(&cats[i])
		if !ok {
			l.log.Warn("skipping category without identifier", zap.String("name", cats[i].Name.String()))
			continue
		}
		slug := fields[1].(string)

		exists, err := l.store.CategoryExists(ctx, "identifier", slug)
		if err != nil {
			// The month's categories cannot be checked reliably any more.
			l.log.Error("category lookup failed", zap.String("category", slug), zap.Error(err))
			return 0
		}
		if exists {
			continue
		}
		if _, err := l.store.PostCategory(ctx, fields); err != nil {
			failed++
			l.log.Warn("store category failed", zap.String("category", slug), zap.Error(err))
			continue
		}
		created++
	}

	l.log.Info("categories loaded",
		zap.String("month", m.APIString()),
		zap.Int("fetched", len(cats)),
		zap.Int("created", created),
		zap.Int("failed", failed),
	)
	return len(cats)
}

// LoadCrimes stores the street-level crimes of month inside region.
func (l *PeriodLoader) LoadCrimes(ctx context.Context, region, month string) int {
	m, ok := l.month("crime", month)
	if !ok {
		return 0
	}
	poly, ok := l.area(ctx, "crime", region)
	if !ok {
		return 0
	}

	crimes, _ := l.api.StreetCrimes(ctx, poly, m.APIString())
	return submit(ctx, l.log, "crime", m, crimes,
		func(c *policeapi.Crime) []any { return record.CrimeFields(c) },
		func(c *policeapi.Crime) string { return c.ID.String() },
		l.store.PostCrime)
}

// LoadOutcomes stores the case outcomes of month inside region.
func (l *PeriodLoader) LoadOutcomes(ctx context.Context, region, month string) int {
	m, ok := l.month("outcome", month)
	if !ok {
		return 0
	}
	poly, ok := l.area(ctx, "outcome", region)
	if !ok {
		return 0
	}

	outcomes, _ := l.api.Outcomes(ctx, poly, m.APIString())
	return submit(ctx, l.log, "outcome", m, outcomes,
		func(o *policeapi.Outcome) []any { return record.OutcomeFields(o) },
		func(o *policeapi.Outcome) string {
			if o.Crime == nil {
				return ""
			}
			return o.Crime.ID.String()
		},
		l.store.PostOutcome)
}

// LoadStops stores the stop-and-search events of month inside region.
func (l *PeriodLoader) LoadStops(ctx context.Context, region, month string) int {
	m, ok := l.month("stop", month)
	if !ok {
		return 0
	}
	poly, ok := l.area(ctx, "stop", region)
	if !ok {
		return 0
	}

	stops, _ := l.api.Stops(ctx, poly, m.APIString())
	return submit(ctx, l.log, "stop", m, stops,
		func(s *policeapi.Stop) []any { return record.StopFields(s) },
		func(s *policeapi.Stop) string { return s.Datetime.String() },
		l.store.PostStop)
}

// submit maps and stores each record, returning how many were processed.
func submit[T any](
	ctx context.Context,
	log *zap.Logger,
	kind string,
	m period.Month,
	items []T,
	fields func(*T) []any,
	ident func(*T) string,
	post func(context.Context, []any) error,
) int {
	var failed int
	for i := range items {
		if ctx.Err() != nil {
			log.Warn("load interrupted", zap.String("kind", kind), zap.Int("processed", i), zap.Error(ctx.Err()))
			return i
		}
		if err := post(ctx, fields(&items[i])); err != nil {
			failed++
			log.Warn(fmt.Sprintf("store %s failed", kind),
				zap.String("id", ident(&items[i])),
				zap.Int("index", i),
				zap.Error(err),
			)
		}
	}

	log.Info(kind+"s loaded",
		zap.String("month", m.APIString()),
		zap.Int("fetched", len(items)),
		zap.Int("failed", failed),
	)
	return len(items)
}
