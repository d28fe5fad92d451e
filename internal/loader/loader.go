// Package loader moves one kind of upstream data into storage: the
// per-month category and fact loaders, and the force/neighbourhood loader
// that builds the reference entities for a region.
package loader

import (
	"context"
	"time"

	"github.com/sells-group/police-sync/internal/policeapi"
	"github.com/sells-group/police-sync/internal/store"
)

// PeriodAPI is the part of the API client used by PeriodLoader.
type PeriodAPI interface {
	CrimeCategories(ctx context.Context, month string) ([]policeapi.CrimeCategory, bool)
	StreetCrimes(ctx context.Context, poly, month string) ([]policeapi.Crime, bool)
	Outcomes(ctx context.Context, poly, month string) ([]policeapi.Outcome, bool)
	Stops(ctx context.Context, poly, month string) ([]policeapi.Stop, bool)
}

// PeriodStore is the part of the store used by PeriodLoader.
type PeriodStore interface {
	PoliceString(ctx context.Context, region string, g store.Geometry) (string, error)
	CategoryExists(ctx context.Context, field, value string) (bool, error)
	PostCategory(ctx context.Context, fields []any) (int64, error)
	store.Facts
}

// ForceAPI is the part of the API client used by ForceLoader.
type ForceAPI interface {
	LocateNeighbourhood(ctx context.Context, point string) (*policeapi.Located, bool)
	Force(ctx context.Context, id string) (*policeapi.Force, bool)
	ForceNeighbourhoods(ctx context.Context, force string) ([]policeapi.NeighbourhoodRef, bool)
	Neighbourhood(ctx context.Context, force, id string) (*policeapi.Neighbourhood, bool)
	Boundary(ctx context.Context, force, id string) ([]policeapi.LatLng, bool)
}

// ForceStore is the part of the store used by ForceLoader.
type ForceStore interface {
	store.Geo
	store.Catalog
}

// Clock returns the current time.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
