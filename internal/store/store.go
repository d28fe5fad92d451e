// Package store persists police data through the database's stored
// functions and procedures.
package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a lookup yields no row or a NULL value.
var ErrNotFound = eris.New("store: not found")

// Geometry selects which geometry of a region is converted for the API.
type Geometry int

const (
	// MBR is the region's minimum bounding rectangle.
	MBR Geometry = iota
	// Centre is the region's centre point.
	Centre
)

func (g Geometry) String() string {
	if g == Centre {
		return "centre_point"
	}
	return "mbr_polygon"
}

// Variables is the key/value store holding the watermark, run lock and
// sanity result.
type Variables interface {
	// GetVariable returns the value of name; ok is false when it is unset.
	GetVariable(ctx context.Context, name string) (value string, ok bool, err error)
	PostVariable(ctx context.Context, name, value string) error
	PutVariable(ctx context.Context, name, value string) error
	DeleteVariable(ctx context.Context, name string) error
}

// Geo is the spatial side of the store.
type Geo interface {
	// PoliceString converts a region geometry into the API's "lat,lng[:lat,lng...]" form.
	PoliceString(ctx context.Context, region string, g Geometry) (string, error)
	// SRID is the spatial reference used for stored polygons.
	SRID(ctx context.Context) (int, error)
	// SetPlacePolygon stores a neighbourhood boundary given as WKT.
	SetPlacePolygon(ctx context.Context, identifier, wkt string, srid int) error
}

// Catalog holds the reference entities: organisations, places and categories.
type Catalog interface {
	PlaceExists(ctx context.Context, field, value string) (bool, error)
	CategoryExists(ctx context.Context, field, value string) (bool, error)
	// OrganisationIDs returns the ids of organisations whose field equals value.
	OrganisationIDs(ctx context.Context, field, value string) ([]int64, error)
	PostOrganisation(ctx context.Context, fields []any) (int64, error)
	PostPlace(ctx context.Context, fields []any) (int64, error)
	PostCategory(ctx context.Context, fields []any) (int64, error)
	PostRelation(ctx context.Context, fromID, toID int64) error
	PostExtension(ctx context.Context, ownerID int64, key string, value any) error
}

// Facts receives crime, outcome and stop records.
type Facts interface {
	PostCrime(ctx context.Context, fields []any) error
	PostOutcome(ctx context.Context, fields []any) error
	PostStop(ctx context.Context, fields []any) error
}

// Store is the full persistence surface used by a sync run.
type Store interface {
	Variables
	Geo
	Catalog
	Facts

	// SanityCheck runs the database's post-load consistency check.
	SanityCheck(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close() error
}
